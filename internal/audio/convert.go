package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// NormalizeToWAV converts an uploaded audio file of any container format
// (webm, mp3, m4a, ogg, wav, ...) into a canonical-PCM WAV file using an
// external ffmpeg binary. The streaming path never goes through here; it
// receives canonical PCM directly.
func NormalizeToWAV(ctx context.Context, ffmpegPath, inputPath, outputPath string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return fmt.Errorf("ffmpeg conversion failed: %w: %s", err, msg)
	}

	return nil
}
