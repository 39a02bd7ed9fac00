package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nadhilrobomiracle/stt/internal/audio"
	"github.com/nadhilrobomiracle/stt/internal/engine"
	"github.com/nadhilrobomiracle/stt/internal/stream"
)

// transcribeResponse is the reply of the single-file transcription path.
type transcribeResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration"`
}

// handleTranscribe implements POST /transcribe: accept one audio file of
// any common container format, normalize it to canonical PCM WAV through
// ffmpeg, run a single inference and return the filtered text. This path
// has no session state; each request stands alone.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	uploadCfg := h.config.Upload

	r.Body = http.MaxBytesReader(w, r.Body, uploadCfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing or unreadable 'file' form field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".webm"
	}

	// Temporary files are scoped to this request and removed on every
	// exit path.
	id := uuid.NewString()
	inputPath := filepath.Join(uploadCfg.TempDir, id+ext)
	wavPath := filepath.Join(uploadCfg.TempDir, id+".wav")
	defer func() {
		_ = os.Remove(inputPath)
		_ = os.Remove(wavPath)
	}()

	written, err := saveUpload(inputPath, file)
	if err != nil {
		h.logger.Error("Failed to save upload", slog.String("error", err.Error()))
		http.Error(w, "Failed to store uploaded file", http.StatusInternalServerError)
		return
	}

	if written < uploadCfg.MinSizeBytes {
		h.logger.Warn("Rejected empty/small audio file",
			slog.Int64("size_bytes", written),
		)
		http.Error(w, "Audio file too small or empty", http.StatusBadRequest)
		return
	}

	if err := audio.NormalizeToWAV(r.Context(), uploadCfg.FFmpegPath, inputPath, wavPath); err != nil {
		h.logger.Warn("Audio conversion failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Invalid audio format", http.StatusBadRequest)
		return
	}

	wavData, err := os.ReadFile(wavPath)
	if err != nil {
		h.logger.Error("Failed to read converted audio", slog.String("error", err.Error()))
		http.Error(w, "Transcription failed", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(wavData)
	if err != nil {
		http.Error(w, "Invalid audio format", http.StatusBadRequest)
		return
	}
	duration := info.Duration

	if duration > uploadCfg.MaxDuration {
		h.logger.Warn("Audio too long",
			slog.Float64("duration", duration),
			slog.Float64("max_duration", uploadCfg.MaxDuration),
		)
		http.Error(w, "Audio too long", http.StatusRequestEntityTooLarge)
		return
	}

	opts := engine.Options{
		Language: h.config.Engine.Language,
		BeamSize: h.config.Engine.BeamSize,
		// Long clips skip the VAD filter so mid-speech pauses are not
		// cut out of continuous recordings.
		VADFilter: h.config.Engine.VADFilter && duration <= h.config.Engine.VADMaxSec,
	}

	result, err := h.engine.Transcribe(r.Context(), wavData, opts)

	resp := transcribeResponse{Duration: duration}

	switch {
	case err == nil:
		resp.Text = stream.CleanSegments(result.Segments)
		resp.Language = result.Language

	case errors.Is(err, engine.ErrNoSpeech):
		// Silence in, empty text out.

	default:
		h.logger.Error("Upload transcription failed",
			slog.String("filename", header.Filename),
			slog.Float64("duration", duration),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Transcription failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordUpload(time.Since(start).Seconds())

	h.logger.Info("File transcribed",
		slog.String("filename", header.Filename),
		slog.Float64("duration", duration),
		slog.String("language", resp.Language),
		slog.Int("text_length", len(resp.Text)),
	)

	writeJSON(w, http.StatusOK, resp)
}

// saveUpload streams the multipart file to disk and returns the byte count.
func saveUpload(path string, src io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	return written, err
}
