package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

const wavHeaderSize = 44

// EncodeWAV wraps raw canonical PCM bytes into a minimal mono 16-bit WAV
// container with an exact computed header. The framer is stateless; the
// result is handed straight to the engine, never written to disk.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio payload")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM payload must be sample-aligned, got %d bytes", len(pcm))
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(pcm))
	fileSize := 36 + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	buf.Write(pcm)

	return buf.Bytes(), nil
}

// riffFormat holds the fields recovered while walking a RIFF file's chunks.
type riffFormat struct {
	audioFormat   uint16
	numChannels   uint16
	sampleRate    uint32
	blockAlign    uint16
	bitsPerSample uint16
	dataOffset    int
	dataSize      int
}

// parseRIFF walks the chunk list of a RIFF/WAVE file and returns the fmt
// fields and the location of the data payload. Encoders are free to insert
// extra chunks between fmt and data (ffmpeg's muxer writes a LIST/INFO
// chunk there), so the walk skips anything it does not recognize instead
// of assuming fixed offsets.
func parseRIFF(data []byte) (*riffFormat, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var f riffFormat
	haveFmt := false
	haveData := false

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if size < 0 {
			return nil, fmt.Errorf("invalid WAV file: negative chunk size in %q", id)
		}

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: malformed fmt chunk")
			}
			f.audioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			f.numChannels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			f.sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			f.blockAlign = binary.LittleEndian.Uint16(data[body+12 : body+14])
			f.bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true

		case "data":
			if size > len(data)-body {
				return nil, fmt.Errorf("truncated WAV data: header declares %d payload bytes, have %d",
					size, len(data)-body)
			}
			f.dataOffset = body
			f.dataSize = size
			haveData = true
		}

		if haveFmt && haveData {
			return &f, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		offset = body + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// DecodeWAV extracts the raw PCM payload and sample rate from WAV data.
func DecodeWAV(data []byte) ([]byte, int, error) {
	f, err := parseRIFF(data)
	if err != nil {
		return nil, 0, err
	}

	if f.audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", f.audioFormat)
	}

	if f.bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", f.bitsPerSample)
	}

	if f.numChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", f.numChannels)
	}

	pcm := make([]byte, f.dataSize)
	copy(pcm, data[f.dataOffset:f.dataOffset+f.dataSize])

	return pcm, int(f.sampleRate), nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	_, err := parseRIFF(data)
	return err
}

// WAVInfo contains basic metadata about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	f, err := parseRIFF(data)
	if err != nil {
		return nil, err
	}

	if f.sampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if f.blockAlign == 0 {
		return nil, fmt.Errorf("invalid block align: 0")
	}
	if f.bitsPerSample < 8 {
		return nil, fmt.Errorf("invalid bit depth: %d", f.bitsPerSample)
	}

	numSamples := uint32(f.dataSize) / (uint32(f.bitsPerSample) / 8)
	numFrames := uint32(f.dataSize) / uint32(f.blockAlign)

	return &WAVInfo{
		SampleRate:    f.sampleRate,
		Channels:      f.numChannels,
		BitsPerSample: f.bitsPerSample,
		Duration:      float64(numFrames) / float64(f.sampleRate),
		DataSize:      uint32(f.dataSize),
		NumSamples:    numSamples,
	}, nil
}
