package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine fault variants. The caller decides what each one means for its
// window; the dispatcher treats both as "no transcript this time" and keeps
// the session alive.
var (
	// ErrUnavailable indicates the engine could not be reached or refused
	// to serve the request.
	ErrUnavailable = errors.New("transcription engine unavailable")

	// ErrNoSpeech indicates the engine processed the audio but found
	// nothing to transcribe.
	ErrNoSpeech = errors.New("no speech detected")
)

// Segment is one timed span of transcribed text as returned by the engine.
type Segment struct {
	Text         string  `json:"text"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Result is the outcome of one transcription call.
type Result struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"` // audio duration in seconds, as reported
}

// Options are opaque tuning knobs forwarded to the engine. None of them
// change how the caller buffers or schedules audio.
type Options struct {
	Language  string
	BeamSize  int
	VADFilter bool
}

// Engine transcribes one self-describing WAV payload into timed segments.
// Implementations must be safe for concurrent use; the streaming dispatcher
// calls Transcribe from a shared worker pool.
type Engine interface {
	// Transcribe runs one inference over wav. It returns ErrNoSpeech when
	// the engine produced no usable segments and ErrUnavailable when the
	// engine could not serve the request at all.
	Transcribe(ctx context.Context, wav []byte, opts Options) (*Result, error)

	// Describe returns a short human-readable engine descriptor for
	// health reporting and logs.
	Describe() string

	Close() error
}

// Config selects and configures an engine implementation.
type Config struct {
	Provider string        // "http" or "openai"
	Endpoint string        // HTTP provider endpoint
	APIKey   string        // bearer token / OpenAI key
	Model    string        // model identifier, provider-specific
	Timeout  time.Duration // per-request timeout
}

// New constructs the configured engine implementation. The handle is built
// once at startup and injected into everything that needs it; there is no
// process-wide engine singleton.
func New(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPClient(cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
