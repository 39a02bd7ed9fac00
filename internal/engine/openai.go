package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient runs transcription through the OpenAI audio API. It maps the
// verbose JSON response onto the same Result the HTTP provider produces, so
// the dispatcher cannot tell the two apart.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-backed engine.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty for the openai provider")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Transcribe sends one WAV payload through the OpenAI audio API.
func (c *OpenAIClient) Transcribe(ctx context.Context, wav []byte, opts Options) (*Result, error) {
	req := openai.AudioRequest{
		Model:    c.model,
		Reader:   bytes.NewReader(wav),
		FilePath: "audio.wav",
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: opts.Language,
	}

	resp, err := c.client.CreateTranscription(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return nil, fmt.Errorf("transcription request rejected: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(resp.Segments) == 0 && resp.Text == "" {
		return nil, ErrNoSpeech
	}

	result := &Result{
		Language: resp.Language,
		Duration: resp.Duration,
		Segments: make([]Segment, 0, len(resp.Segments)),
	}

	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, Segment{
			Text:         s.Text,
			Start:        s.Start,
			End:          s.End,
			NoSpeechProb: s.NoSpeechProb,
		})
	}

	if len(result.Segments) == 0 {
		result.Segments = append(result.Segments, Segment{
			Text: resp.Text,
			End:  resp.Duration,
		})
	}

	return result, nil
}

// Describe returns the engine descriptor for health reporting.
func (c *OpenAIClient) Describe() string {
	return fmt.Sprintf("openai (%s)", c.model)
}

// Close is a no-op; the underlying client holds no persistent resources.
func (c *OpenAIClient) Close() error {
	return nil
}
