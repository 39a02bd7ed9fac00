package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// HTTPClient talks to a whisper-server style transcription endpoint: one
// multipart POST per window carrying the WAV payload and tuning fields,
// JSON segments back. Windows are never retried here; a failed window is
// superseded by the next scheduled one.
type HTTPClient struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents engine client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// httpResponse mirrors the verbose JSON shape served by whisper-server
// style endpoints.
type httpResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// NewHTTPClient creates a transcription client for an HTTP engine endpoint.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPClient{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

// Transcribe sends one WAV payload for transcription.
func (c *HTTPClient) Transcribe(ctx context.Context, wav []byte, opts Options) (*Result, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	result, err := c.doRequest(ctx, wav, opts)
	if err != nil {
		// ErrNoSpeech is a normal outcome, not an engine fault.
		if errors.Is(err, ErrNoSpeech) {
			c.recordSuccess(time.Since(startTime))
		} else {
			c.incrementFailedRequests()
		}
		return nil, err
	}

	c.recordSuccess(time.Since(startTime))
	return result, nil
}

// Describe returns the engine descriptor for health reporting.
func (c *HTTPClient) Describe() string {
	if c.config.Model != "" {
		return fmt.Sprintf("http (%s, %s)", c.config.Endpoint, c.config.Model)
	}
	return fmt.Sprintf("http (%s)", c.config.Endpoint)
}

// doRequest performs a single HTTP request to the transcription endpoint.
func (c *HTTPClient) doRequest(ctx context.Context, wav []byte, opts Options) (*Result, error) {
	body, contentType, err := c.createMultipartRequest(wav, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed httpResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if len(parsed.Segments) == 0 && parsed.Text == "" {
		return nil, ErrNoSpeech
	}

	result := &Result{
		Language: parsed.Language,
		Duration: parsed.Duration,
		Segments: make([]Segment, 0, len(parsed.Segments)),
	}

	for _, s := range parsed.Segments {
		result.Segments = append(result.Segments, Segment{
			Text:         s.Text,
			Start:        s.Start,
			End:          s.End,
			NoSpeechProb: s.NoSpeechProb,
		})
	}

	// Some endpoints return only the concatenated text.
	if len(result.Segments) == 0 {
		result.Segments = append(result.Segments, Segment{
			Text: parsed.Text,
			End:  parsed.Duration,
		})
	}

	return result, nil
}

// createMultipartRequest creates a multipart/form-data request body.
func (c *HTTPClient) createMultipartRequest(wav []byte, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
	}

	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.BeamSize > 0 {
		fields["beam_size"] = strconv.Itoa(opts.BeamSize)
	}
	if opts.VADFilter {
		fields["vad_filter"] = "true"
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *HTTPClient) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *HTTPClient) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *HTTPClient) recordSuccess(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close shuts down the client's idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
