package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nadhilrobomiracle/stt/internal/audio"
)

// Config represents the complete service configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Streaming StreamingConfig `yaml:"streaming"`
	Engine    EngineConfig    `yaml:"engine"`
	Upload    UploadConfig    `yaml:"upload"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

// HTTPConfig contains the HTTP/websocket server configuration
type HTTPConfig struct {
	Address      string `yaml:"address"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds, non-stream endpoints
	WriteTimeout int    `yaml:"write_timeout"` // seconds, non-stream endpoints
}

// StreamingConfig contains the windowing and dispatch policy for live
// streams. The byte thresholds are canonical-PCM byte counts (32000
// bytes/s); the defaults correspond to 0.6 s / 0.5 s / 3 s.
type StreamingConfig struct {
	DispatchInterval float64 `yaml:"dispatch_interval"` // seconds between dispatch attempts
	MinDispatchBytes int     `yaml:"min_dispatch_bytes"`
	KeepBytes        int     `yaml:"keep_bytes"`
	MaxBufferBytes   int     `yaml:"max_buffer_bytes"`
	DispatchTimeout  int     `yaml:"dispatch_timeout"` // seconds, per inference call
	Workers          int     `yaml:"workers"`          // 0 = number of CPU cores
	IdleTimeout      int     `yaml:"idle_timeout"`     // seconds before an inactive session is reaped
	MaxSessions      int     `yaml:"max_sessions"`
}

// EngineConfig contains the speech-to-text engine configuration
type EngineConfig struct {
	Provider  string  `yaml:"provider"` // "http" or "openai"
	Endpoint  string  `yaml:"endpoint"`
	APIKey    string  `yaml:"api_key"`
	Model     string  `yaml:"model"`
	Timeout   int     `yaml:"timeout"` // seconds
	Language  string  `yaml:"language"`
	BeamSize  int     `yaml:"beam_size"`
	VADFilter bool    `yaml:"vad_filter"`
	VADMaxSec float64 `yaml:"vad_max_duration"` // uploads longer than this skip the VAD filter
}

// UploadConfig contains the single-file transcription endpoint configuration
type UploadConfig struct {
	TempDir        string  `yaml:"temp_dir"`
	FFmpegPath     string  `yaml:"ffmpeg_path"`
	MinSizeBytes   int64   `yaml:"min_size_bytes"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	MaxDuration    float64 `yaml:"max_duration"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SentryConfig contains optional error reporting configuration
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Default returns the built-in configuration. The streaming thresholds were
// tuned empirically against small whisper models; re-tune per deployment.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Streaming: StreamingConfig{
			DispatchInterval: 0.9,
			MinDispatchBytes: audio.BytesForDuration(600 * time.Millisecond), // 19200
			KeepBytes:        audio.BytesForDuration(500 * time.Millisecond), // 16000
			MaxBufferBytes:   audio.BytesForDuration(3 * time.Second),        // 96000
			DispatchTimeout:  30,
			Workers:          0,
			IdleTimeout:      60,
			MaxSessions:      256,
		},
		Engine: EngineConfig{
			Provider:  "http",
			Endpoint:  "http://127.0.0.1:9000/transcribe",
			Timeout:   30,
			BeamSize:  3,
			VADFilter: true,
			VADMaxSec: 15,
		},
		Upload: UploadConfig{
			TempDir:        os.TempDir(),
			FFmpegPath:     "ffmpeg",
			MinSizeBytes:   2048,
			MaxUploadBytes: 32 << 20,
			MaxDuration:    60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file over the built-in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP server configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	return nil
}

// Validate validates streaming configuration. The threshold ordering is a
// configuration fault, fatal at startup, never a runtime condition.
func (s *StreamingConfig) Validate() error {
	if s.DispatchInterval <= 0 {
		return fmt.Errorf("dispatch_interval must be positive, got %f", s.DispatchInterval)
	}

	if s.KeepBytes < 0 {
		return fmt.Errorf("keep_bytes cannot be negative, got %d", s.KeepBytes)
	}

	if s.MinDispatchBytes < 1 {
		return fmt.Errorf("min_dispatch_bytes must be at least 1, got %d", s.MinDispatchBytes)
	}

	if s.KeepBytes >= s.MinDispatchBytes {
		return fmt.Errorf("keep_bytes (%d) must be less than min_dispatch_bytes (%d)",
			s.KeepBytes, s.MinDispatchBytes)
	}

	if s.MinDispatchBytes >= s.MaxBufferBytes {
		return fmt.Errorf("min_dispatch_bytes (%d) must be less than max_buffer_bytes (%d)",
			s.MinDispatchBytes, s.MaxBufferBytes)
	}

	if s.DispatchTimeout < 1 {
		return fmt.Errorf("dispatch_timeout must be at least 1 second, got %d", s.DispatchTimeout)
	}

	if s.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", s.Workers)
	}

	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	switch e.Provider {
	case "http":
		if e.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
		if e.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the openai provider")
		}
	default:
		return fmt.Errorf("provider must be 'http' or 'openai', got '%s'", e.Provider)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.BeamSize < 1 {
		return fmt.Errorf("beam_size must be at least 1, got %d", e.BeamSize)
	}

	if e.VADMaxSec < 0 {
		return fmt.Errorf("vad_max_duration cannot be negative, got %f", e.VADMaxSec)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if u.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}

	if u.MinSizeBytes < 0 {
		return fmt.Errorf("min_size_bytes cannot be negative, got %d", u.MinSizeBytes)
	}

	if u.MaxUploadBytes <= u.MinSizeBytes {
		return fmt.Errorf("max_upload_bytes (%d) must be greater than min_size_bytes (%d)",
			u.MaxUploadBytes, u.MinSizeBytes)
	}

	if u.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be positive, got %f", u.MaxDuration)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetDispatchInterval returns the dispatch interval as a time.Duration
func (s *StreamingConfig) GetDispatchInterval() time.Duration {
	return time.Duration(s.DispatchInterval * float64(time.Second))
}

// GetDispatchTimeout returns the per-inference timeout as a time.Duration
func (s *StreamingConfig) GetDispatchTimeout() time.Duration {
	return time.Duration(s.DispatchTimeout) * time.Second
}

// GetIdleTimeout returns the session idle timeout as a time.Duration
func (s *StreamingConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetWorkers returns the inference worker pool size, defaulting to the
// number of CPU cores.
func (s *StreamingConfig) GetWorkers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return runtime.NumCPU()
}

// GetTimeout returns the engine request timeout as a time.Duration
func (e *EngineConfig) GetTimeout() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}
