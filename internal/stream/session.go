package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/nadhilrobomiracle/stt/internal/audio"
	"github.com/nadhilrobomiracle/stt/internal/engine"
)

// Sender is the session's view of its transport: deliver one transcript,
// or tear the transport down. Implementations must serialize their own
// writes.
type Sender interface {
	Send(text string) error
	Close() error
}

// Session is the per-connection transcription state machine. One goroutine
// (the transport read loop) calls HandleChunk; inference runs on the
// manager's shared worker pool. At most one inference is in flight per
// session at any instant.
type Session struct {
	ID        string
	StartTime time.Time

	buffer  *audio.Buffer
	sender  Sender
	manager *Manager

	mu           sync.Mutex
	lastActivity time.Time
	lastDispatch time.Time
	lastEmitted  string
	inflight     bool
	closed       bool

	// In-flight inference tracking; Close lets pending work finish in the
	// background and releases the buffer afterwards.
	pending sync.WaitGroup

	// Statistics
	chunksReceived uint64
	bytesReceived  uint64
	dispatches     uint64
	engineFailures uint64
	emitted        uint64
	suppressed     uint64
}

// SessionInfo represents session state for the monitoring API.
type SessionInfo struct {
	ID             string        `json:"id"`
	StartTime      time.Time     `json:"start_time"`
	LastActivity   time.Time     `json:"last_activity"`
	Duration       time.Duration `json:"duration"`
	BufferedBytes  int           `json:"buffered_bytes"`
	BufferedAudio  float64       `json:"buffered_audio_seconds"`
	ChunksReceived uint64        `json:"chunks_received"`
	BytesReceived  uint64        `json:"bytes_received"`
	Dispatches     uint64        `json:"dispatches"`
	EngineFailures uint64        `json:"engine_failures"`
	Emitted        uint64        `json:"transcripts_emitted"`
	Suppressed     uint64        `json:"transcripts_suppressed"`
	Inflight       bool          `json:"inflight"`
}

// HandleChunk ingests one inbound audio chunk: append, enforce the cap,
// evaluate the trigger, and if it fires, snapshot the window, trim to the
// overlap and hand the window to the worker pool. The caller's read loop
// is never blocked by inference.
func (s *Session) HandleChunk(chunk []byte) {
	now := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.buffer.Append(chunk)
	s.lastActivity = now
	s.chunksReceived++
	s.bytesReceived += uint64(len(chunk))

	if s.manager.metrics != nil {
		s.manager.metrics.RecordChunk(len(chunk))
	}

	// Transports may split frames mid-sample; only whole samples count
	// toward the dispatch threshold and get dispatched.
	buffered := s.buffer.Len()
	buffered -= buffered % audio.BytesPerSample

	if s.inflight || !s.manager.scheduler.ShouldDispatch(now, s.lastDispatch, buffered) {
		s.mu.Unlock()
		return
	}

	s.inflight = true
	s.lastDispatch = now
	s.dispatches++

	window := s.buffer.Snapshot()
	if rem := len(window) % audio.BytesPerSample; rem != 0 {
		// The odd trailing byte stays behind and rides into the next
		// window with the overlap.
		window = window[:len(window)-rem]
	}
	s.buffer.TrimToOverlap()

	s.pending.Add(1)
	s.mu.Unlock()

	go s.runInference(window)
}

// runInference executes one engine call for a dispatched window on the
// shared worker pool. Engine faults never terminate the session; the
// window simply produces no transcript and is superseded by the next one.
func (s *Session) runInference(window []byte) {
	defer s.pending.Done()
	defer func() {
		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
	}()

	m := s.manager

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-m.ctx.Done():
		return
	}

	wav, err := audio.EncodeWAV(window, audio.SampleRate)
	if err != nil {
		m.logger.Error("Failed to frame audio window",
			slog.String("session_id", s.ID),
			slog.Int("window_bytes", len(window)),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	result, err := m.engine.Transcribe(ctx, wav, m.cfg.EngineOptions)
	elapsed := time.Since(start)

	if m.metrics != nil {
		m.metrics.RecordDispatch(len(window), elapsed.Seconds())
	}

	var text string
	switch {
	case err == nil:
		text = CleanSegments(result.Segments)

	case errors.Is(err, engine.ErrNoSpeech):
		if m.metrics != nil {
			m.metrics.RecordNoSpeech()
		}

	default:
		s.mu.Lock()
		s.engineFailures++
		s.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordEngineFailure()
		}
		sentry.CaptureException(err)

		m.logger.Warn("Inference failed, window dropped",
			slog.String("session_id", s.ID),
			slog.Int("window_bytes", len(window)),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	}

	s.emit(text)
}

// emit delivers text to the client. It returns false and suppresses the
// send when the text is empty, repeats the previous transcript, or the
// session has closed. A client never receives an empty transcript, two
// identical consecutive transcripts, or anything after close.
func (s *Session) emit(text string) bool {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return false
	}

	if text == "" || text == s.lastEmitted {
		s.suppressed++
		if s.manager.metrics != nil {
			s.manager.metrics.RecordEmission(false)
		}
		s.mu.Unlock()
		return false
	}

	s.lastEmitted = text
	s.emitted++
	if s.manager.metrics != nil {
		s.manager.metrics.RecordEmission(true)
	}
	sender := s.sender
	s.mu.Unlock()

	// The write runs outside the session lock: a stalled client transport
	// must not block monitoring reads, the reaper, or session admission.
	// A failed write means the transport is dying; the read loop will
	// observe it and close the session.
	if err := sender.Send(text); err != nil {
		s.manager.logger.Debug("Transcript send failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	return true
}

// close marks the session closed and tears down its transport. Any
// in-flight inference finishes in the background; its result is discarded
// by emit, and the buffer is released once it completes. close is
// idempotent; it reports whether this call performed the transition.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.sender.Close()

	go func() {
		s.pending.Wait()
		s.buffer.Reset()
	}()

	return true
}

// LastActivity returns the time of the most recent inbound chunk.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Info returns a snapshot of the session for the monitoring API.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	bufferedBytes := s.buffer.Len()

	return SessionInfo{
		ID:             s.ID,
		StartTime:      s.StartTime,
		LastActivity:   s.lastActivity,
		Duration:       time.Since(s.StartTime),
		BufferedBytes:  bufferedBytes,
		BufferedAudio:  audio.PCMDuration(bufferedBytes).Seconds(),
		ChunksReceived: s.chunksReceived,
		BytesReceived:  s.bytesReceived,
		Dispatches:     s.dispatches,
		EngineFailures: s.engineFailures,
		Emitted:        s.emitted,
		Suppressed:     s.suppressed,
		Inflight:       s.inflight,
	}
}
