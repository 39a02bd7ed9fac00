package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nadhilrobomiracle/stt/internal/engine"
)

// fakeEngine returns canned results for inference calls.
type fakeEngine struct {
	mu        sync.Mutex
	calls     int
	transcribe func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error)
}

func (f *fakeEngine) Transcribe(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.transcribe(ctx, wav, opts)
}

func (f *fakeEngine) Describe() string { return "fake" }
func (f *fakeEngine) Close() error     { return nil }

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSender records emitted transcripts.
type fakeSender struct {
	mu     sync.Mutex
	texts  []string
	closed bool
}

func (f *fakeSender) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func textResult(text string) *engine.Result {
	return &engine.Result{
		Segments: []engine.Segment{{Text: text, End: 1.0}},
		Language: "en",
		Duration: 1.0,
	}
}

// newTestManager builds a manager with thresholds small enough for tests to
// drive dispatches deterministically. The interval gate is disabled so every
// sufficiently full chunk dispatches.
func newTestManager(t *testing.T, eng engine.Engine) *Manager {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := NewManager(logger, eng, Config{
		DispatchInterval: 0,
		MinDispatchBytes: 8,
		KeepBytes:        4,
		MaxBufferBytes:   1024,
		DispatchTimeout:  5 * time.Second,
		Workers:          2,
		IdleTimeout:      time.Minute,
		MaxSessions:      8,
	}, nil)

	t.Cleanup(mgr.Stop)
	return mgr
}

func TestSessionDispatchEmitsTranscript(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("hello world"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.HandleChunk(make([]byte, 16))
	session.pending.Wait()

	texts := sender.sent()
	if len(texts) != 1 || texts[0] != "hello world" {
		t.Errorf("Expected one transcript 'hello world', got %v", texts)
	}

	info := session.Info()
	if info.Dispatches != 1 {
		t.Errorf("Expected 1 dispatch, got %d", info.Dispatches)
	}
	if info.Emitted != 1 {
		t.Errorf("Expected 1 emission, got %d", info.Emitted)
	}
}

func TestSessionSingleInflight(t *testing.T) {
	release := make(chan struct{})
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			<-release
			return textResult("done"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// First chunk dispatches and blocks inside the engine.
	session.HandleChunk(make([]byte, 16))

	// Further chunks satisfy both thresholds but must not dispatch while
	// the first window is in flight.
	session.HandleChunk(make([]byte, 16))
	session.HandleChunk(make([]byte, 16))

	if info := session.Info(); info.Dispatches != 1 {
		t.Errorf("Expected 1 dispatch while in flight, got %d", info.Dispatches)
	}

	close(release)
	session.pending.Wait()

	// With the flight over, the next chunk dispatches again.
	session.HandleChunk(make([]byte, 16))
	session.pending.Wait()

	if info := session.Info(); info.Dispatches != 2 {
		t.Errorf("Expected 2 dispatches total, got %d", info.Dispatches)
	}
}

func TestSessionDedupesConsecutiveTranscripts(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("same text"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		session.HandleChunk(make([]byte, 16))
		session.pending.Wait()
	}

	texts := sender.sent()
	if len(texts) != 1 {
		t.Fatalf("Expected identical transcripts to be suppressed, got %v", texts)
	}

	info := session.Info()
	if info.Suppressed != 2 {
		t.Errorf("Expected 2 suppressed emissions, got %d", info.Suppressed)
	}
}

func TestSessionChangedTranscriptEmits(t *testing.T) {
	eng := &fakeEngine{}
	eng.transcribe = func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
		return textResult(fmt.Sprintf("text %d", eng.callCount())), nil
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		session.HandleChunk(make([]byte, 16))
		session.pending.Wait()
	}

	if texts := sender.sent(); len(texts) != 3 {
		t.Errorf("Expected 3 distinct transcripts, got %v", texts)
	}
}

func TestSessionEngineFailureKeepsSessionAlive(t *testing.T) {
	failing := true
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			if failing {
				return nil, fmt.Errorf("%w: connection refused", engine.ErrUnavailable)
			}
			return textResult("recovered"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.HandleChunk(make([]byte, 16))
	session.pending.Wait()

	if texts := sender.sent(); len(texts) != 0 {
		t.Errorf("Expected no transcript after engine fault, got %v", texts)
	}

	info := session.Info()
	if info.EngineFailures != 1 {
		t.Errorf("Expected 1 engine failure, got %d", info.EngineFailures)
	}
	if sender.isClosed() {
		t.Error("Engine fault must not close the session")
	}

	// The session keeps working once the engine recovers.
	failing = false
	session.HandleChunk(make([]byte, 16))
	session.pending.Wait()

	if texts := sender.sent(); len(texts) != 1 || texts[0] != "recovered" {
		t.Errorf("Expected recovery transcript, got %v", texts)
	}
}

func TestSessionNoSpeechSuppressed(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return nil, engine.ErrNoSpeech
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.HandleChunk(make([]byte, 16))
	session.pending.Wait()

	if texts := sender.sent(); len(texts) != 0 {
		t.Errorf("Expected no transcript for silence, got %v", texts)
	}

	if info := session.Info(); info.EngineFailures != 0 {
		t.Errorf("No-speech must not count as an engine failure, got %d", info.EngineFailures)
	}
}

func TestSessionPunctuationOnlySuppressed(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return &engine.Result{
				Segments: []engine.Segment{{Text: "..."}, {Text: "?"}},
			}, nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.HandleChunk(make([]byte, 16))
	session.pending.Wait()

	if texts := sender.sent(); len(texts) != 0 {
		t.Errorf("Expected punctuation-only result to be suppressed, got %v", texts)
	}
}

func TestSessionCloseDiscardsInflightResult(t *testing.T) {
	release := make(chan struct{})
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			<-release
			return textResult("too late"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.HandleChunk(make([]byte, 16))

	if !mgr.CloseSession(session.ID) {
		t.Fatal("CloseSession returned false for a live session")
	}

	if !sender.isClosed() {
		t.Error("Expected the transport to be closed")
	}

	close(release)
	session.pending.Wait()

	if texts := sender.sent(); len(texts) != 0 {
		t.Errorf("Expected in-flight result to be discarded after close, got %v", texts)
	}
}

// stallingSender simulates a client that stops draining its connection:
// Send signals entry and then parks until released.
type stallingSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	closed  bool
	mu      sync.Mutex
}

func (s *stallingSender) Send(text string) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return nil
}

func (s *stallingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestStalledSenderDoesNotBlockOtherSessions(t *testing.T) {
	sender := &stallingSender{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("stuck in transit"), nil
		},
	}
	mgr := newTestManager(t, eng)

	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.HandleChunk(make([]byte, 16))
	<-sender.started // the worker is now parked inside Send

	// Session management must stay responsive while the write is stuck:
	// monitoring reads, the reaper sweep, and admission of new sessions.
	done := make(chan struct{})
	go func() {
		defer close(done)

		_ = session.LastActivity()
		_ = session.Info()
		mgr.reapIdleSessions()

		if _, err := mgr.CreateSession(&fakeSender{}); err != nil {
			t.Errorf("CreateSession failed during stalled write: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("A stalled client write blocked session management")
	}

	close(sender.release)
	session.pending.Wait()
}

func TestSessionOddChunkAlignment(t *testing.T) {
	windowSizes := make(chan int, 1)
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			windowSizes <- len(wav)
			return textResult("ok"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// A transport that splits frames mid-sample produces an odd buffer
	// length. The window must still dispatch, truncated to whole samples,
	// with the odd byte held back in the buffer.
	session.HandleChunk(make([]byte, 9))
	session.pending.Wait()

	select {
	case size := <-windowSizes:
		if size != 44+8 {
			t.Errorf("Expected a 8-byte PCM window (52-byte WAV), got %d bytes", size)
		}
	default:
		t.Fatal("Expected a dispatch for the odd-length buffer")
	}

	info := session.Info()
	if info.EngineFailures != 0 {
		t.Errorf("Odd-length buffer must not fail the window, got %d failures", info.EngineFailures)
	}
	if info.Dispatches != 1 {
		t.Errorf("Expected 1 dispatch, got %d", info.Dispatches)
	}

	// keep_bytes is 4 here, so the overlap (including the held-back odd
	// byte) survives the trim.
	if got := session.buffer.Len(); got != 4 {
		t.Errorf("Expected buffer trimmed to 4 bytes, got %d", got)
	}
}

func TestSessionTrimAfterDispatch(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("ok"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.HandleChunk(make([]byte, 16))

	// The trim runs synchronously at dispatch time, so only the overlap
	// remains once HandleChunk returns.
	if got := session.buffer.Len(); got != 4 {
		t.Errorf("Expected buffer trimmed to keep_bytes 4, got %d", got)
	}

	session.pending.Wait()
}

func TestSessionChunkAfterCloseIgnored(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("ok"), nil
		},
	}
	mgr := newTestManager(t, eng)

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	mgr.CloseSession(session.ID)
	session.HandleChunk(make([]byte, 16))
	session.pending.Wait()

	if eng.callCount() != 0 {
		t.Errorf("Expected no inference after close, got %d calls", eng.callCount())
	}
}

func TestManagerSessionLimit(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("ok"), nil
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(logger, eng, Config{
		DispatchInterval: time.Second,
		MinDispatchBytes: 8,
		KeepBytes:        4,
		MaxBufferBytes:   1024,
		DispatchTimeout:  time.Second,
		Workers:          1,
		IdleTimeout:      time.Minute,
		MaxSessions:      1,
	}, nil)
	t.Cleanup(mgr.Stop)

	if _, err := mgr.CreateSession(&fakeSender{}); err != nil {
		t.Fatalf("First CreateSession failed: %v", err)
	}

	if _, err := mgr.CreateSession(&fakeSender{}); err == nil {
		t.Error("Expected session limit error, got nil")
	}

	if mgr.ActiveCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.ActiveCount())
	}
}

func TestManagerCloseSessionIdempotent(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("ok"), nil
		},
	}
	mgr := newTestManager(t, eng)

	session, err := mgr.CreateSession(&fakeSender{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if !mgr.CloseSession(session.ID) {
		t.Error("Expected first close to succeed")
	}
	if mgr.CloseSession(session.ID) {
		t.Error("Expected second close to report false")
	}
	if mgr.CloseSession("no-such-session") {
		t.Error("Expected close of unknown session to report false")
	}
}

func TestManagerGetSession(t *testing.T) {
	eng := &fakeEngine{
		transcribe: func(ctx context.Context, wav []byte, opts engine.Options) (*engine.Result, error) {
			return textResult("ok"), nil
		},
	}
	mgr := newTestManager(t, eng)

	session, err := mgr.CreateSession(&fakeSender{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, exists := mgr.GetSession(session.ID)
	if !exists || got.ID != session.ID {
		t.Error("Expected to retrieve the created session")
	}

	if _, exists := mgr.GetSession("missing"); exists {
		t.Error("Expected lookup of unknown session to fail")
	}
}
