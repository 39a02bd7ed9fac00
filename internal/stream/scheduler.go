package stream

import "time"

// Scheduler decides, on each arriving chunk, whether the session's
// accumulated audio should be dispatched for inference. It is a pure
// predicate over elapsed wall-clock time and buffer size; it keeps no
// state of its own.
//
// The two thresholds pull in opposite directions: Interval keeps the
// CPU-bound engine from being hammered on every chunk, MinBytes keeps
// fragments too short to transcribe reliably from being dispatched at all.
type Scheduler struct {
	Interval time.Duration // minimum time between dispatch attempts
	MinBytes int           // minimum buffered audio to dispatch
}

// ShouldDispatch reports whether a window should be dispatched now. Both
// conditions must hold: enough audio accumulated and enough time elapsed
// since the previous dispatch.
func (s Scheduler) ShouldDispatch(now, lastDispatch time.Time, buffered int) bool {
	if buffered < s.MinBytes {
		return false
	}
	return now.Sub(lastDispatch) >= s.Interval
}
