package audio

import (
	"sync"
	"time"
)

// Buffer is a bounded append-and-trim accumulator of canonical PCM bytes
// for a single session. Appends go to the tail; the only removal is
// head-truncation, either by the hard cap or by the post-dispatch overlap
// trim, so temporal order is never disturbed.
type Buffer struct {
	data      []byte
	maxBytes  int // hard cap on buffered audio
	keepBytes int // overlap retained after each dispatched window

	// Accounting
	totalAppended uint64
	totalDropped  uint64 // bytes discarded by the cap
	lastUpdate    time.Time

	mu sync.RWMutex
}

// BufferStats is a snapshot of buffer accounting for monitoring.
type BufferStats struct {
	BufferedBytes int    `json:"buffered_bytes"`
	TotalAppended uint64 `json:"total_appended_bytes"`
	TotalDropped  uint64 `json:"total_dropped_bytes"`
}

// NewBuffer creates a buffer capped at maxBytes that retains keepBytes of
// trailing audio across dispatch windows. Threshold ordering is validated
// at configuration load, not here.
func NewBuffer(maxBytes, keepBytes int) *Buffer {
	return &Buffer{
		data:       make([]byte, 0, maxBytes),
		maxBytes:   maxBytes,
		keepBytes:  keepBytes,
		lastUpdate: time.Now(),
	}
}

// Append adds chunk to the tail of the buffer, then discards leading bytes
// so that at most maxBytes remain. The cap is enforced before anything else
// can observe the buffer, so len never exceeds maxBytes between calls.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, chunk...)
	b.totalAppended += uint64(len(chunk))
	b.lastUpdate = time.Now()

	if overflow := len(b.data) - b.maxBytes; overflow > 0 {
		copy(b.data, b.data[overflow:])
		b.data = b.data[:b.maxBytes]
		b.totalDropped += uint64(overflow)
	}
}

// Snapshot returns a copy of the current buffer contents. The buffer itself
// is not mutated, so appends may continue while the snapshot is processed.
func (b *Buffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	window := make([]byte, len(b.data))
	copy(window, b.data)
	return window
}

// TrimToOverlap discards all but the trailing keepBytes. Run once per
// dispatched window, whether or not that window's inference succeeded, so
// the next window starts with a short slice of acoustic context instead of
// reprocessing everything.
func (b *Buffer) TrimToOverlap() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) <= b.keepBytes {
		return
	}

	cut := len(b.data) - b.keepBytes
	copy(b.data, b.data[cut:])
	b.data = b.data[:b.keepBytes]
}

// Len returns the number of currently buffered bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// LastUpdate returns the time of the most recent append.
func (b *Buffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// Stats returns a snapshot of the buffer accounting.
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		BufferedBytes: len(b.data),
		TotalAppended: b.totalAppended,
		TotalDropped:  b.totalDropped,
	}
}

// Reset releases the buffered audio. Called when the owning session closes.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}
