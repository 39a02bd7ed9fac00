package audio

import "time"

// Canonical PCM format. All buffered audio is assumed to already be in this
// format; anything else must be normalized before it reaches a buffer.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2

	// BytesPerSecond is the byte rate of canonical PCM (32000 bytes/s).
	BytesPerSecond = SampleRate * Channels * BytesPerSample
)

// PCMDuration returns the play duration of n bytes of canonical PCM.
func PCMDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / BytesPerSecond
}

// BytesForDuration returns the number of canonical PCM bytes covering d,
// rounded down to a whole sample.
func BytesForDuration(d time.Duration) int {
	n := int(d * BytesPerSecond / time.Second)
	return n - n%BytesPerSample
}
