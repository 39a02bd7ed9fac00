// Package stream implements the live transcription core: per-connection
// sessions, the dispatch trigger policy, the bounded inference worker pool
// and the transcript output filter.
package stream
