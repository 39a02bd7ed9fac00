// Package engine defines the boundary to the external speech-to-text
// engine and provides HTTP and OpenAI-backed implementations of it.
package engine
