// Package audio provides the canonical PCM contract, the per-session
// bounded buffer, WAV container framing and upload normalization.
package audio
