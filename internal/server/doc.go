// Package server provides the HTTP API and the websocket streaming
// endpoint in front of the transcription core.
package server
