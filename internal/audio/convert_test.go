package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestNormalizeToWAVMissingBinary(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.webm")
	output := filepath.Join(dir, "out.wav")

	if err := os.WriteFile(input, []byte("not audio"), 0644); err != nil {
		t.Fatalf("Failed to write input file: %v", err)
	}

	err := NormalizeToWAV(context.Background(), "/nonexistent/ffmpeg", input, output)
	if err == nil {
		t.Fatal("Expected error for missing ffmpeg binary, got nil")
	}
}

func TestNormalizeToWAVInvalidInput(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "in.webm")
	output := filepath.Join(dir, "out.wav")

	if err := os.WriteFile(input, []byte("definitely not audio"), 0644); err != nil {
		t.Fatalf("Failed to write input file: %v", err)
	}

	if err := NormalizeToWAV(context.Background(), "ffmpeg", input, output); err == nil {
		t.Error("Expected error for garbage input, got nil")
	}
}
