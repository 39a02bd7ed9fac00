package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nadhilrobomiracle/stt/internal/audio"
)

// mockengine is a local stand-in for a whisper-server endpoint. It accepts
// the same multipart POST the http engine provider sends and returns a
// verbose_json response with a fixed transcript, so the gateway can be run
// end to end without a real model.

type segment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type response struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []segment `json:"segments"`
}

var (
	delay      = flag.Duration("delay", 200*time.Millisecond, "Simulated inference time per request")
	text       = flag.String("text", "this is a mock transcription", "Transcript returned for every request")
	port       = flag.Int("port", 9000, "Listen port")
	failEveryN = flag.Int("fail-every", 0, "Return HTTP 503 on every Nth request (0 = never)")
)

var requestCount atomic.Int64

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	n := requestCount.Add(1)

	log.Printf("request #%d: file=%s size=%d model=%s language=%s beam_size=%s vad_filter=%s",
		n,
		header.Filename,
		len(audioData),
		r.FormValue("model"),
		r.FormValue("language"),
		r.FormValue("beam_size"),
		r.FormValue("vad_filter"),
	)

	if *failEveryN > 0 && n%int64(*failEveryN) == 0 {
		log.Printf("request #%d: simulating engine overload", n)
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	time.Sleep(*delay)

	// A real whisper server decodes the container, so the mock does too.
	pcm, sampleRate, err := audio.DecodeWAV(audioData)
	if err != nil || sampleRate <= 0 {
		log.Printf("request #%d: rejected payload: %v", n, err)
		http.Error(w, "Invalid audio payload", http.StatusBadRequest)
		return
	}

	duration := float64(len(pcm)) / float64(sampleRate*audio.Channels*audio.BytesPerSample)

	resp := response{
		Text:     *text,
		Language: "en",
		Duration: duration,
		Segments: []segment{
			{Start: 0, End: duration, Text: *text, NoSpeechProb: 0.01},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func main() {
	flag.Parse()

	http.HandleFunc("/transcribe", transcribeHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock engine listening on %s", addr)
	log.Printf("Point the gateway at http://localhost%s/transcribe", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
