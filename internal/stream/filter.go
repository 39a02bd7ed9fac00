package stream

import (
	"strings"
	"unicode"

	"github.com/nadhilrobomiracle/stt/internal/engine"
)

// CleanSegments joins engine segments into one transcript string. Segment
// texts are trimmed and kept in engine order (which is temporal); any
// segment without a single letter or digit is dropped, since small models
// tend to hallucinate bare punctuation on silence.
func CleanSegments(segments []engine.Segment) string {
	parts := make([]string, 0, len(segments))

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if !hasAlnum(text) {
			continue
		}
		parts = append(parts, text)
	}

	return strings.Join(parts, " ")
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
