// Package semantic turns free text into the stored representation of a
// message: a short summary, heuristic slots and an embedding vector.
package semantic

import (
	"strings"
	"unicode/utf8"
)

const (
	// ShortTextLimit is the length at or below which text is kept verbatim.
	ShortTextLimit = 100
	// MaxSummaryLength bounds every stored summary.
	MaxSummaryLength = 200
)

func isTerminator(r rune) bool {
	switch r {
	case '。', '.', '!', '?', '！', '？':
		return true
	}
	return false
}

// Summarize shortens text. Short text is returned as is; longer text keeps
// its first and last sentences, or a truncated prefix when there is only
// one sentence.
func Summarize(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= ShortTextLimit {
		return text
	}

	sentences := splitSentences(text)
	var summary string
	if len(sentences) >= 2 {
		summary = sentences[0] + " " + sentences[len(sentences)-1]
		if containsCJK(summary) {
			summary = sentences[0] + sentences[len(sentences)-1]
		}
	} else {
		summary = truncateRunes(text, ShortTextLimit) + "..."
	}
	return truncateRunes(summary, MaxSummaryLength)
}

// splitSentences splits on sentence terminators, keeping each terminator
// with its sentence and dropping empty fragments.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if isTerminator(r) {
			end := i + utf8.RuneLen(r)
			if s := strings.TrimSpace(text[start:end]); s != "" && !allTerminators(s) {
				out = append(out, s)
			}
			start = end
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func allTerminators(s string) bool {
	for _, r := range s {
		if !isTerminator(r) {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x3000 && r <= 0x9fff || r >= 0xac00 && r <= 0xd7af {
			return true
		}
	}
	return false
}
