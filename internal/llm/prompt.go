package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eldtechnologies/sensechat/internal/models"
)

const neutralInstruction = "in a natural, plain tone."

// styleInstructions maps a recipient's style preset to a rewriting instruction.
var styleInstructions = map[string]string{
	"biz_formal":   "in polite business language, leading with the conclusion and closing with a signature.",
	"emoji_casual": "in a casual, friendly tone with a moderate amount of emoji.",
	"technical":    "in precise technical language, using domain terms where appropriate.",
	"casual":       "in a relaxed, conversational tone.",
}

var languageNames = map[string]string{
	"ja": "Japanese",
	"en": "English",
	"zh": "Chinese",
	"ko": "Korean",
}

// StyleInstruction returns the instruction for a preset, falling back to
// the neutral instruction for unknown presets.
func StyleInstruction(style string) string {
	if s, ok := styleInstructions[style]; ok {
		return s
	}
	return neutralInstruction
}

// KnownStyle reports whether a preset has a dedicated instruction.
func KnownStyle(style string) bool {
	_, ok := styleInstructions[style]
	return ok
}

// BuildPrompt renders the reconstruction prompt for one request.
func BuildPrompt(req Request) string {
	lang := req.Language
	if name, ok := languageNames[lang]; ok {
		lang = name
	}
	if lang == "" || lang == "auto" {
		lang = "the recipient's language"
	}

	slots := req.Slots
	if slots == nil {
		slots = map[string]any{}
	}
	neighbors := req.Neighbors
	if neighbors == nil {
		neighbors = []models.Neighbor{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the following summary in %s %s\n\n", lang, StyleInstruction(req.Style))
	fmt.Fprintf(&b, "Summary: %s\n", req.Summary)
	fmt.Fprintf(&b, "Slots: %s\n", mustJSON(slots))
	fmt.Fprintf(&b, "Context: %s\n\n", mustJSON(neighbors))
	b.WriteString("Constraints:\n")
	b.WriteString("- Preserve the original meaning\n")
	b.WriteString("- Follow the requested style\n")
	b.WriteString("- Keep it within 100 characters\n")
	b.WriteString("- Make it read naturally\n")
	return b.String()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
