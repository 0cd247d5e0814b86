package semantic

import (
	"regexp"
	"strings"
)

// Slot keys written by ExtractSlots.
const (
	SlotIntent    = "intent"
	SlotEntities  = "entities"
	SlotUrgency   = "urgency"
	SlotSentiment = "sentiment"
)

var (
	intentRules = []struct {
		intent   string
		keywords []string
	}{
		{"request", []string{"お願い", "please", "依頼", "request"}},
		{"question", []string{"質問", "question", "？", "?"}},
		{"report", []string{"報告", "report", "連絡", "contact"}},
	}

	highUrgency   = []string{"緊急", "urgent", "急ぎ", "asap"}
	mediumUrgency = []string{"重要", "important", "優先"}

	positiveWords = []string{"ありがとう", "thank", "嬉しい", "happy", "良い", "good"}
	negativeWords = []string{"困った", "problem", "問題", "issue", "悪い", "bad"}

	datePattern = regexp.MustCompile(`\d{4}年\d{1,2}月\d{1,2}日|\d{1,2}/\d{1,2}|\d{1,2}-\d{1,2}`)
	timePattern = regexp.MustCompile(`\d{1,2}:\d{2}|\d{1,2}時\d{2}分`)
)

// ExtractSlots merges caller-supplied slots with the heuristic ones. The
// heuristic keys always win.
func ExtractSlots(text string, existing map[string]any) map[string]any {
	slots := make(map[string]any, len(existing)+4)
	for k, v := range existing {
		slots[k] = v
	}

	lower := strings.ToLower(text)
	slots[SlotIntent] = extractIntent(lower)
	slots[SlotEntities] = extractEntities(text)
	slots[SlotUrgency] = extractUrgency(lower)
	slots[SlotSentiment] = extractSentiment(lower)
	return slots
}

func extractIntent(lower string) string {
	for _, rule := range intentRules {
		if containsAny(lower, rule.keywords) {
			return rule.intent
		}
	}
	return "general"
}

func extractEntities(text string) []string {
	entities := []string{}
	entities = append(entities, datePattern.FindAllString(text, -1)...)
	entities = append(entities, timePattern.FindAllString(text, -1)...)
	return entities
}

func extractUrgency(lower string) string {
	switch {
	case containsAny(lower, highUrgency):
		return "high"
	case containsAny(lower, mediumUrgency):
		return "medium"
	default:
		return "normal"
	}
}

func extractSentiment(lower string) string {
	switch {
	case containsAny(lower, positiveWords):
		return "positive"
	case containsAny(lower, negativeWords):
		return "negative"
	default:
		return "neutral"
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
