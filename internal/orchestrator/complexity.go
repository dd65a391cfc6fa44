package orchestrator

import (
	"strings"
)

// Complexity detection runs against the user's text before round 1 only. A
// flagged turn gets an augmented system prompt and raised token/temperature
// budgets for that round; tool-result rounds are never adjusted.

// complexityMarkers are lexicon signals that the user wants deliberate
// reasoning rather than a lookup.
var complexityMarkers = []string{
	"strategy",
	"strategic",
	"compare",
	"comparison",
	"versus",
	" vs ",
	"recommend",
	"recommendation",
	"why",
	"pros and cons",
	"trade-off",
	"tradeoff",
	"evaluate",
	"analyze",
	"analysis",
	"should i",
	"should we",
	"which is better",
	"best way",
	"plan for",
	"roadmap",
}

// comparisonWords back the long-text structural signal.
var comparisonWords = []string{
	"better", "worse", "instead", "alternative", "option", "choice", "either", "or",
}

const (
	// longTextThreshold is the rune count past which comparison words flag
	// the turn.
	longTextThreshold = 280

	// reasoningPromptSuffix augments the system prompt for flagged turns.
	reasoningPromptSuffix = "\n\nThe user's request requires careful analysis. Reason step-by-step through the relevant factors before giving your conclusion. Weigh alternatives explicitly."
)

// isComplexQuery applies the lexicon plus structural signals: multiple
// question marks, or long text combined with comparison words.
func isComplexQuery(text string) bool {
	lower := strings.ToLower(text)

	for _, marker := range complexityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	if strings.Count(text, "?") >= 2 {
		return true
	}

	if len([]rune(text)) > longTextThreshold {
		for _, word := range comparisonWords {
			if containsWord(lower, word) {
				return true
			}
		}
	}

	return false
}

// containsWord matches word at token boundaries so "or" does not hit inside
// "order".
func containsWord(text, word string) bool {
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if field == word {
			return true
		}
	}
	return false
}
