// Package budget provides token budget estimation and retrieved-context
// trimming. Because the assistant supports multiple generation backends
// with different tokenizers, this package uses a conservative
// character-based heuristic: 1 token ≈ 4 characters (English prose).
// This deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/sdhillon/medvoice-go/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving
	// room for the output. Override via Config.MaxContextTokens.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimatePassages returns the estimated total token count for a slice of
// retrieved passages, including a small per-passage separator overhead.
func EstimatePassages(passages []rag.Passage) int {
	total := 0
	for _, p := range passages {
		// Each passage joins into the prompt with a separator (~2 tokens).
		total += 2
		total += Estimate(p.Text)
	}
	return total
}

// TrimPassages drops the least-similar passages until the estimated token
// count of fixedText plus the remaining passages fits within maxTokens.
// fixedText is the part of the prompt that must not be trimmed (persona
// instructions plus the user query). Passages arrive most-similar first,
// so trimming removes from the tail.
//
// Returns the trimmed slice. If even zero passages exceed the budget, the
// empty slice is returned — grounding is an enhancement, never worth
// displacing the question itself.
func TrimPassages(fixedText string, passages []rag.Passage, maxTokens int) []rag.Passage {
	if len(passages) == 0 {
		return passages
	}

	fixedTokens := Estimate(fixedText)
	for len(passages) > 0 {
		if fixedTokens+EstimatePassages(passages) <= maxTokens {
			break
		}
		// Drop the weakest match.
		passages = passages[:len(passages)-1]
	}
	return passages
}
