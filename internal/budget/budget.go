// Package budget estimates token counts and trims retrieved passages so the
// composed prompt fits a model's context window. Backends use different
// tokenizers, so estimation is a character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/thatsimo/yet-another-chatbot/internal/rag"
)

const (
	charsPerToken = 4

	// DefaultMaxContextTokens fits 8k-context models with room for the answer.
	DefaultMaxContextTokens = 6000

	// truncationMarker is appended to a passage cut to fit the budget.
	truncationMarker = " …"
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages sums role + content for each message plus a per-message
// overhead of 4 tokens.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimPassages returns passages whose combined text fits within maxTokens.
// Rank order is preserved. Passages are dropped or cut from the lowest rank
// upward. The top-ranked passage is truncated, never dropped. A non-positive maxTokens disables trimming.
// The input slice is not modified.
func TrimPassages(passages []rag.Passage, maxTokens int) []rag.Passage {
	if maxTokens <= 0 || len(passages) == 0 {
		return passages
	}

	out := make([]rag.Passage, len(passages))
	copy(out, passages)

	total := 0
	for _, p := range out {
		total += Estimate(p.Text)
	}

	for i := len(out) - 1; i >= 0 && total > maxTokens; i-- {
		cost := Estimate(out[i].Text)
		excess := total - maxTokens
		if cost > excess {
			out[i].Text = truncate(out[i].Text, cost-excess)
			total -= excess
			break
		}
		out = out[:i]
		total -= cost
	}
	return out
}

// truncate cuts s to roughly tokens tokens on a rune boundary.
func truncate(s string, tokens int) string {
	limit := tokens * charsPerToken
	if limit <= 0 {
		return truncationMarker
	}
	if len(s) <= limit {
		return s
	}
	// Back up to a rune start.
	for limit > 0 && s[limit]&0xC0 == 0x80 {
		limit--
	}
	return s[:limit] + truncationMarker
}
