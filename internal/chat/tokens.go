package chat

import "unicode/utf8"

// TokenBudget bounds the context assembled for the model.
type TokenBudget struct {
	// MaxHistoryTokens is the estimated token budget for persisted
	// history. The new user turn is not counted against it.
	MaxHistoryTokens int
}

// DefaultTokenBudget returns the budget used when none is configured.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{MaxHistoryTokens: 4000}
}

// estimateTokens approximates the token count of text as runes/2, minimum 1
// for non-empty text. Deliberately rough: budgets are safety margins, not
// billing, and a conservative estimate (over-counting CJK, under-counting
// long English words) keeps truncation on the safe side without a tokenizer
// dependency.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 2
	if n < 1 {
		n = 1
	}
	return n
}

// estimateMessagesTokens sums the estimate across messages.
func estimateMessagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content)
	}
	return total
}
