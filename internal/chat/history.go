package chat

import "fmt"

// AssembleHistory prepares persisted history for the model.
//
// System entries are dropped: only the current request's composed system
// prompt may speak with that role. The remaining turns must alternate
// user/assistant starting with a user turn; anything else is ambiguous
// persisted data and fails with ErrHistoryCorrupt rather than being
// repaired. A trailing user turn with no assistant reply is dropped, since
// the incoming request carries the current user turn itself.
//
// When the estimated token total exceeds budget, whole user+assistant pairs
// are removed oldest first, preserving alternation. Ordering of retained
// messages is untouched.
func AssembleHistory(history []Message, budget int) ([]Message, error) {
	turns := make([]Message, 0, len(history))
	for i, m := range history {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w: entry %d has unknown role %q", ErrHistoryCorrupt, i, m.Role)
		}
		if m.Role == RoleSystem {
			continue
		}
		turns = append(turns, m)
	}

	for i, m := range turns {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if m.Role != want {
			return nil, fmt.Errorf("%w: turn %d has role %q, want %q", ErrHistoryCorrupt, i, m.Role, want)
		}
	}

	// Drop a dangling user turn so the history is whole pairs.
	if len(turns)%2 == 1 {
		turns = turns[:len(turns)-1]
	}

	for len(turns) > 0 && estimateMessagesTokens(turns) > budget {
		turns = turns[2:]
	}
	return turns, nil
}
