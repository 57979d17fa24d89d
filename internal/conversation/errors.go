package conversation

import "errors"

// List pagination bounds.
const (
	// DefaultListLimit is the page size when the caller does not choose one.
	DefaultListLimit = 20

	// MaxListLimit is the absolute page size cap.
	MaxListLimit = 100
)

// Sentinel errors shared by every Store implementation. Check with
// errors.Is:
//
//	conv, err := store.Get(ctx, id)
//	if errors.Is(err, conversation.ErrNotFound) {
//	    // 404
//	}
var (
	// ErrNotFound indicates the requested conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
)

// NormalizeListLimit clamps a requested page size to [1, MaxListLimit].
// Zero and negative values fall back to DefaultListLimit.
func NormalizeListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
