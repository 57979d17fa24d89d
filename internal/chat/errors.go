package chat

import "errors"

// Sentinel errors for request orchestration. Callers branch with errors.Is;
// transports map them onto status codes.
var (
	// ErrHistoryCorrupt indicates persisted conversation entries are not
	// alternating user/assistant turns after system filtering. Surfaced,
	// never silently repaired: guessing intent risks reordering real
	// content.
	ErrHistoryCorrupt = errors.New("conversation history corrupt")

	// ErrProviderUnavailable indicates the model provider kept failing
	// after the retry budget. The caller receives it as a non-streamed
	// error response.
	ErrProviderUnavailable = errors.New("model provider unavailable")

	// ErrPersistenceFailed indicates the assistant message could not be
	// saved within the retry budget. It is reported through logs and
	// metrics, not raised to the client.
	ErrPersistenceFailed = errors.New("message persistence failed")

	// ErrEmptyMessage rejects requests with no user content.
	ErrEmptyMessage = errors.New("message is empty")
)
