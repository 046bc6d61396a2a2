// ABOUTME: Error taxonomy for conversation operations
// ABOUTME: Callers map these with errors.Is to HTTP statuses and websocket error codes

package conversation

import "errors"

var (
	// ErrValidation means the request was malformed (empty text, missing or identical participants).
	ErrValidation = errors.New("validation failed")

	// ErrForbidden means the caller is not a participant of the conversation.
	ErrForbidden = errors.New("not a participant")

	// ErrNotFound means the conversation or a referenced user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a conversation for the pair exists but could not be read back.
	ErrConflict = errors.New("conflict")

	// ErrStore means the store failed; the operation is safe to retry.
	ErrStore = errors.New("store unavailable")
)
