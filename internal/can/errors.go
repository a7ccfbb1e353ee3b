// Package can implements the channel session and monitoring core: channel
// directory, session lifecycle, frame transmission, the capture loop and the
// capture registry.
package can

import "errors"

// Sentinel errors for the closed failure set the API layer maps onto HTTP
// status codes. Driver failures carry their own classification in
// driver.Error; anything else is an internal error.
var (
	// ErrNotFound means a channel index is outside the valid range.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput means a request field is outside its declared bounds.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyActive means a capture session is already running.
	ErrAlreadyActive = errors.New("monitoring is already active")
)
