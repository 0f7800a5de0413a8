package chat

import "errors"

var (
	// ErrNotFound indicates the requested chat or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrEmptyContent indicates a message with no content parts.
	ErrEmptyContent = errors.New("empty message content")
)
