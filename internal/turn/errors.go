package turn

import "errors"

var (
	// ErrModelNotFound indicates the requested model id is not in the catalog.
	ErrModelNotFound = errors.New("model not found")

	// ErrNoUserMessage indicates the supplied messages contain no user entry.
	ErrNoUserMessage = errors.New("no user message found")
)
