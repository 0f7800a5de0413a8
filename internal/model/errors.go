package model

import "errors"

var (
	// ErrModelNotFound indicates the provider model is not registered.
	ErrModelNotFound = errors.New("model not found")

	// ErrNoOutput indicates the model returned an empty response.
	ErrNoOutput = errors.New("model returned no output")
)
