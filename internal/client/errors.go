package client

import "errors"

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates message content failed validation.
	ErrValidation = errors.New("validation error")

	// ErrNoSession indicates the chat was created without a session id.
	ErrNoSession = errors.New("no session id")

	// ErrStreamActive indicates a send was attempted while a stream is
	// already in flight.
	ErrStreamActive = errors.New("stream already active")
)
