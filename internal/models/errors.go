package models

import "errors"

// Error taxonomy. Handlers map these to HTTP statuses; nothing in the core
// retries on them.
var (
	// ErrValidation marks a missing or malformed input field (HTTP 400).
	ErrValidation = errors.New("validation error")

	// ErrNormalization marks an unparseable manufacturing date, make, or
	// model (HTTP 400).
	ErrNormalization = errors.New("normalization error")

	// ErrCollaborator marks a failed lookup or price-discovery call
	// (HTTP 502). Messages are sanitized before reaching clients.
	ErrCollaborator = errors.New("collaborator error")
)
