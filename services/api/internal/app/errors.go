package app

import "errors"

var (
	ErrStoreRequired     = errors.New("document store is required")
	ErrSessionsRequired  = errors.New("session cache is required")
	ErrTokensRequired    = errors.New("token issuer is required")
	ErrObjectsRequired   = errors.New("object store is required")
	ErrCleanupNotEnabled = errors.New("cleanup queue is not configured")
)

// Messages shared between workflows.
const (
	msgIncorrectPassword = "Incorrect password"
	msgNoSessions        = "You aren't authorized to use renew token method."
	msgUnknownDevice     = "You aren't authorized on this device."
	msgNotEnoughFilament = "Not enough filament on roll."
	msgPlannedInPast     = "Date of plannedCompletionAt must be greater or equal than today."
)
