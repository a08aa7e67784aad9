package ads

import "errors"

// Domain failure taxonomy. Handlers and the orchestrator match these with
// errors.Is; storage and transport errors are wrapped around them.
var (
	// ErrNotFound: the advertisement or bot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: invalid state transition, e.g. triggering or deleting an
	// advertisement that is already broadcasting.
	ErrConflict = errors.New("conflict")

	// ErrNoValidTargets: zero running bots remained after filtering the
	// requested target set.
	ErrNoValidTargets = errors.New("no valid target bots")
)
