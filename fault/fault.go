// Package fault defines the error kinds shared by the lifecycle engines
// and the transaction directory. Engines wrap these sentinels with
// package context; callers branch with errors.Is.
package fault

import "errors"

var (
	// ErrInvalidInput signals malformed arguments. Always caller-recoverable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState signals an operation attempted against an entity whose
	// current state forbids it (terminal case mutation, duplicate open sale).
	ErrInvalidState = errors.New("invalid state")
	// ErrIllegalTransition signals a status transition not permitted from the
	// current status. Surfaced verbatim to the actor, never coerced.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrRoleDenied signals the actor lacks authority for the command.
	ErrRoleDenied = errors.New("role denied")
	// ErrNotFound signals a missing entity or sub-resource.
	ErrNotFound = errors.New("not found")
	// ErrSubscriptionInactive signals the listing-eligibility gate failed.
	ErrSubscriptionInactive = errors.New("subscription inactive")
	// ErrConflict signals a concurrent modification detected at commit time.
	// The directory retries the command once before surfacing it.
	ErrConflict = errors.New("conflict")
)
