package forging

import (
	"errors"
	"fmt"
)

// Errors returned by ForgingService. Callers match them with errors.Is; the
// wrapped message carries the detail shown to the user.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrNotFound         = errors.New("not found")
	ErrEventNotActive   = errors.New("forging event is not active")
	ErrEventNotFinished = errors.New("forging event is not finished")
	ErrEventNotProposed = errors.New("forging event is not awaiting a partner response")
	ErrAlreadyPledged   = errors.New("buyer has already pledged to this forging event")
	ErrPledgeInProgress = errors.New("a pledge for this buyer is already being processed")
	ErrExternalService  = errors.New("external service failure")

	// ErrEventExpired is a validation error: the proposal window closed
	// before the partner answered.
	ErrEventExpired = fmt.Errorf("%w: forging event window has already closed", ErrValidation)
)
