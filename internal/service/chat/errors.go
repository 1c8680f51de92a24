package chat

import (
	"errors"
	"fmt"
)

var (
	ErrClientRequired  = errors.New("client id is required")
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyInput is returned for blank submissions. Callers treat it as a no-op.
	ErrEmptyInput = errors.New("message is empty")
	// ErrBusy rejects a submit while the previous reply is still in flight.
	ErrBusy = errors.New("a response is already in progress")
	// ErrQuotaExceeded matches every *QuotaExceededError.
	ErrQuotaExceeded = errors.New("message quota exceeded")
	// ErrGenerationFailed wraps completer failures recorded on a reply outcome.
	ErrGenerationFailed = errors.New("generation failed")
)

// Remedy tells the caller how the user can lift a quota block.
type Remedy string

const (
	RemedyAuthenticate Remedy = "authenticate"
	RemedyUpgrade      Remedy = "upgrade"
)

// QuotaExceededError is returned by Submit when the active identity class has
// no messages left.
type QuotaExceededError struct {
	Remedy   Remedy
	Consumed int
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d/%d used, %s required", ErrQuotaExceeded, e.Consumed, e.Limit, e.Remedy)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
