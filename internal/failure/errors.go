package failure

// ============================================================================
// Failure taxonomy
// Purpose: name every way one login attempt can end badly and decide how far
// the failure propagates (attempt, account, or whole worker).
// ============================================================================

import (
	"context"
	"errors"
)

// Predefined errors
var (
	// ErrNavigationTimeout indicates the landing page did not load in time
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrBlocked indicates the site served a blank page: the client's network identity is flagged
	ErrBlocked = errors.New("blocked: empty page title after navigation failure")

	// ErrLoginControlNotFound indicates no login trigger strategy revealed the credential form
	ErrLoginControlNotFound = errors.New("login control not found")

	// ErrCredentialFieldNotFound indicates the username or password field could not be filled
	ErrCredentialFieldNotFound = errors.New("credential field not found")

	// ErrOTPRequired indicates the site asked for a second factor; the account is unsupported
	ErrOTPRequired = errors.New("OTP required - account skipped")

	// ErrBalanceTimeout indicates no acceptable balance text appeared in the polling window
	ErrBalanceTimeout = errors.New("balance not found - popups may be blocking view")
)

// Class is how far a failure propagates.
type Class int

const (
	// Transient failures are retried up to the attempt budget.
	Transient Class = iota
	// AccountTerminal failures end the account without further attempts.
	AccountTerminal
	// WorkerFatal failures end the account and stop the worker loop.
	WorkerFatal
	// Canceled means the run itself is shutting down.
	Canceled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case AccountTerminal:
		return "account_terminal"
	case WorkerFatal:
		return "worker_fatal"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an attempt error to its propagation class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Transient
	case errors.Is(err, ErrBlocked):
		return WorkerFatal
	case errors.Is(err, ErrOTPRequired):
		return AccountTerminal
	case errors.Is(err, context.Canceled):
		return Canceled
	default:
		return Transient
	}
}

// StepError records the flow state an error surfaced in.
type StepError struct {
	State string // flow state name
	Err   error  // underlying error
}

func (e *StepError) Error() string {
	return e.State + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// At wraps err with the state it happened in. A nil err stays nil.
func At(state string, err error) error {
	if err == nil {
		return nil
	}
	var step *StepError
	if errors.As(err, &step) {
		return err
	}
	return &StepError{State: state, Err: err}
}
