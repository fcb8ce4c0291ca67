package stepup

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/stepup/internal/stepsession"
)

var (
	// ErrInvalidUser is returned when an operation is called without a user id.
	ErrInvalidUser = errors.New("user id is required")
	// ErrInvalidChallenge is returned for a nil or malformed challenge.
	ErrInvalidChallenge = errors.New("challenge is invalid")
	// ErrInvalidLevel is returned for a risk level outside NONE..CRITICAL.
	ErrInvalidLevel = errors.New("risk level is invalid")
	// ErrChallengeNotFound means the nonce was never issued, already consumed, or swept.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired means the challenge outlived its 15 minute window.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeSubject is returned when a challenge is answered for a different user.
	ErrChallengeSubject = errors.New("challenge issued to a different user")
	// ErrRateLimited is reported by HTTP front ends that throttle callers.
	ErrRateLimited = errors.New("verification rate limited")
	// ErrSessionNotFound is returned when a verification session is unknown.
	ErrSessionNotFound = stepsession.ErrNotFound
	ErrTokenInvalid    = errors.New("step-up token invalid")
	ErrTokenLevel      = errors.New("step-up token level too low")
	ErrTokenDisabled   = errors.New("step-up tokens are not configured")
	// ErrBackend wraps storage failures.
	ErrBackend = errors.New("verification backend unavailable")
	// ErrEngineNotReady is returned by Build when a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrConfig is returned by Config.Validate.
	ErrConfig = errors.New("invalid configuration")
)

// ErrorKind classifies failures so callers can tell transient problems from
// structural ones.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindExpired
	KindRateLimited
)

// String returns the snake_case name used in logs and HTTP bodies.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error tags an underlying failure with its kind and the engine operation
// that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stepup: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("stepup: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindExpired})
// works without knowing the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func wrapErr(op string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify maps a sentinel from this package or a store package onto a kind.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidUser), errors.Is(err, ErrInvalidChallenge), errors.Is(err, ErrInvalidLevel),
		errors.Is(err, ErrChallengeSubject), errors.Is(err, ErrConfig),
		errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenLevel):
		return KindValidation
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrChallengeExpired):
		return KindExpired
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

func opErr(op string, err error) error {
	return wrapErr(op, classify(err), err)
}
