package lia

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a query failure.
type Kind int

const (
	KindInternal Kind = iota
	// KindValidation: malformed registration number, rejected before any
	// browser work.
	KindValidation
	// KindSession: the browser could not be started or stopped.
	KindSession
	KindNavigation
	KindElementNotFound
	KindTimeout
	// KindOCR: the CAPTCHA solver failed to answer at all. A wrong answer
	// is not an error.
	KindOCR
	// KindRetriesExhausted: every attempt had its CAPTCHA rejected.
	KindRetriesExhausted
	// KindInvalidDate: the registry printed a date that is not on the
	// calendar (e.g. month 13).
	KindInvalidDate
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSession:
		return "session"
	case KindNavigation:
		return "navigation"
	case KindElementNotFound:
		return "element_not_found"
	case KindTimeout:
		return "timeout"
	case KindOCR:
		return "ocr"
	case KindRetriesExhausted:
		return "retries_exhausted"
	case KindInvalidDate:
		return "invalid_date"
	default:
		return "internal"
	}
}

// Error is returned by Query for every failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("lia: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("lia: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation reports whether err rejected the input itself.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// ErrElementNotFound is wrapped by sessions when a selector does not
// resolve within their bounded wait.
var ErrElementNotFound = errors.New("element not found")

// browserError tags a collaborator failure with the kind implied by op,
// refined by what the error itself says.
func browserError(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := fallback
	switch {
	case errors.Is(err, ErrElementNotFound):
		kind = KindElementNotFound
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

type errAttempts int

func (n errAttempts) Error() string {
	return fmt.Sprintf("captcha rejected on all %d attempts", int(n))
}
