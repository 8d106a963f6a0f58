package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation           Kind = "VALIDATION"
	KindAuthentication       Kind = "AUTHENTICATION"
	KindCalendarNotConnected Kind = "CALENDAR_NOT_CONNECTED"
	KindTokenRefresh         Kind = "TOKEN_REFRESH"
	KindExternalService      Kind = "EXTERNAL_SERVICE"
	KindNotFound             Kind = "NOT_FOUND"
	KindInternal             Kind = "INTERNAL"
)

// Error is the typed failure passed between layers. Message is safe to show
// to the end user; Err carries the underlying cause.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", prefix, e.Message)
	}
	return fmt.Sprintf("%s (%s): %v", prefix, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Validation(op, message string) *Error {
	return New(KindValidation, op, message, nil)
}

func Authentication(op, message string, err error) *Error {
	return New(KindAuthentication, op, message, err)
}

const calendarNotConnectedMessage = "You don't have a Google Calendar connected. Please connect your calendar first."

func CalendarNotConnected(op string) *Error {
	return New(KindCalendarNotConnected, op, calendarNotConnectedMessage, nil)
}

func TokenRefresh(op, message string, err error) *Error {
	return New(KindTokenRefresh, op, message, err)
}

func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message, nil)
}

// External wraps a provider failure. Deadline and cancellation errors are
// marked retryable.
func External(op string, err error) *Error {
	e := New(KindExternalService, op, "external service request failed", err)
	if errors.Is(err, context.DeadlineExceeded) {
		e.Message = "external service timed out"
		e.Retryable = true
	}
	return e
}

// FromContext maps a context failure to a retryable external error and
// returns any other error unchanged.
func FromContext(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e := External(op, err)
		e.Retryable = true
		return e
	}
	return err
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// UserMessage returns the user-facing message for err, or fallback when err
// carries none.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
