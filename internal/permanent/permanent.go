package permanent

import (
	"errors"
	"fmt"
)

// Reasons attached to permanent failures; they match publish error codes where one exists.
const (
	ReasonFormat          = "format_error"
	ReasonUnsupportedType = "unsupported_type"
	ReasonRejected        = "client_error"
	ReasonTargetMissing   = "target_missing"
	ReasonTargetDisabled  = "target_disabled"
)

// Error is a delivery or replay failure that another attempt cannot fix.
// Reason is a short machine-readable code; empty when the caller only marked the error.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Reason != "":
		return "permanent failure: " + e.Reason
	default:
		return "permanent failure"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Mark tags err as non-retryable without a reason. Nil stays nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err}
}

// New tags err as non-retryable with reason. Nil stays nil.
func New(reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Reason: reason, Err: err}
}

// Errorf formats a permanent failure with reason; %w verbs are preserved.
func Errorf(reason, format string, args ...any) error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Is reports whether a permanent marker is present anywhere in err's chain.
func Is(err error) bool {
	var marked *Error
	return errors.As(err, &marked)
}

// ReasonOf returns the outermost non-empty reason in err's chain.
// Returns: reason, or "" for retryable errors and reasonless marks.
func ReasonOf(err error) string {
	for err != nil {
		var marked *Error
		if !errors.As(err, &marked) {
			return ""
		}
		if marked.Reason != "" {
			return marked.Reason
		}
		err = marked.Err
	}
	return ""
}
