package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError so transport layers can map it to a status.
type ErrorKind string

const (
	KindInternal    ErrorKind = "internal"
	KindNotFound    ErrorKind = "not_found"
	KindInvalid     ErrorKind = "invalid"
	KindUnavailable ErrorKind = "unavailable"
)

// Sentinel errors usable with errors.Is against any AppError of the same kind.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalid     = errors.New("invalid argument")
	ErrUnavailable = errors.New("unavailable")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels as well as other AppErrors carrying the same kind.
func (e *AppError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalid:
		return e.Kind == KindInvalid
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	var other *AppError
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.Op == e.Op
	}
	return false
}

// NewAppError constructs an internal AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindInternal, Msg: msg, Err: err}
}

// NotFound reports a missing entity.
func NotFound(op, msg string) error {
	return &AppError{Op: op, Kind: KindNotFound, Msg: msg}
}

// Invalid reports rejected input.
func Invalid(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindInvalid, Msg: msg, Err: err}
}

// Unavailable reports a dependency that could not be reached.
func Unavailable(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindUnavailable, Msg: msg, Err: err}
}

// KindOf returns the kind of the first AppError in the chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}
