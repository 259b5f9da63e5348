package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Code is a sentinel error for classification (errors.Is).
type Code string

func (c Code) Error() string { return string(c) }

// Error kinds shared by the registries, the signaling layer and the client.
const (
	ErrNotFound         Code = "not found"
	ErrInvalidState     Code = "invalid state"
	ErrIncompatible     Code = "incompatible"
	ErrDevice           Code = "device error"
	ErrTimeout          Code = "timeout"
	ErrInternal         Code = "internal"
	ErrAlreadyConnected Code = "already connected"
	ErrAlreadyExists    Code = "already exists"
)

// Error keeps a code and an underlying error (with stack/message from pkg/errors).
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) work even when wrapped.
func (e *Error) Is(target error) bool {
	t, ok := target.(Code)
	if !ok {
		return false
	}
	return e.Code == t
}

func Newf(code Code, format string, args ...any) error {
	return &Error{
		Code: code,
		Err:  errors.Errorf(format, args...),
	}
}

func New(code Code, message string) error {
	return &Error{
		Code: code,
		Err:  errors.New(message),
	}
}

func PureNew(message string) error {
	return stderrors.New(message)
}

// Wrapf wraps an existing error with message+stack.
// If err is nil, returns nil (Go convention).
func Wrapf(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code: code,
		Err:  errors.Wrapf(err, format, args...),
	}
}

// If err is nil, returns nil (Go convention).
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code: code,
		Err:  errors.Wrap(err, message),
	}
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain of type T.
func As[T error](err error) (T, bool) {
	var target T
	ok := stderrors.As(err, &target)
	return target, ok
}

// CodeOf returns the outermost code attached to err.
// Plain errors without a code are reported as ErrInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As[*Error](err); ok {
		return e.Code
	}
	if c, ok := As[Code](err); ok {
		return c
	}
	return ErrInternal
}
