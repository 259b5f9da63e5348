package jsonrpc

import (
	"encoding/json"

	"github.com/imtaco/audio-rooms/internal/errors"
)

const (
	ErrCodeParseError errors.Code = "parse error"
	ErrClosed         errors.Code = "closed"
)

// Helper functions for error handling
func ErrInvalidParams(message string) *Error {
	return &Error{
		Code:    CodeInvalidParams,
		Message: message,
	}
}

func ErrInvalidRequest(message string) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

func ErrMethodNotFound(method string) *Error {
	return &Error{
		Code:    CodeMethodNotFound,
		Message: "method not found: " + method,
	}
}

func ErrInternal(message string) *Error {
	return &Error{
		Code:    CodeInternalError,
		Message: message,
	}
}

func ErrCustom(code int64, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// ErrWithData attaches a JSON encoded data member; data that fails to encode is dropped.
func ErrWithData(code int64, message string, data any) *Error {
	e := ErrCustom(code, message)
	if data == nil {
		return e
	}
	if bs, err := json.Marshal(data); err == nil {
		raw := json.RawMessage(bs)
		e.Data = &raw
	}
	return e
}
