package protocol

import (
	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
)

// Application error codes carried in the JSON-RPC error object.
const (
	CodeNotFound         = 4404
	CodeInvalidState     = 4409
	CodeAlreadyConnected = 4410
	CodeAlreadyExists    = 4411
	CodeIncompatible     = 4415
	CodeDevice           = 4424
	CodeTimeout          = 4408
)

type ErrorData struct {
	Kind string `json:"kind"`
}

var codes = map[errors.Code]int64{
	errors.ErrNotFound:         CodeNotFound,
	errors.ErrInvalidState:     CodeInvalidState,
	errors.ErrAlreadyConnected: CodeAlreadyConnected,
	errors.ErrAlreadyExists:    CodeAlreadyExists,
	errors.ErrIncompatible:     CodeIncompatible,
	errors.ErrDevice:           CodeDevice,
	errors.ErrTimeout:          CodeTimeout,
}

// ToRPCError converts a handler error into the error object sent to the
// peer. JSON-RPC errors pass through; internal failures are reported
// without their message.
func ToRPCError(err error) *jsonrpc.Error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := errors.As[*jsonrpc.Error](err); ok {
		return rpcErr
	}
	code := errors.CodeOf(err)
	rpcCode, ok := codes[code]
	if !ok {
		return jsonrpc.ErrWithData(jsonrpc.CodeInternalError, "internal error",
			ErrorData{Kind: string(errors.ErrInternal)})
	}
	return jsonrpc.ErrWithData(rpcCode, err.Error(), ErrorData{Kind: string(code)})
}

// FromRPCError maps an error returned by a call back to its code. Other
// errors are returned unchanged.
func FromRPCError(err error) error {
	rpcErr, ok := errors.As[*jsonrpc.Error](err)
	if !ok {
		return err
	}
	var data ErrorData
	if rpcErr.DecodeData(&data) && data.Kind != "" {
		return &errors.Error{Code: errors.Code(data.Kind), Err: err}
	}
	for code, rpcCode := range codes {
		if rpcCode == rpcErr.Code {
			return &errors.Error{Code: code, Err: err}
		}
	}
	if rpcErr.Code == jsonrpc.CodeInternalError {
		return &errors.Error{Code: errors.ErrInternal, Err: err}
	}
	return err
}
