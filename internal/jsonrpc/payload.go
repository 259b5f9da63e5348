package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/utils"
)

type messageType int

const (
	typeUnknown messageType = iota
	typeRequest
	typeResponse
	typeNotification
)

const jsonRPCVersion = "2.0"

type Request struct {
	ID     *ID              `json:"id"`
	Method string           `json:"method"`
	Params *json.RawMessage `json:"params,omitempty"`
}

type message struct {
	JSONRPC string `json:"jsonrpc,omitempty"`
	ID      *ID    `json:"id,omitempty"`
	// request fields
	Method *string          `json:"method,omitempty"`
	Params *json.RawMessage `json:"params,omitempty"`
	// response fields
	Result *json.RawMessage `json:"result,omitempty"`
	Error  *Error           `json:"error,omitempty"`

	msgType messageType `json:"-"`
}

// validate sets msgType; anything that is neither a request nor a response
// is typeUnknown.
func (m *message) validate() {
	isResponse := m.Result != nil || m.Error != nil
	switch {
	case m.Method != nil && isResponse:
		m.msgType = typeUnknown
	case m.Method != nil && m.ID.IsSet():
		m.msgType = typeRequest
	case m.Method != nil:
		m.msgType = typeNotification
	case isResponse && m.ID.IsSet():
		m.msgType = typeResponse
	default:
		m.msgType = typeUnknown
	}
}

func rawJSON(v any, what string) (*json.RawMessage, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrCodeParseError, err, "failed to marshal %s", what)
	}
	return utils.Ptr(json.RawMessage(bs)), nil
}

func newRequestMessage(id *ID, method string, params any) (*message, error) {
	raw, err := rawJSON(params, "params")
	if err != nil {
		return nil, err
	}
	return &message{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  &method,
		Params:  raw,
		msgType: typeRequest,
	}, nil
}

func newNotificationMessage(method string, params any) (*message, error) {
	raw, err := rawJSON(params, "params")
	if err != nil {
		return nil, err
	}
	return &message{
		JSONRPC: jsonRPCVersion,
		Method:  &method,
		Params:  raw,
		msgType: typeNotification,
	}, nil
}

func newResponseMessage(id ID, result any, rpcErr *Error) (*message, error) {
	m := &message{
		JSONRPC: jsonRPCVersion,
		ID:      &id,
		Error:   rpcErr,
		msgType: typeResponse,
	}
	if rpcErr == nil {
		raw, err := rawJSON(result, "result")
		if err != nil {
			return nil, err
		}
		m.Result = raw
	}
	return m, nil
}

// JSON-RPC 2.0 request ID, either a string or integer
type ID struct {
	Num      uint64
	Str      string
	isString bool
}

func newStringID(id string) *ID {
	return &ID{Str: id, isString: true}
}

func newNumberID(n uint64) *ID {
	return &ID{Num: n}
}

func (id *ID) IsSet() bool {
	return id != nil && (id.isString || id.Num != 0)
}

func (id *ID) String() string {
	if id.isString {
		return strconv.Quote(id.Str)
	}
	return strconv.FormatUint(id.Num, 10)
}

func (id *ID) MarshalJSON() ([]byte, error) {
	if id.isString {
		return json.Marshal(id.Str)
	}
	return json.Marshal(id.Num)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	// Support both uint64 and string IDs.
	var vStr string
	if err := json.Unmarshal(data, &vStr); err == nil {
		*id = ID{Str: vStr, isString: true}
		return nil
	}
	var vInt uint64
	if err := json.Unmarshal(data, &vInt); err != nil {
		return err
	}
	*id = ID{Num: vInt, isString: false}
	return nil
}

// Error represents a JSON-RPC response error.
type Error struct {
	Code    int64            `json:"code"`
	Message string           `json:"message"`
	Data    *json.RawMessage `json:"data,omitempty"`
}

// Error implements the Go error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error: code %v, message: %s", e.Code, e.Message)
}

// DecodeData unmarshals the optional data member into v. It reports false when absent.
func (e *Error) DecodeData(v any) bool {
	if e == nil || e.Data == nil {
		return false
	}
	return json.Unmarshal(*e.Data, v) == nil
}

// http://www.jsonrpc.org/specification#error_object.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)
