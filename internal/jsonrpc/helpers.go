package jsonrpc

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validator exposes the validator used by ShouldBindParams so callers can
// register their own tags.
func Validator() *validator.Validate {
	return validate
}

// ShouldBindParams is a helper to unmarshal and validate params
func ShouldBindParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ErrInvalidParams("params required")
	}
	if err := json.Unmarshal(*params, v); err != nil {
		return ErrInvalidParams("invalid params")
	}
	if err := validate.Struct(v); err != nil {
		return ErrInvalidParams("invalid params: " + err.Error())
	}
	return nil
}
