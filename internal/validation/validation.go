package validation

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var errEngine = errors.New("gin validator engine is not *validator.Validate")

// Error is one failed field, as returned to HTTP clients.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func FormatValidationError(err error) []Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]Error, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, Error{Field: e.Field(), Message: e.Error()})
	}
	return out
}

func Register(v *validator.Validate, tag string, fn validator.Func) error {
	return v.RegisterValidation(tag, fn)
}

func RegisterAlias(v *validator.Validate, tag string, alias string) {
	v.RegisterAlias(tag, alias)
}

func ginEngine() (*validator.Validate, error) {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil, errEngine
	}
	return v, nil
}

func MustRegisterGin(tag string, fn validator.Func) {
	v, err := ginEngine()
	if err == nil {
		err = Register(v, tag, fn)
	}
	if err != nil {
		panic(err)
	}
}

func MustRegisterGinAlias(tag string, alias string) {
	v, err := ginEngine()
	if err != nil {
		panic(err)
	}
	RegisterAlias(v, tag, alias)
}
