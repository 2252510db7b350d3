// Package validator wraps go-playground/validator for request DTOs.
package validator

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Validator is injected into handlers so custom tags such as "phone" are
// registered once at startup.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{
		v: validator.New(),
	}
}

// Struct checks the validate tags of s.
func (val *Validator) Struct(s interface{}) error {
	return val.v.Struct(s)
}

// RegisterValidation adds a custom tag. It must run before the first Struct call.
func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}

// Fields maps each failing struct field to the tag it violated, for use as
// response details. It returns nil when err carries no field errors.
func Fields(err error) map[string]string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
