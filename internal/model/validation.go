package model

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Brazilian medical council registration: 4 to 10 digits, optionally suffixed
// with the state, e.g. "123456/SP".
var crmPattern = regexp.MustCompile(`^[0-9]{4,10}(/[A-Z]{2})?$`)

// RegisterValidators installs custom binding rules on the validator engine.
func RegisterValidators(v *validator.Validate) error {
	return v.RegisterValidation("crm", func(fl validator.FieldLevel) bool {
		return crmPattern.MatchString(fl.Field().String())
	})
}
