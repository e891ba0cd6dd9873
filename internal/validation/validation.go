// Package validation normalises and checks user input before it reaches the
// services. Every function reports the first violated field with a pt-BR message.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mercadoparceiro/api/internal/platform/textutil"
)

// Error names the offending field and carries a user-facing message.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	textPolicy   = bluemonday.StrictPolicy()
)

var brazilianStates = map[string]struct{}{
	"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {}, "DF": {}, "ES": {}, "GO": {},
	"MA": {}, "MT": {}, "MS": {}, "MG": {}, "PA": {}, "PB": {}, "PR": {}, "PE": {}, "PI": {},
	"RJ": {}, "RN": {}, "RS": {}, "RO": {}, "RR": {}, "SC": {}, "SP": {}, "SE": {}, "TO": {},
}

func engine() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		mustRegister(v, "cnpj", digitsOfLength(14))
		mustRegister(v, "cep", digitsOfLength(8))
		mustRegister(v, "phone_br", func(fl validator.FieldLevel) bool {
			n := len(fl.Field().String())
			return isDigits(fl.Field().String()) && (n == 10 || n == 11)
		})
		mustRegister(v, "document_br", func(fl validator.FieldLevel) bool {
			n := len(fl.Field().String())
			return isDigits(fl.Field().String()) && (n == 11 || n == 14)
		})
		mustRegister(v, "uf", func(fl validator.FieldLevel) bool {
			_, ok := brazilianStates[fl.Field().String()]
			return ok
		})
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validation: register %s: %v", tag, err))
	}
}

func digitsOfLength(n int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return len(value) == n && isDigits(value)
	}
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// check runs the struct validator and converts the first failure.
func check(input any) error {
	err := engine().Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Message: "Dados inválidos"}
	}
	return fromFieldError(verrs[0])
}

// SanitizeText strips markup and surrounding whitespace from free text.
func SanitizeText(value string) string {
	return strings.TrimSpace(textPolicy.Sanitize(strings.TrimSpace(value)))
}

// NormalizeCNPJ strips formatting and requires exactly 14 digits.
func NormalizeCNPJ(raw string) (string, error) {
	digits := textutil.DigitsOnly(raw)
	if len(digits) != 14 {
		return "", &Error{Field: "cnpj", Message: "CNPJ deve ter 14 dígitos"}
	}
	return digits, nil
}

// NormalizeCEP strips formatting and requires exactly 8 digits.
func NormalizeCEP(raw string) (string, error) {
	digits := textutil.DigitsOnly(raw)
	if len(digits) != 8 {
		return "", &Error{Field: "postal_code", Message: "CEP deve ter 8 dígitos"}
	}
	return digits, nil
}

// NormalizePhone accepts landline (10) and mobile (11) numbers with DDD.
func NormalizePhone(raw string) (string, error) {
	digits := textutil.DigitsOnly(raw)
	if strings.HasPrefix(digits, "55") && (len(digits) == 12 || len(digits) == 13) {
		digits = digits[2:]
	}
	if len(digits) != 10 && len(digits) != 11 {
		return "", &Error{Field: "phone", Message: "Telefone deve ter 10 ou 11 dígitos"}
	}
	return digits, nil
}
