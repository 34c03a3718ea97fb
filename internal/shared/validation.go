package shared

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

// PhoneRegion is the default region used to parse local phone numbers.
const PhoneRegion = "VN"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("vnphone", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == "" || ValidPhone(value)
	})
	return v
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationError is returned by the validation layer. It unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Rule)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Unwrap exposes the validation kind.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Code derives a stable code. A single failing field gets a field specific code.
func (e *ValidationError) Code() string {
	if len(e.Fields) != 1 {
		return "VALIDATION_FAILED"
	}
	f := e.Fields[0]
	field := strings.ToUpper(f.Field)
	switch f.Rule {
	case "required":
		return field + "_IS_REQUIRED"
	case "vnphone":
		return "INVALID_PHONE_NUMBER"
	case "email":
		return "INVALID_EMAIL"
	case "oneof":
		return "INVALID_" + field
	}
	return "INVALID_" + field
}

// Validate runs struct tag validation and converts failures to *ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return out
}

// FieldInvalid builds a single field validation error.
func FieldInvalid(field, rule string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Rule: rule}}}
}

// ValidPhone reports whether phone parses as a valid number for PhoneRegion.
func ValidPhone(phone string) bool {
	num, err := libphonenumber.Parse(phone, PhoneRegion)
	if err != nil {
		return false
	}
	return libphonenumber.IsValidNumber(num)
}

// ValidEmail reports whether email is syntactically valid.
func ValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}
