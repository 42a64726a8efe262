package service

import (
	"errors"
	"fmt"
	"strings"

	"marketplace/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the struct's validate tags and reports the first failure
// as a validation error naming the field.
func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return validationError(err, "")
	}
	return nil
}

// validateField checks a single value against a tag expression
func validateField(field string, value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return validationError(err, field)
	}
	return nil
}

func validationError(err error, field string) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return domain.Classify(domain.ErrValidation, err)
	}

	fe := fieldErrors[0]
	name := field
	if name == "" {
		name = toSnake(fe.Field())
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", name)
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
	case "gte":
		msg = fmt.Sprintf("%s must be greater than or equal to %s", name, fe.Param())
	case "email":
		msg = fmt.Sprintf("%s must be a valid email address", name)
	default:
		msg = fmt.Sprintf("%s is invalid", name)
	}
	return domain.NewError(domain.ErrValidation, msg)
}

func toSnake(s string) string {
	var b strings.Builder
	var prev rune
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			if prev >= 'a' && prev <= 'z' {
				b.WriteByte('_')
			}
			b.WriteRune(r + 'a' - 'A')
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}
