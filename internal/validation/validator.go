// Package validation wraps go-playground/validator with the application's
// custom rules and translates failures into field error maps of the form
// {"email": ["Invalid email address"]}.
//
// Request structs declare rules with `validate` tags and name their fields
// with `json` tags; the json name is used as the error key:
//
//	type registerInput struct {
//	    Name  string `json:"name" validate:"required,min=3"`
//	    Phone string `json:"phone" validate:"required,phone"`
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	phonePattern    = regexp.MustCompile(`^[0-9]{10}$`)
	objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
)

// FieldErrors maps a request field name to its validation messages.
type FieldErrors map[string][]string

// Add appends a message for field.
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

// Merge copies all messages from other into fe.
func (fe FieldErrors) Merge(other FieldErrors) {
	for field, messages := range other {
		fe[field] = append(fe[field], messages...)
	}
}

// Empty reports whether there are no errors.
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// Error implements error so FieldErrors can travel through error returns.
func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for field, messages := range fe {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(messages, ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func instance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
			return IsObjectID(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// IsObjectID reports whether s is a 24 character hex identifier.
func IsObjectID(s string) bool {
	return objectIDPattern.MatchString(s)
}

// Struct validates v and returns nil when it is valid.
func Struct(v any) FieldErrors {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return FieldErrors{"_": {err.Error()}}
	}

	out := FieldErrors{}
	for _, fe := range validationErrs {
		out.Add(fe.Field(), message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	label := humanize(fe.Field())

	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Invalid email address"
	case "phone":
		return "Phone number must be exactly 10 digits"
	case "objectid":
		return "Invalid " + strings.ToLower(label)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", label, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", label, fe.Param())
	case "gt":
		if fe.Param() == "0" {
			return label + " must be a positive number"
		}
		return fmt.Sprintf("%s must be greater than %s", label, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "latitude", "longitude":
		return "Invalid " + strings.ToLower(label)
	default:
		return label + " is invalid"
	}
}

// humanize turns a json field name like "newPassword" into "New password".
func humanize(field string) string {
	var b strings.Builder
	for i, r := range field {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
