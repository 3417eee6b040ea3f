// Package validation wraps go-playground/validator with the request tags used by the handlers.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Validator checks request payloads against their struct tags.
type Validator struct {
	v *validatorv10.Validate
}

// FieldErrors maps JSON field paths to a short reason.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+" "+e.Fields[key])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// New returns a validator reporting JSON field names and understanding the civildate, decimal
// and notblank tags.
func New() *Validator {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	mustRegister(v, "civildate", func(fl validatorv10.FieldLevel) bool {
		raw := strings.TrimSpace(fl.Field().String())
		if raw == "" {
			return true
		}
		_, err := civil.ParseDate(raw)
		return err == nil
	})
	mustRegister(v, "decimal", func(fl validatorv10.FieldLevel) bool {
		raw := strings.TrimSpace(fl.Field().String())
		if raw == "" {
			return true
		}
		_, err := decimal.NewFromString(raw)
		return err == nil
	})
	mustRegister(v, "notblank", func(fl validatorv10.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{v: v}
}

func mustRegister(v *validatorv10.Validate, tag string, fn validatorv10.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validation: register %s: %v", tag, err))
	}
}

// Struct validates value and returns *FieldErrors on failure.
func (v *Validator) Struct(value any) error {
	err := v.v.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validatorv10.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &FieldErrors{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fieldPath(fe.Namespace())] = describe(fe)
	}
	return out
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " entries"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		if fe.Kind() == reflect.Slice {
			return "must contain at most " + fe.Param() + " entries"
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "civildate":
		return "must be a YYYY-MM-DD date"
	case "decimal":
		return "must be a decimal number"
	}
	return "is invalid (" + fe.Tag() + ")"
}
