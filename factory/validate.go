package factory

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/payment-engine/billing"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in problems.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks v's `validate` struct tags. Violations come back as a
// billing.ValidationError on field, one problem per failing field.
func Validate(field string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &billing.ValidationError{Field: field, Problems: []string{err.Error()}}
	}
	problems := make([]string, 0, len(verrs))
	for _, e := range verrs {
		problems = append(problems, fieldPath(e)+": "+validationMessage(e))
	}
	return &billing.ValidationError{Field: field, Problems: problems}
}

// fieldPath drops the root struct name from the namespace, e.g.
// "ContractJSON.participants[0].role" becomes "participants[0].role".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "len":
		return "must be exactly " + e.Param() + " characters"
	case "min":
		if e.Kind() == reflect.Slice {
			return "must have at least " + e.Param() + " entries"
		}
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "required_without":
		return "is required when " + e.Param() + " is not set"
	case "uppercase":
		return "must be upper case"
	default:
		return "is invalid"
	}
}
