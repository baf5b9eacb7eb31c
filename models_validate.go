package eapi

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	validate        = newValidator()
)

// FieldError names the first request field that failed validation.
type FieldError struct {
	// JSON path of the field, e.g. cart[0].name.
	Field  string
	Tag    string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Reason
}

// Validate checks the request against the gateway field rules.
func (r PayInitReq) Validate() error {
	if err := validate.Struct(r); err != nil {
		return normalizeValidationError(err)
	}
	if r.PayOperation == "customPayment" && r.CustomExpiry == nil {
		return &FieldError{Field: "customExpiry", Tag: "required", Reason: "is required for customPayment"}
	}
	var sum int64
	for _, item := range r.Cart {
		sum += item.Amount
	}
	if sum != r.TotalAmount {
		return &FieldError{Field: "totalAmount", Tag: "cart_sum", Reason: fmt.Sprintf("must equal the cart total %d", sum)}
	}
	return nil
}

// Validate checks the request against the gateway field rules.
func (r PayOneclickInitReq) Validate() error {
	if err := validate.Struct(r); err != nil {
		return normalizeValidationError(err)
	}
	return nil
}

// Validate checks the request against the gateway field rules.
func (r PayRefundReq) Validate() error {
	if err := validate.Struct(r); err != nil {
		return normalizeValidationError(err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	if err := v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return currencyPattern.MatchString(value)
	}); err != nil {
		panic(err)
	}

	return v
}

func normalizeValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	first := validationErrs[0]
	return &FieldError{
		Field:  jsonPath(first),
		Tag:    first.Tag(),
		Reason: validationMessage(first),
	}
}

func jsonPath(fe validator.FieldError) string {
	path := fe.Namespace()
	if idx := strings.Index(path, "."); idx >= 0 {
		path = path[idx+1:]
	}
	if path == "" {
		return fe.Field()
	}
	return path
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		switch fe.Kind() {
		case reflect.Slice:
			return fmt.Sprintf("cannot have more than %s entries", fe.Param())
		case reflect.String:
			return fmt.Sprintf("cannot exceed %s characters", fe.Param())
		}
		return fmt.Sprintf("cannot exceed %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "alpha":
		return "must contain letters only"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "currency":
		return "must be an uppercase 3-letter ISO-4217 code"
	case "url":
		return "must be an absolute URL"
	case "base64":
		return "must be base64 encoded"
	case "ip":
		return "must be an IP address"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
