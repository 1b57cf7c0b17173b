package handler

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/promo"
)

// checker validates request DTOs and reports every violated field.
type checker struct {
	v *validator.Validate
}

func newChecker() *checker {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		return f.Interface().(decimal.Decimal).InexactFloat64()
	}, decimal.Decimal{})
	if err := v.RegisterValidation("discounttype", func(fl validator.FieldLevel) bool {
		_, ok := promo.ParseDiscountType(fl.Field().String())
		return ok
	}); err != nil {
		panic(fmt.Sprintf("register discounttype validation: %v", err))
	}
	return &checker{v: v}
}

// fields returns the violations of dto.
func (c *checker) fields(dto any) []apperr.FieldError {
	err := c.v.Struct(dto)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []apperr.FieldError{{Field: "body", Message: err.Error()}}
	}

	out := make([]apperr.FieldError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, apperr.FieldError{Field: fieldPath(fe), Message: fieldMessage(fe)})
	}
	return out
}

// check returns an aggregated validation error for dto plus extra.
func (c *checker) check(dto any, extra ...apperr.FieldError) error {
	fields := append(c.fields(dto), extra...)
	if len(fields) == 0 {
		return nil
	}
	return apperr.Validation(fields)
}

// fieldPath drops the top-level struct name: "placeOrderRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func fieldMessage(fe validator.FieldError) string {
	p := fe.Param()
	isLen := fe.Kind() == reflect.String || fe.Kind() == reflect.Slice
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + p + " item(s)"
		}
		if isLen {
			return "must be at least " + p + " characters"
		}
		return "must be at least " + p
	case "max":
		if isLen {
			return "must be " + p + " characters or fewer"
		}
		return "must be at most " + p
	case "len":
		return "must be exactly " + p + " characters"
	case "gt":
		return "must be greater than " + p
	case "gte":
		return "must be " + p + " or greater"
	case "lte":
		return "must be at most " + p
	case "numeric":
		return "must contain only digits"
	case "email":
		return "must be a valid email address"
	case "discounttype":
		return "must be FLAT or PERCENTAGE"
	default:
		return "is invalid"
	}
}
