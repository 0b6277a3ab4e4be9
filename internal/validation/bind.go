package validation

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
)

// BindAndValidate binds the JSON body into out and validates it. Failures
// come back as validation errors with field details.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return apperr.Validation("invalid request body", apperr.FieldError{Field: "body", Message: err.Error()})
	}
	if err := v.Struct(out); err != nil {
		return apperr.Validation("validation failed", Details(err)...)
	}
	return nil
}

// Details flattens validator errors into field details keyed by the JSON
// path without the root struct name, e.g. "shippingAddress.city".
func Details(err error) []apperr.FieldError {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return []apperr.FieldError{{Field: "body", Message: err.Error()}}
	}
	out := make([]apperr.FieldError, 0, len(ve))
	for _, fe := range ve {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out = append(out, apperr.FieldError{Field: field, Message: message(fe)})
	}
	return out
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "payment_method":
		return "must be one of card, paypal, bank_transfer, cash_on_delivery, wallet"
	case "no_whitespace":
		return "must not contain whitespace"
	default:
		return "is invalid"
	}
}
