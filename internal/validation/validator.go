package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

// New returns a validator that reports JSON field names and knows the
// payment_method tag.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("payment_method", func(fl validatorv10.FieldLevel) bool {
		return orders.PaymentMethod(fl.Field().String()).Valid()
	})
	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})

	return v
}

// checkoutStructValidation rejects idempotency keys with whitespace, which
// the Idempotency-Key header cannot carry intact.
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)
	if req.IdempotencyKey != "" && strings.ContainsAny(req.IdempotencyKey, " \t") {
		sl.ReportError(req.IdempotencyKey, "idempotencyKey", "IdempotencyKey", "no_whitespace", "")
	}
}
