package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// entityIDPattern keeps ids safe to embed in broadcast index paths.
var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("entityid", func(fl validatorv10.FieldLevel) bool {
		return entityIDPattern.MatchString(fl.Field().String())
	})

	// register struct-level validation for SubmitOrderRequest to ensure
	// the provided TotalAmount matches the sum of (unitPrice * quantity) of items.
	v.RegisterStructValidation(submitOrderStructValidation, SubmitOrderRequest{})

	return v
}

// submitOrderStructValidation verifies the aggregated total of items equals TotalAmount (within cents)
func submitOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SubmitOrderRequest)

	var sum float64
	for _, it := range req.Items {
		sum += float64(it.Quantity) * it.UnitPrice
	}

	if orders.Cents(sum) != orders.Cents(req.TotalAmount) {
		sl.ReportError(req.TotalAmount, "totalAmount", "TotalAmount", "amount_match_items", fmt.Sprintf("items sum %.2f != total %.2f", sum, req.TotalAmount))
	}
}

// Error lists the offending fields. It unwraps to apperr.ErrValidation.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return apperr.ErrValidation }

// Check validates req and converts failures into *Error.
func Check(v *validatorv10.Validate, req interface{}) error {
	if err := v.Struct(req); err != nil {
		return &Error{Fields: validationErrorsToMap(err)}
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.StructNamespace()] = fe.Error() // simple message; can be improved
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
