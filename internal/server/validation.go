package server

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
)

var registerValidatorsOnce sync.Once

func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		// Report json names so field errors match the request body.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("product_key", func(fl validator.FieldLevel) bool {
			return pricingdomain.ValidProductKey(fl.Field().String())
		})
	})
}

// bindingErrors converts validator failures into field errors.
func bindingErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range verrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    "invalid_" + fe.Field(),
			Message: fe.Tag(),
		})
	}
	return out
}
