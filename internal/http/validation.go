package http

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	validatorsOnce sync.Once
	validatorsErr  error
	mobilePattern  = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)
)

// fieldMessages are reported for any rule failure on the named field.
var fieldMessages = map[string]string{
	"userName":     "invalid username format",
	"passWord":     "invalid password format",
	"email":        "invalid email format",
	"phone":        "invalid phone format",
	"validityTime": "validity time is required",
}

// FieldError describes one rejected request field.
type FieldError struct {
	Value    any    `json:"value,omitempty"`
	Msg      string `json:"msg"`
	Param    string `json:"param,omitempty"`
	Location string `json:"location"`
}

// registerValidators makes gin's validator report json field names and adds
// the "mobile" rule. Without it phone numbers cannot be validated, so any
// failure is returned and the handler is not built.
func registerValidators() error {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			validatorsErr = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		if err := v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
			return mobilePattern.MatchString(fl.Field().String())
		}); err != nil {
			validatorsErr = fmt.Errorf("register mobile validator: %w", err)
		}
	})
	return validatorsErr
}

// bindJSON decodes and validates the body. An empty body is validated as an
// empty object so every missing field gets reported.
func bindJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return binding.Validator.ValidateStruct(obj)
	}
	return err
}

func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Msg: err.Error(), Location: "body"}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()]
		if !ok {
			msg = fe.Error()
		}
		out = append(out, FieldError{
			Value:    fe.Value(),
			Msg:      msg,
			Param:    fe.Field(),
			Location: "body",
		})
	}
	return out
}
