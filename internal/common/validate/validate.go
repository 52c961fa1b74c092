// Package validate decodes request bodies strictly and validates them with
// one validator instance shared by every handler.
package validate

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"

	"judgehub/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]+$`)

// Validator wraps a compiled go-playground validator.
type Validator struct {
	v *validator.Validate
}

// New builds a Validator with the custom tags used by request types.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("label", func(fl validator.FieldLevel) bool {
		return labelPattern.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// Struct validates s and converts the first failure into a coded error.
func (val *Validator) Struct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.ValidationError(fe.Namespace(), describe(fe))
	}
	return errors.Wrap(err, errors.ValidationFailed)
}

// Decode reads one JSON object from r, rejecting unknown fields and trailing data,
// then validates it. An empty body decodes as {}.
func (val *Validator) Decode(r io.Reader, dst any) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, errors.InvalidParams)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if field, ok := unknownField(err); ok {
			return errors.New(errors.UnknownField).WithDetail("field", field)
		}
		return errors.Wrapf(err, errors.InvalidFormat, "invalid json body: %v", err)
	}
	if dec.More() {
		return errors.New(errors.InvalidFormat).WithMessage("unexpected data after json body")
	}
	return val.Struct(dst)
}

// BindJSON decodes the request body of c into dst.
func (val *Validator) BindJSON(c *gin.Context, dst any) error {
	return val.Decode(c.Request.Body, dst)
}

// BindQuery binds query parameters into dst and validates it.
func (val *Validator) BindQuery(c *gin.Context, dst any) error {
	if err := c.ShouldBindQuery(dst); err != nil {
		return errors.Wrapf(err, errors.InvalidParams, "invalid query: %v", err)
	}
	return val.Struct(dst)
}

func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}

func describe(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
}
