package services

import (
	"errors"
	"reflect"
	"slices"
	"strings"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server/password"
	"github.com/go-playground/validator/v10"
)

var tagMessages = map[string]string{
	"required": "required",
	"email":    "invalid_email",
	"eqfield":  "mismatch",
	"max":      "too_long",
	"min":      "too_short",
}

// requestValidator checks request structs with go-playground/validator and
// new passwords with the password policy. Field names in the resulting
// common.ValidationError follow the JSON tags.
type requestValidator struct {
	v      *validator.Validate
	policy password.Policy
	// maxBytes is the hasher's input limit; 0 means none.
	maxBytes int
}

func newRequestValidator(policy password.Policy, maxBytes int) *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v, policy: policy, maxBytes: maxBytes}
}

// check validates req and, when passwordField is non-empty, applies the
// policy to pw under that field name. It returns nil when everything passes.
func (rv *requestValidator) check(req any, passwordField, pw string) error {
	ve := &common.ValidationError{}

	if err := rv.v.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			msg, ok := tagMessages[fe.Tag()]
			if !ok {
				msg = fe.Tag()
			}
			ve.Add(fe.Field(), msg)
		}
	}

	if passwordField != "" && pw != "" {
		reasons := rv.policy.Validate(pw)
		if rv.maxBytes > 0 && len(pw) > rv.maxBytes && !slices.Contains(reasons, "too_long") {
			reasons = append(reasons, "too_long")
		}
		if len(reasons) > 0 {
			ve.Add(passwordField, strings.Join(reasons, ","))
		}
	}

	if ve.Empty() {
		return nil
	}
	return ve
}
