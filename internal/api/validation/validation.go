// Package validation checks decoded request bodies with go-playground/validator
// and reports failures keyed by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/hugh/go-reclaim/pkg/util"
)

var (
	accountIDRegex = regexp.MustCompile(`^\d{12}$`)
	regionRegex    = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-\d$`)
	roleARNRegex   = regexp.MustCompile(`^arn:aws:iam::\d{12}:role/[\w+=,.@/-]+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("awsaccount", func(fl validator.FieldLevel) bool {
		return accountIDRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("awsregion", func(fl validator.FieldLevel) bool {
		return IsValidRegion(fl.Field().String())
	})
	_ = v.RegisterValidation("rolearn", func(fl validator.FieldLevel) bool {
		return roleARNRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return util.ValidateCronExpr(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		ok, _ := IsValidPassword(fl.Field().String())
		return ok
	})

	return v
}

// Struct validates v and returns one message per failing field. A nil map
// means v is valid.
func Struct(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fieldPath(fe)
		if _, seen := out[field]; seen {
			continue
		}
		out[field] = message(fe)
	}
	return out
}

// fieldPath drops the top-level struct name: "CreateScanRequest.units[0].region" becomes "units[0].region".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "awsaccount":
		return "must be a 12 digit AWS account id"
	case "awsregion":
		return "must be an AWS region such as us-east-1"
	case "rolearn":
		return "must be an IAM role ARN"
	case "cron":
		return "must be a five field cron expression"
	case "password":
		_, msg := IsValidPassword(fmt.Sprint(fe.Value()))
		return msg
	case "uuid", "uuid4":
		return "must be a UUID"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func IsValidRegion(region string) bool {
	return regionRegex.MatchString(region)
}

// IsValidPassword checks password strength
func IsValidPassword(password string) (bool, string) {
	if len(password) < 8 {
		return false, "Password must be at least 8 characters"
	}
	if len(password) > 128 {
		return false, "Password must be at most 128 characters"
	}

	var (
		hasLetter bool
		hasNumber bool
	)

	for _, char := range password {
		switch {
		case unicode.IsLetter(char):
			hasLetter = true
		case unicode.IsNumber(char):
			hasNumber = true
		}
	}

	if !hasLetter {
		return false, "Password must contain at least one letter"
	}
	if !hasNumber {
		return false, "Password must contain at least one number"
	}

	return true, ""
}

// SanitizeString removes control characters except newlines and tabs
func SanitizeString(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
