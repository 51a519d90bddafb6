package services

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, err := models.ParseRole(fl.Field().String())
		return err == nil
	})
	return v
}

// validateStruct runs struct tag validation and reports the first failing
// field as an input validation error.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Validation("Invalid input")
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperrors.Validation(field + " is required")
	case "email":
		return apperrors.Validation(field + " must be a valid email address")
	case "role":
		return apperrors.Validation(fmt.Sprintf("role must be one of %q or %q", models.RoleUser, models.RoleAdmin))
	case "min":
		return apperrors.Validation(fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
	default:
		return apperrors.Validation(field + " is invalid")
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
