package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "graphsync/pkg/errors"
)

var validate = validator.New()

// ValidateStruct validates a struct based on its validation tags and returns
// a VALIDATION AppError listing every failing field.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(validationErrors))
	fields := make(map[string]interface{}, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
		fields[strings.ToLower(e.Field())] = e.Tag()
	}
	return apperrors.NewValidationError(strings.Join(msgs, "; ")).WithDetails(fields)
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + e.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + e.Param()
	case "nefield":
		return field + " must differ from " + strings.ToLower(e.Param())
	default:
		return field + " is invalid"
	}
}
