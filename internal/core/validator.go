package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"stowage/internal/types"
)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects field errors of one struct.
type ValidationResult struct {
	Errors []ValidationError `json:"errors,omitempty"`
}

// IsValid reports whether no field failed.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the billing rules and JSON
// field names in error reports.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags:
//
//	date_only    a YYYY-MM-DD calendar date
//	cutoff_day   an integer day of month in 1..31
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	if err := v.RegisterValidation("date_only", validateDateOnly); err != nil {
		logger.Error("failed to register date_only validator", "error", err)
	}
	if err := v.RegisterValidation("cutoff_day", validateCutoffDay); err != nil {
		logger.Error("failed to register cutoff_day validator", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s and returns an *types.AppError whose code is
// the one of the first failed field. All field errors are attached under
// the validation_errors detail.
func (v *Validator) ValidateStruct(s any) error {
	result := v.Check(s)
	if result.IsValid() {
		return nil
	}
	first := result.Errors[0]
	return types.NewAppErrorWithDetails(types.ErrorCode(first.Code), first.Message, nil,
		map[string]any{"validation_errors": result.Errors})
}

// Check validates s and returns every field error.
func (v *Validator) Check(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validation failed with non-field error", "error", err)
		return ValidationResult{Errors: []ValidationError{{
			Code:    string(types.ErrCodeValidationInvalidBody),
			Message: "request could not be validated",
		}}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:],
			Code:    tagToErrorCode(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}
	return ValidationResult{Errors: out}
}

func tagToErrorCode(tag string) string {
	switch tag {
	case "required":
		return string(types.ErrCodeValidationMissingField)
	case "date_only":
		return string(types.ErrCodeValidationInvalidDate)
	case "cutoff_day":
		return string(types.ErrCodeValidationCutoffDay)
	default:
		return string(types.ErrCodeValidationInvalidBody)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "date_only":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", fe.Field())
	case "cutoff_day":
		return fmt.Sprintf("%s must be between 1 and 31", fe.Field())
	case "min", "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain %s %s entries", fe.Field(), boundWord(fe.Tag()), fe.Param())
		}
		return fmt.Sprintf("%s must be %s %s", fe.Field(), boundWord(fe.Tag()), fe.Param())
	default:
		return fmt.Sprintf("%s failed the %s check", fe.Field(), fe.Tag())
	}
}

func boundWord(tag string) string {
	if tag == "min" {
		return "at least"
	}
	return "at most"
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

func validateDateOnly(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

func validateCutoffDay(fl validator.FieldLevel) bool {
	d := fl.Field().Int()
	return d >= 1 && d <= 31
}
