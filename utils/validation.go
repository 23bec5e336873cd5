package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is the singleton validator instance
	validate *validator.Validate

	// slugRegex matches lowercase tenant and role slugs: burgerexpress, pizza-hub-2
	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	// permissionPartRegex matches a resource or action segment, or the "*" wildcard
	permissionPartRegex = regexp.MustCompile(`^(\*|[a-z][a-z0-9_]*)$`)
)

func init() {
	validate = validator.New()

	// Report JSON field names so clients can map errors to their payload
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("permpart", func(fl validator.FieldLevel) bool {
		return permissionPartRegex.MatchString(fl.Field().String())
	})
}

// ValidateStruct checks the validate tags of s. Tag failures come back as *ValidationError.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation errors with structured details
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Message
}

// fieldMessages renders a failed tag. %[1]s is the field, %[2]s the tag parameter.
var fieldMessages = map[string]string{
	"required": "%[1]s is required",
	"email":    "%[1]s must be a valid email",
	"uuid":     "%[1]s must be a valid UUID",
	"fqdn":     "%[1]s must be a fully qualified domain name",
	"slug":     "%[1]s must contain lowercase letters, digits and single dashes",
	"permpart": "%[1]s must be a lowercase identifier or *",
	"min":      "%[1]s must be at least %[2]s",
	"max":      "%[1]s must be at most %[2]s",
	"len":      "%[1]s must be exactly %[2]s characters",
	"gt":       "%[1]s must be greater than %[2]s",
	"gte":      "%[1]s must be greater than or equal to %[2]s",
	"lte":      "%[1]s must be less than or equal to %[2]s",
	"oneof":    "%[1]s must be one of: %[2]s",
}

// NewValidationError creates a ValidationError from validator.ValidationErrors.
// Fields are keyed by their JSON path, e.g. permission_ids[0].
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		field := fieldPath(err)
		format, ok := fieldMessages[err.Tag()]
		if !ok {
			format = "%[1]s failed the " + err.Tag() + " check"
		}
		fields[field] = fmt.Sprintf(format, err.Field(), err.Param())
	}

	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// fieldPath drops the root struct name from the namespace
func fieldPath(err validator.FieldError) string {
	ns := err.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return err.Field()
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields extracts field errors from a ValidationError
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}
