package errors

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

// ValidationError carries field-specific validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ErrorCode returns CodeValidation.
func (e *ValidationError) ErrorCode() string { return CodeValidation }

// Validator validates request structs and converts failures into
// ValidationError values with English messages.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

// NewValidator creates a Validator using struct `validate` tags. Field names
// in messages come from the `json` tag when present.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(v, trans); err != nil {
		// Translations are static; failing here means a broken dependency.
		panic(fmt.Sprintf("register validator translations: %v", err))
	}

	return &Validator{validate: v, trans: trans}
}

// Struct validates s. It returns nil, a *ValidationError, or a wrapped error
// when s is not a validatable struct.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return fmt.Errorf("validate %T: %w", s, err)
	}
	return v.fromValidator(validationErrors)
}

func (v *Validator) fromValidator(validationErrors validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		fields[fe.Field()] = fe.Translate(v.trans)
	}
	return &ValidationError{Fields: fields}
}
