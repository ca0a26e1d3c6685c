package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates runner configurations. A single shared
// go-playground/validator/v10 instance backs struct-tag checks
// (`validate:"required"` etc.); Validate then translates the first
// failing field into this package's sentinel errors so callers can
// errors.Is against a stable taxonomy instead of parsing validator
// messages.
type Validator struct {
	tags *validator.Validate
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{tags: validator.New()}
}

// Validate performs comprehensive validation of a RunnerConfig.
// Returns nil if valid, or an error describing the first validation failure.
func (v *Validator) Validate(cfg *RunnerConfig) error {
	if cfg == nil {
		return ErrConfigEmpty
	}

	if err := v.tags.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("validating config: %w", err)
		}
		return translateFieldError(verrs[0])
	}

	return nil
}

// translateFieldError maps the first go-playground/validator field error to
// this package's sentinel for that field, so the rest of the codebase can
// errors.Is against a fixed set instead of the validator's generic errors.
func translateFieldError(fe validator.FieldError) error {
	field := fe.Namespace()
	switch {
	case strings.Contains(field, "Credentials.Token"):
		return ErrTokenEmpty
	case strings.Contains(field, "Repository."):
		return ErrRepositoryEmpty
	case strings.Contains(field, "TasksFile"):
		return ErrTasksFileEmpty
	case strings.Contains(field, "NoTaskBackoff"), strings.Contains(field, "ErrorBackoff"):
		return ErrBackoffNonPositive
	case strings.Contains(field, "JobsRoot"):
		return ErrJobsRootEmpty
	case strings.Contains(field, "Budget."):
		return ErrBudgetNonPositive
	case strings.Contains(field, "Logging.Level"):
		return ErrLoggingLevelInvalid
	case strings.Contains(field, "Logging.Format"):
		return ErrLoggingFormatInvalid
	default:
		return fmt.Errorf("field %s: %w", field, fe)
	}
}
