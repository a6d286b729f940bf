package validation

import (
	"math"
	"time"

	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return gperrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that a numeric value is non-negative (>= 0).
func ValidateNonNegative(module, field string, value float64) error {
	if value < 0 {
		return gperrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidatePositiveFloat validates that a float64 value is finite and positive.
func ValidatePositiveFloat(module, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return gperrors.NewValidationError(module, field, value, "must be finite").
			WithHint("value must be a real number greater than 0")
	}
	if value <= 0 {
		return gperrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is not negative.
func ValidateNonNegativeDuration(module, field string, value time.Duration) error {
	if value < 0 {
		return gperrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 for the default or a positive duration")
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return gperrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return gperrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
