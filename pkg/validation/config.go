package validation

import (
	"errors"
	"fmt"
	"time"
)

// ConfigValidator collects rule violations for one configuration value.
// Every rule runs; Validate joins whatever failed.
type ConfigValidator struct {
	name   string
	errors []error
}

// NewConfigValidator starts a validator whose messages are prefixed with
// name, e.g. "cluster.keepalive: ...".
func NewConfigValidator(name string) *ConfigValidator {
	return &ConfigValidator{name: name}
}

func (cv *ConfigValidator) fail(field, format string, args ...any) {
	cv.errors = append(cv.errors, fmt.Errorf("%s.%s: %s", cv.name, field, fmt.Sprintf(format, args...)))
}

// RangeInt requires min <= value <= max.
func (cv *ConfigValidator) RangeInt(field string, value, min, max int) *ConfigValidator {
	if value < min || value > max {
		cv.fail(field, "value %d is outside range [%d, %d]", value, min, max)
	}
	return cv
}

// MinDuration requires value >= min.
func (cv *ConfigValidator) MinDuration(field string, value, min time.Duration) *ConfigValidator {
	if value < min {
		cv.fail(field, "duration %v is below minimum %v", value, min)
	}
	return cv
}

// MaxDuration requires value <= max.
func (cv *ConfigValidator) MaxDuration(field string, value, max time.Duration) *ConfigValidator {
	if value > max {
		cv.fail(field, "duration %v exceeds maximum %v", value, max)
	}
	return cv
}

// RangeDuration requires min <= value <= max. Deadtimes are checked against
// multiples of the keepalive this way.
func (cv *ConfigValidator) RangeDuration(field string, value, min, max time.Duration) *ConfigValidator {
	if value < min || value > max {
		cv.fail(field, "duration %v is outside range [%v, %v]", value, min, max)
	}
	return cv
}

// Custom records the error fn returns, wrapped so errors.Is still matches
// sentinels.
func (cv *ConfigValidator) Custom(field string, fn func() error) *ConfigValidator {
	if err := fn(); err != nil {
		cv.errors = append(cv.errors, fmt.Errorf("%s.%s: %w", cv.name, field, err))
	}
	return cv
}

// When runs rules only if condition holds, for settings that are only
// checked when set.
func (cv *ConfigValidator) When(condition bool, rules func(*ConfigValidator)) *ConfigValidator {
	if condition {
		rules(cv)
	}
	return cv
}

// Validate returns every collected error joined, or nil.
func (cv *ConfigValidator) Validate() error {
	return errors.Join(cv.errors...)
}

// Validatable is implemented by configuration types that check themselves.
type Validatable interface {
	Validate() error
}

// ValidateConfig validates config, rejecting a nil value.
func ValidateConfig(config Validatable) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}
	return config.Validate()
}

// DefaultOr returns value, or def when value is the zero value.
func DefaultOr[T comparable](value, def T) T {
	var zero T
	if value == zero {
		return def
	}
	return value
}
