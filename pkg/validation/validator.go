package validation

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Validation constants
	MaxNodeNameLength = 63
	MaxClusterNodes   = 256

	// Regular expressions
	nodeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("nodename", func(fl validator.FieldLevel) bool {
		return ValidateNodeName(fl.Field().String()) == nil
	})
	_ = validate.RegisterValidation("busaddr", func(fl validator.FieldLevel) bool {
		return ValidateBusAddress(fl.Field().String()) == nil
	})
}

// ValidateStruct validates v against its `validate` struct tags. Besides the
// built-in tags it understands `nodename` and `busaddr`.
func ValidateStruct(v any) error {
	if v == nil {
		return errors.New("value cannot be nil")
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateNodeName checks a cluster node name.
func ValidateNodeName(name string) error {
	if name == "" {
		return errors.New("node name cannot be empty")
	}
	if len(name) > MaxNodeNameLength {
		return fmt.Errorf("node name '%s' exceeds maximum length of %d characters", name, MaxNodeNameLength)
	}
	if !nodeNamePattern.MatchString(name) {
		return fmt.Errorf("node name '%s' is invalid (alphanumeric, '.', '_' and '-' only)", name)
	}
	return nil
}

// ValidateBusAddress checks a transport address of the form tcp://host:port.
func ValidateBusAddress(addr string) error {
	rest, ok := strings.CutPrefix(addr, "tcp://")
	if !ok {
		return fmt.Errorf("address '%s' must use the tcp:// scheme", addr)
	}
	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return fmt.Errorf("address '%s': %w", addr, err)
	}
	if port == "" || (host == "" && !strings.HasPrefix(rest, ":")) {
		return fmt.Errorf("address '%s' is missing a port", addr)
	}
	return nil
}

// ValidateUniqueNames reports the first name that appears twice.
func ValidateUniqueNames(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return fmt.Errorf("duplicate node name '%s'", n)
		}
		seen[n] = true
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Namespace()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "nodename":
			return fmt.Errorf("%s: invalid node name %q", field, e.Value())
		case "busaddr":
			return fmt.Errorf("%s: invalid bus address %q", field, e.Value())
		case "uuid":
			return fmt.Errorf("%s: invalid UUID %q", field, e.Value())
		case "dive":
			// For array elements
			return fmt.Errorf("%s: invalid element in array", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
