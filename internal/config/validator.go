package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hatago/hatago/internal/domain/upstream"
)

// upstreamIDPattern mirrors the id pattern upstream.Spec.Validate enforces,
// duplicated here (rather than exported from that package) since it is a
// config-time input check, not a domain invariant.
var upstreamIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// RegisterCustomValidators registers the hub-specific validation tags. Must
// be called before validating a Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("upstream_id", validateUpstreamID); err != nil {
		return fmt.Errorf("failed to register upstream_id validator: %w", err)
	}
	return nil
}

// validateUpstreamID applies the same id pattern upstream.Spec.Validate
// enforces, so malformed ids are rejected at config-load time rather than
// surfacing later as a registry error.
func validateUpstreamID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return id != "" && len(id) <= 100 && upstreamIDPattern.MatchString(id)
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable, aggregated messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateUpstreamEntries(); err != nil {
		return err
	}

	if _, err := c.ToSpecs(); err != nil {
		return err
	}

	return nil
}

// validateUpstreamEntries applies per-entry mutual-exclusion and
// cross-reference rules that validator struct tags can't express (they
// depend on more than one field, or on the kind of form — compact vs.
// detailed — the entry takes).
func (c *Config) validateUpstreamEntries() error {
	for id, e := range c.MCPServers {
		hasCommand := e.Command != ""
		hasURL := e.URL != ""
		if hasCommand == hasURL {
			return fmt.Errorf("mcpServers[%s]: specify exactly one of command or url", id)
		}
	}

	for i, s := range c.Servers {
		hasLocal := s.Command != ""
		hasRemote := s.URL != ""
		if s.Kind == string(upstream.KindStdio) && !hasLocal {
			return fmt.Errorf("servers[%d] (%s): kind stdio requires command", i, s.ID)
		}
		if s.Kind != string(upstream.KindStdio) && !hasRemote {
			return fmt.Errorf("servers[%d] (%s): kind %s requires url", i, s.ID, s.Kind)
		}
		if hasLocal && hasRemote {
			return fmt.Errorf("servers[%d] (%s): specify command or url, not both", i, s.ID)
		}
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors into a single
// aggregated, human-readable error.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "eq":
		return fmt.Sprintf("%s must equal %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname", "ip":
		return fmt.Sprintf("%s must be a valid host", field)
	case "upstream_id":
		return fmt.Sprintf("%s must be a non-empty id using only alphanumerics, dot, hyphen, underscore", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
