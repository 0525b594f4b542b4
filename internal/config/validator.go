package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "checkout.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Bounds for numeric settings.
const (
	MaxParallelLimit = 64
	maxTimeoutSecs   = 3600
	maxDebounceMs    = 60_000
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateGateway()...)
	errors = append(errors, c.validateCheckout()...)
	errors = append(errors, c.validateEdit()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateGateway validates the GatewayConfig. An empty base URL is allowed
// here; commands that talk to the remote reject it when they build a client.
func (c *Config) validateGateway() []ValidationError {
	var errors []ValidationError

	if c.Gateway.BaseURL != "" {
		u, err := url.Parse(c.Gateway.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "gateway.base_url",
				Value:   c.Gateway.BaseURL,
				Message: "must be an absolute http or https URL",
			})
		}
		if c.Gateway.Instance == "" {
			errors = append(errors, ValidationError{
				Field:   "gateway.instance",
				Value:   c.Gateway.Instance,
				Message: "is required when base_url is set",
			})
		}
	}

	if c.Gateway.TimeoutSeconds <= 0 || c.Gateway.TimeoutSeconds > maxTimeoutSecs {
		errors = append(errors, ValidationError{
			Field:   "gateway.timeout_seconds",
			Value:   c.Gateway.TimeoutSeconds,
			Message: fmt.Sprintf("must be between 1 and %d", maxTimeoutSecs),
		})
	}

	if c.Gateway.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "gateway.rate_limit",
			Value:   c.Gateway.RateLimit,
			Message: "must be positive",
		})
	}

	if c.Gateway.RateBurst < 1 {
		errors = append(errors, ValidationError{
			Field:   "gateway.rate_burst",
			Value:   c.Gateway.RateBurst,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateCheckout validates the CheckoutConfig
func (c *Config) validateCheckout() []ValidationError {
	var errors []ValidationError

	if c.Checkout.MaxParallel < 1 || c.Checkout.MaxParallel > MaxParallelLimit {
		errors = append(errors, ValidationError{
			Field:   "checkout.max_parallel",
			Value:   c.Checkout.MaxParallel,
			Message: fmt.Sprintf("must be between 1 and %d", MaxParallelLimit),
		})
	}

	if c.Checkout.PreviewLines < 0 {
		errors = append(errors, ValidationError{
			Field:   "checkout.preview_lines",
			Value:   c.Checkout.PreviewLines,
			Message: "must not be negative",
		})
	}

	if strings.TrimSpace(c.Checkout.WorkspaceDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "checkout.workspace_dir",
			Value:   c.Checkout.WorkspaceDir,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateEdit validates the EditConfig
func (c *Config) validateEdit() []ValidationError {
	var errors []ValidationError

	if len(c.Edit.WatchPatterns) == 0 {
		errors = append(errors, ValidationError{
			Field:   "edit.watch_patterns",
			Value:   c.Edit.WatchPatterns,
			Message: "must contain at least one pattern",
		})
	}
	errors = append(errors, validatePatterns("edit.watch_patterns", c.Edit.WatchPatterns)...)
	errors = append(errors, validatePatterns("edit.ignore_patterns", c.Edit.IgnorePatterns)...)

	if c.Edit.DebounceMs < 0 || c.Edit.DebounceMs > maxDebounceMs {
		errors = append(errors, ValidationError{
			Field:   "edit.debounce_ms",
			Value:   c.Edit.DebounceMs,
			Message: fmt.Sprintf("must be between 0 and %d", maxDebounceMs),
		})
	}

	return errors
}

func validatePatterns(field string, patterns []string) []ValidationError {
	var errors []ValidationError
	for i, p := range patterns {
		if _, err := glob.Compile(p, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Value:   p,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}
	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
