package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "a", Value: 1, Message: "bad"},
			{Field: "b", Value: 2, Message: "worse"},
		}
		got := errs.Error()
		if !strings.HasPrefix(got, "2 validation errors:") {
			t.Errorf("Error() = %q", got)
		}
		if !strings.Contains(got, "1. a: bad") || !strings.Contains(got, "2. b: worse") {
			t.Errorf("Error() missing entries: %q", got)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		fields []string
	}{
		{
			name:   "defaults are valid",
			modify: func(c *Config) {},
		},
		{
			name: "valid gateway",
			modify: func(c *Config) {
				c.Gateway.BaseURL = "https://host:9443/EndevorService/api/v2"
				c.Gateway.Instance = "ENDEVOR"
			},
		},
		{
			name:   "base url without scheme",
			modify: func(c *Config) { c.Gateway.BaseURL = "host:9443/api"; c.Gateway.Instance = "E" },
			fields: []string{"gateway.base_url"},
		},
		{
			name:   "base url without instance",
			modify: func(c *Config) { c.Gateway.BaseURL = "http://host/api" },
			fields: []string{"gateway.instance"},
		},
		{
			name:   "zero timeout",
			modify: func(c *Config) { c.Gateway.TimeoutSeconds = 0 },
			fields: []string{"gateway.timeout_seconds"},
		},
		{
			name: "rate limit and burst",
			modify: func(c *Config) {
				c.Gateway.RateLimit = 0
				c.Gateway.RateBurst = 0
			},
			fields: []string{"gateway.rate_limit", "gateway.rate_burst"},
		},
		{
			name:   "max parallel too high",
			modify: func(c *Config) { c.Checkout.MaxParallel = MaxParallelLimit + 1 },
			fields: []string{"checkout.max_parallel"},
		},
		{
			name:   "negative preview",
			modify: func(c *Config) { c.Checkout.PreviewLines = -1 },
			fields: []string{"checkout.preview_lines"},
		},
		{
			name:   "empty workspace",
			modify: func(c *Config) { c.Checkout.WorkspaceDir = "  " },
			fields: []string{"checkout.workspace_dir"},
		},
		{
			name:   "no watch patterns",
			modify: func(c *Config) { c.Edit.WatchPatterns = nil },
			fields: []string{"edit.watch_patterns"},
		},
		{
			name:   "bad glob",
			modify: func(c *Config) { c.Edit.IgnorePatterns = []string{"ok/**", "[abc"} },
			fields: []string{"edit.ignore_patterns[1]"},
		},
		{
			name:   "negative debounce",
			modify: func(c *Config) { c.Edit.DebounceMs = -1 },
			fields: []string{"edit.debounce_ms"},
		},
		{
			name:   "unknown log level",
			modify: func(c *Config) { c.Logging.Level = "trace" },
			fields: []string{"logging.level"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			errs := cfg.Validate()
			if len(errs) != len(tt.fields) {
				t.Fatalf("got %d errors %v, want fields %v", len(errs), ValidationErrors(errs), tt.fields)
			}
			for i, field := range tt.fields {
				if errs[i].Field != field {
					t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, field)
				}
			}
		})
	}
}
