package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete elmctl configuration
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Checkout CheckoutConfig `mapstructure:"checkout"`
	Edit     EditConfig     `mapstructure:"edit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// GatewayConfig controls how the remote source-control service is reached
type GatewayConfig struct {
	// BaseURL is the REST root, e.g. "https://host:9443/EndevorService/api/v2"
	BaseURL string `mapstructure:"base_url"`
	// Instance is the configured datasource name on the server
	Instance string `mapstructure:"instance"`
	// User for basic authentication
	User string `mapstructure:"user"`
	// Password for basic authentication. Prefer ELMCTL_GATEWAY_PASSWORD over the file.
	Password string `mapstructure:"password"`
	// TimeoutSeconds bounds every HTTP request (default: 60)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// RateLimit is the maximum sustained requests per second (default: 10)
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateBurst is the maximum burst above RateLimit (default: 5)
	RateBurst int `mapstructure:"rate_burst"`
	// RejectUnauthorized enables TLS certificate verification (default: true)
	RejectUnauthorized bool `mapstructure:"reject_unauthorized"`
}

// CheckoutConfig controls batch retrieval and upload behavior
type CheckoutConfig struct {
	// MaxParallel is the ceiling on concurrent remote calls in one phase (default: 4)
	MaxParallel int `mapstructure:"max_parallel"`
	// AutoSignOut skips the sign-out confirmation when an upload finds the
	// element is not signed out. Set by answering "always" at that prompt.
	AutoSignOut bool `mapstructure:"auto_signout"`
	// StrictSignOut turns failed sign-outs into hard failures instead of
	// falling back to a read-only copy (default: false)
	StrictSignOut bool `mapstructure:"strict_signout"`
	// RetrieveDependencies fetches each element's components alongside it (default: true)
	RetrieveDependencies bool `mapstructure:"retrieve_dependencies"`
	// WorkspaceDir is where retrieved elements are written (default: ".")
	WorkspaceDir string `mapstructure:"workspace_dir"`
	// PreviewLines is how many lines of each checked out element are shown
	// after a batch; 0 shows only its location (default: 5)
	PreviewLines int `mapstructure:"preview_lines"`
}

// EditConfig controls the watch-and-upload edit session
type EditConfig struct {
	// WatchPatterns are glob patterns (relative to the workspace) that trigger uploads
	WatchPatterns []string `mapstructure:"watch_patterns"`
	// IgnorePatterns are glob patterns excluded even when a watch pattern matches
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
	// DebounceMs coalesces bursts of writes to the same file (default: 300)
	DebounceMs int `mapstructure:"debounce_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logs are written to a file (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir overrides the log directory. Empty means {ConfigDir}/logs.
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			TimeoutSeconds:     60,
			RateLimit:          10,
			RateBurst:          5,
			RejectUnauthorized: true,
		},
		Checkout: CheckoutConfig{
			MaxParallel:          4,
			AutoSignOut:          false,
			StrictSignOut:        false,
			RetrieveDependencies: true,
			WorkspaceDir:         ".",
			PreviewLines:         5,
		},
		Edit: EditConfig{
			WatchPatterns:  []string{"**"},
			IgnorePatterns: []string{".elmctl/**", "**/.deps/**", "**.remote", "**.tmp-*"},
			DebounceMs:     300,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}
}

// Timeout returns the request timeout as a time.Duration
func (c *GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Debounce returns the debounce window as a time.Duration
func (c *EditConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// ResolveDir returns the directory log files go to.
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Gateway defaults
	v.SetDefault("gateway.base_url", defaults.Gateway.BaseURL)
	v.SetDefault("gateway.instance", defaults.Gateway.Instance)
	v.SetDefault("gateway.user", defaults.Gateway.User)
	v.SetDefault("gateway.password", defaults.Gateway.Password)
	v.SetDefault("gateway.timeout_seconds", defaults.Gateway.TimeoutSeconds)
	v.SetDefault("gateway.rate_limit", defaults.Gateway.RateLimit)
	v.SetDefault("gateway.rate_burst", defaults.Gateway.RateBurst)
	v.SetDefault("gateway.reject_unauthorized", defaults.Gateway.RejectUnauthorized)

	// Checkout defaults
	v.SetDefault("checkout.max_parallel", defaults.Checkout.MaxParallel)
	v.SetDefault("checkout.auto_signout", defaults.Checkout.AutoSignOut)
	v.SetDefault("checkout.strict_signout", defaults.Checkout.StrictSignOut)
	v.SetDefault("checkout.retrieve_dependencies", defaults.Checkout.RetrieveDependencies)
	v.SetDefault("checkout.workspace_dir", defaults.Checkout.WorkspaceDir)
	v.SetDefault("checkout.preview_lines", defaults.Checkout.PreviewLines)

	// Edit defaults
	v.SetDefault("edit.watch_patterns", defaults.Edit.WatchPatterns)
	v.SetDefault("edit.ignore_patterns", defaults.Edit.IgnorePatterns)
	v.SetDefault("edit.debounce_ms", defaults.Edit.DebounceMs)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "elmctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".elmctl"
	}
	return filepath.Join(home, ".config", "elmctl")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
