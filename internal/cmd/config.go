package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/elmctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View elmctl configuration",
	Long: `View elmctl configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

// shownConfig mirrors config.Config with yaml tags for display. The password
// is masked.
type shownConfig struct {
	Gateway struct {
		BaseURL            string  `yaml:"base_url"`
		Instance           string  `yaml:"instance"`
		User               string  `yaml:"user"`
		Password           string  `yaml:"password,omitempty"`
		TimeoutSeconds     int     `yaml:"timeout_seconds"`
		RateLimit          float64 `yaml:"rate_limit"`
		RateBurst          int     `yaml:"rate_burst"`
		RejectUnauthorized bool    `yaml:"reject_unauthorized"`
	} `yaml:"gateway"`
	Checkout struct {
		MaxParallel          int    `yaml:"max_parallel"`
		AutoSignOut          bool   `yaml:"auto_signout"`
		StrictSignOut        bool   `yaml:"strict_signout"`
		RetrieveDependencies bool   `yaml:"retrieve_dependencies"`
		WorkspaceDir         string `yaml:"workspace_dir"`
		PreviewLines         int    `yaml:"preview_lines"`
	} `yaml:"checkout"`
	Edit struct {
		WatchPatterns  []string `yaml:"watch_patterns"`
		IgnorePatterns []string `yaml:"ignore_patterns"`
		DebounceMs     int      `yaml:"debounce_ms"`
	} `yaml:"edit"`
	Logging struct {
		Enabled bool   `yaml:"enabled"`
		Level   string `yaml:"level"`
		Dir     string `yaml:"dir"`
	} `yaml:"logging"`
}

func showConfig(cfg *config.Config) shownConfig {
	var s shownConfig
	s.Gateway.BaseURL = cfg.Gateway.BaseURL
	s.Gateway.Instance = cfg.Gateway.Instance
	s.Gateway.User = cfg.Gateway.User
	if cfg.Gateway.Password != "" {
		s.Gateway.Password = "********"
	}
	s.Gateway.TimeoutSeconds = cfg.Gateway.TimeoutSeconds
	s.Gateway.RateLimit = cfg.Gateway.RateLimit
	s.Gateway.RateBurst = cfg.Gateway.RateBurst
	s.Gateway.RejectUnauthorized = cfg.Gateway.RejectUnauthorized

	s.Checkout.MaxParallel = cfg.Checkout.MaxParallel
	s.Checkout.AutoSignOut = cfg.Checkout.AutoSignOut
	s.Checkout.StrictSignOut = cfg.Checkout.StrictSignOut
	s.Checkout.RetrieveDependencies = cfg.Checkout.RetrieveDependencies
	s.Checkout.WorkspaceDir = cfg.Checkout.WorkspaceDir
	s.Checkout.PreviewLines = cfg.Checkout.PreviewLines

	s.Edit.WatchPatterns = cfg.Edit.WatchPatterns
	s.Edit.IgnorePatterns = cfg.Edit.IgnorePatterns
	s.Edit.DebounceMs = cfg.Edit.DebounceMs

	s.Logging.Enabled = cfg.Logging.Enabled
	s.Logging.Level = cfg.Logging.Level
	s.Logging.Dir = cfg.Logging.ResolveDir()
	return s
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(showConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: ELMCTL_* (e.g., ELMCTL_GATEWAY_PASSWORD)")

	return nil
}
