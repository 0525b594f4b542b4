package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/elmctl/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "elmctl",
	Short: "Check out, edit and upload mainframe source elements",
	Long: `elmctl retrieves elements from a remote source-control service into a
local workspace, signing them out when a change control is given, fetches
their dependencies alongside them, and uploads edited elements back with
fingerprint-checked updates.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/elmctl/config.yaml)")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace directory (default from checkout.workspace_dir)")
	rootCmd.PersistentFlags().Bool("yes", false, "answer yes to every sign-out and override question")
	rootCmd.PersistentFlags().Bool("no-override", false, "never override or take sign-outs without asking")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("checkout.workspace_dir", rootCmd.PersistentFlags().Lookup("workspace"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ELMCTL")
	// e.g., ELMCTL_GATEWAY_PASSWORD for gateway.password
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
