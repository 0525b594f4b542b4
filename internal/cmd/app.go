package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/elmctl/internal/config"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/engine"
	"github.com/Iron-Ham/elmctl/internal/gateway"
	"github.com/Iron-Ham/elmctl/internal/gateway/rest"
	"github.com/Iron-Ham/elmctl/internal/logging"
	"github.com/Iron-Ham/elmctl/internal/prompt"
	"github.com/Iron-Ham/elmctl/internal/report"
	"github.com/Iron-Ham/elmctl/internal/workspace"
)

// newGateway builds the remote client. Tests replace it with an in-memory
// remote.
var newGateway = func(cfg config.GatewayConfig, logger *logging.Logger) (gateway.Gateway, error) {
	client, err := rest.New(rest.ConfigFrom(cfg), rest.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// app is everything a command needs to talk to the remote and the workspace.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *workspace.Store
	engine  *engine.Engine
	printer *report.Printer
}

type appOptions struct {
	strict   bool
	skipDeps bool
}

func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
	}

	root, err := filepath.Abs(cfg.Checkout.WorkspaceDir)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	fs := afero.NewOsFs()
	store := workspace.New(fs, root, workspace.WithLogger(logger))
	printer := report.New(cmd.OutOrStdout())

	p, err := newPrompter(cmd, store)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	gw, err := newGateway(cfg.Gateway, logger)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to configure gateway: %w", err)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSettings(config.NewSettings(viper.GetViper(), config.ConfigFile())),
		engine.WithStrictSignOut(cfg.Checkout.StrictSignOut || opts.strict),
		engine.WithViewer(report.NewViewer(printer, fs, cfg.Checkout.PreviewLines)),
	}
	if opts.skipDeps || !cfg.Checkout.RetrieveDependencies {
		engineOpts = append(engineOpts, engine.WithoutDependencies())
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		engine:  engine.New(gw, p, store, engineOpts...),
		printer: printer,
	}, nil
}

func (a *app) Close() {
	_ = a.logger.Close()
}

// newPrompter picks scripted answers when --yes or --no-override is set and
// asks on the terminal otherwise.
func newPrompter(cmd *cobra.Command, store *workspace.Store) (prompt.Prompter, error) {
	yes, _ := cmd.Flags().GetBool("yes")
	noOverride, _ := cmd.Flags().GetBool("no-override")

	switch {
	case yes && noOverride:
		return nil, fmt.Errorf("--yes and --no-override cannot be used together")
	case yes:
		return &prompt.Scripted{Override: true, SignOut: prompt.SignOutChoice{SignOut: true}}, nil
	case noOverride:
		return &prompt.Scripted{}, nil
	default:
		return prompt.New(os.Stdin, cmd.OutOrStdout(), prompt.WithConflictWriter(store.WriteConflict)), nil
	}
}

// changeControl reads --ccid and --comment. ok is false when neither is set.
func changeControl(cmd *cobra.Command) (cc element.ChangeControl, ok bool, err error) {
	cc.CCID, _ = cmd.Flags().GetString("ccid")
	cc.Comment, _ = cmd.Flags().GetString("comment")
	if cc.CCID == "" && cc.Comment == "" {
		return cc, false, nil
	}
	if err := cc.Validate(); err != nil {
		return cc, false, err
	}
	return cc, true, nil
}

// requireChangeControl is changeControl for commands that cannot run without one.
func requireChangeControl(cmd *cobra.Command) (element.ChangeControl, error) {
	cc, ok, err := changeControl(cmd)
	if err != nil {
		return cc, err
	}
	if !ok {
		return cc, fmt.Errorf("--ccid and --comment are required")
	}
	return cc, nil
}

func addChangeControlFlags(cmd *cobra.Command) {
	cmd.Flags().String("ccid", "", "change control identifier")
	cmd.Flags().String("comment", "", "change control comment")
}

func parsePaths(args []string) ([]element.Path, error) {
	paths := make([]element.Path, 0, len(args))
	for _, arg := range args {
		p, err := element.ParsePath(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
