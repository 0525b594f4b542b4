package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/watch"
	"github.com/Iron-Ham/elmctl/internal/workspace"
)

var editCmd = &cobra.Command{
	Use:   "edit [dir]",
	Short: "Upload checked out files whenever they are saved",
	Long: `Watch the workspace (or a directory inside it) and upload each checked
out file when it is saved. Runs until interrupted.

Files are matched against edit.watch_patterns and edit.ignore_patterns.
Dependencies, metadata and .remote conflict copies are never uploaded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)
	addChangeControlFlags(editCmd)
}

func runEdit(cmd *cobra.Command, args []string) error {
	cc, err := requireChangeControl(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	dir := a.store.Root()
	if len(args) == 1 {
		if dir, err = filepath.Abs(args[0]); err != nil {
			return err
		}
	}

	edited, cancel := a.engine.Bus().SubscribeChan(event.TypeEdited, 64)
	defer cancel()

	w, err := watch.New(dir, a.engine.Bus(),
		watch.WithPatterns(a.cfg.Edit.WatchPatterns, a.cfg.Edit.IgnorePatterns),
		watch.WithDebounce(a.cfg.Edit.Debounce()),
		watch.WithLogger(a.logger))
	if err != nil {
		return err
	}
	w.Start()
	defer w.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s. Press Ctrl+C to stop.\n", dir)
	return a.editLoop(cmd.Context(), edited, cc)
}

// editLoop uploads each edited file until ctx is done. Failures are reported
// and the session continues.
func (a *app) editLoop(ctx context.Context, edited <-chan event.Event, cc element.ChangeControl) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-edited:
			ev, ok := e.(event.EditedEvent)
			if !ok || a.store.Ignored(ev.File) {
				continue
			}
			err := a.uploadFile(ctx, ev.File, cc)
			switch {
			case errors.Is(err, workspace.ErrNotTracked):
				a.logger.Debug("ignoring untracked file", "file", ev.File)
			case err != nil:
				a.logger.Warn("upload failed", "file", ev.File, "error", err)
			}
		}
	}
}
