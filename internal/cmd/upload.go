package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/engine"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload checked out files back to the remote",
	Long: `Upload checked out files back to the remote.

Each file is sent with the fingerprint it was retrieved at. If the element
is not signed out to you, you are asked whether to sign it out first. If
the remote changed since retrieval, the remote version is written next to
the file as <file>.remote for you to merge before uploading again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	addChangeControlFlags(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc, err := requireChangeControl(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	for _, arg := range args {
		file, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		if err := a.uploadFile(cmd.Context(), file, cc); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", arg, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}
	return nil
}

// uploadFile sends one tracked file and, when the remote accepts it,
// records the new remote fingerprint so the next upload starts from it. If
// the remote no longer shows what was sent, the old fingerprint is kept and
// the next upload of the file runs into the conflict flow.
func (a *app) uploadFile(ctx context.Context, file string, cc element.ChangeControl) error {
	meta, err := a.store.Lookup(file)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	outcome := a.engine.UploadElement(ctx, meta.Path, cc, string(content), meta.Fingerprint)
	a.printer.Upload(meta.Path, outcome)

	switch o := outcome.(type) {
	case upload.Uploaded:
		fp, err := a.engine.Refresh(ctx, meta.Path, string(content))
		if errors.Is(err, engine.ErrRemoteChanged) {
			a.printer.Warn("%s changed on the remote right after the upload; merge before uploading again", meta.Path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("uploaded, but failed to read back the new fingerprint: %w", err)
		}
		return a.store.UpdateFingerprint(file, fp)
	case upload.Declined:
		return errors.ErrDeclined
	case upload.Failed:
		return o.Err
	}
	return nil
}
