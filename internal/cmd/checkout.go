package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/elmctl/internal/element"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout [ENV/STAGE/SYSTEM/SUBSYSTEM/TYPE/NAME]...",
	Short: "Retrieve elements and their dependencies into the workspace",
	Long: `Retrieve elements and their dependencies into the workspace.

With --ccid and --comment the elements are signed out to you. Elements signed
out to someone else are listed together and you are asked once whether to
override; declined or failed sign-outs fall back to read-only copies unless
--strict is given. Without a change control, or with --copy, read-only
copies are retrieved.

Each retrieved element is then shown in the order given, with the first
checkout.preview_lines lines of its file.

Elements can also be listed in a YAML manifest:

  ccid: CR1234
  comment: payroll fix
  elements:
    - DEV/1/FIN/AP/COBOL/PAYROLL
    - DEV/1/FIN/AP/COPY/PAYREC`,
	RunE: runCheckout,
}

func init() {
	rootCmd.AddCommand(checkoutCmd)
	addChangeControlFlags(checkoutCmd)
	checkoutCmd.Flags().IntP("parallel", "p", 0, "maximum concurrent remote calls (default from checkout.max_parallel)")
	checkoutCmd.Flags().Bool("strict", false, "fail elements that cannot be signed out instead of copying them")
	checkoutCmd.Flags().Bool("no-deps", false, "do not retrieve dependencies")
	checkoutCmd.Flags().String("from", "", "read elements from a YAML manifest")
	checkoutCmd.Flags().Bool("copy", false, "retrieve read-only copies even when a change control is given")
}

// manifest is the --from file format.
type manifest struct {
	CCID     string   `yaml:"ccid"`
	Comment  string   `yaml:"comment"`
	Elements []string `yaml:"elements"`
}

func loadManifest(path string) (manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// checkoutRequest merges arguments, flags and the manifest. Flags win over
// the manifest's change control, and --copy drops any change control.
func checkoutRequest(cmd *cobra.Command, args []string) ([]element.Path, *element.ChangeControl, error) {
	names := args
	cc, ok, err := changeControl(cmd)
	if err != nil {
		return nil, nil, err
	}

	if from, _ := cmd.Flags().GetString("from"); from != "" {
		m, err := loadManifest(from)
		if err != nil {
			return nil, nil, err
		}
		names = append(append([]string{}, args...), m.Elements...)
		if !ok && (m.CCID != "" || m.Comment != "") {
			cc = element.ChangeControl{CCID: m.CCID, Comment: m.Comment}
			if err := cc.Validate(); err != nil {
				return nil, nil, fmt.Errorf("manifest %s: %w", from, err)
			}
			ok = true
		}
	}

	if len(names) == 0 {
		return nil, nil, fmt.Errorf("no elements given")
	}
	paths, err := parsePaths(names)
	if err != nil {
		return nil, nil, err
	}
	if copyOnly, _ := cmd.Flags().GetBool("copy"); copyOnly || !ok {
		return paths, nil, nil
	}
	return paths, &cc, nil
}

func runCheckout(cmd *cobra.Command, args []string) error {
	paths, cc, err := checkoutRequest(cmd, args)
	if err != nil {
		return err
	}

	strict, _ := cmd.Flags().GetBool("strict")
	noDeps, _ := cmd.Flags().GetBool("no-deps")
	a, err := newApp(cmd, appOptions{strict: strict, skipDeps: noDeps})
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("parallel")
	if limit <= 0 {
		limit = a.cfg.Checkout.MaxParallel
	}

	r := a.engine.CheckoutAndRetrieve(cmd.Context(), paths, cc, limit)
	a.printer.Checkout(r)
	a.printer.Locks(a.engine.Ledger().Locks())

	if r.Failed() > 0 {
		return fmt.Errorf("%d of %d elements failed", r.Failed(), len(r.Entries))
	}
	return nil
}
