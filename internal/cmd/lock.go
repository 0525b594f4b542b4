package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/elmctl/internal/signout"
)

var signoutCmd = &cobra.Command{
	Use:   "signout <ENV/STAGE/SYSTEM/SUBSYSTEM/TYPE/NAME>...",
	Short: "Sign elements out without retrieving them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSignOut,
}

var signinCmd = &cobra.Command{
	Use:   "signin <ENV/STAGE/SYSTEM/SUBSYSTEM/TYPE/NAME>...",
	Short: "Release sign-outs held by you",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSignIn,
}

func init() {
	rootCmd.AddCommand(signoutCmd)
	rootCmd.AddCommand(signinCmd)
	addChangeControlFlags(signoutCmd)
}

func runSignOut(cmd *cobra.Command, args []string) error {
	paths, err := parsePaths(args)
	if err != nil {
		return err
	}
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
	for _, p := range paths {
		outcome := a.engine.SignOutElement(cmd.Context(), p, cc)
		a.printer.SignOut(p, outcome)
		if _, ok := outcome.(signout.Granted); !ok {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d elements not signed out", failed, len(paths))
	}
	return nil
}

func runSignIn(cmd *cobra.Command, args []string) error {
	paths, err := parsePaths(args)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	for _, p := range paths {
		err := a.engine.SignInElement(cmd.Context(), p)
		a.printer.SignIn(p, err)
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d elements not signed in", failed, len(paths))
	}
	return nil
}
