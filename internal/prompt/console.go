package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console asks questions as plain text lines. It is safe for concurrent use;
// questions are asked one at a time.
type Console struct {
	out  io.Writer
	opts options

	ask   sync.Mutex
	once  sync.Once
	in    io.Reader
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

var _ Prompter = (*Console)(nil)

// NewConsole creates a line-based prompter reading from in and writing to out.
func NewConsole(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{in: in, out: out}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// ConfirmOverride implements Prompter.
func (c *Console) ConfirmOverride(ctx context.Context, names []string) (bool, error) {
	c.ask.Lock()
	defer c.ask.Unlock()

	fmt.Fprintf(c.out, "%s signed out to another user.\n", describe(names))
	answer, err := c.question(ctx, "Override the sign-out? [y/N] ")
	if err != nil {
		return false, err
	}
	return isYes(answer), nil
}

// ConfirmSignOut implements Prompter.
func (c *Console) ConfirmSignOut(ctx context.Context, names []string) (SignOutChoice, error) {
	c.ask.Lock()
	defer c.ask.Unlock()

	fmt.Fprintf(c.out, "%s not signed out to you.\n", describe(names))
	answer, err := c.question(ctx, "Sign out before uploading? [y]es / [a]lways / [N]o ")
	if err != nil {
		return SignOutChoice{}, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "a", "always":
		return SignOutChoice{SignOut: true, AutomaticSignOut: true}, nil
	case "y", "yes":
		return SignOutChoice{SignOut: true}, nil
	default:
		return SignOutChoice{}, nil
	}
}

// ResolveConflict implements Prompter.
func (c *Console) ResolveConflict(ctx context.Context, conflict Conflict) (Resolution, error) {
	c.ask.Lock()
	defer c.ask.Unlock()

	fmt.Fprintf(c.out, "%s changed on the remote since it was retrieved (local %s, remote %s).\n",
		conflict.Path, conflict.LocalFingerprint, conflict.Remote.Fingerprint)

	if c.opts.writeConflict != nil {
		location, err := c.opts.writeConflict(conflict)
		if err != nil {
			return ResolutionCancelled, err
		}
		fmt.Fprintf(c.out, "Remote version written to %s. Merge it into your copy.\n", location)
	} else {
		fmt.Fprintln(c.out, "Remote version:")
		for _, line := range strings.Split(strings.TrimRight(conflict.Remote.Content, "\n"), "\n") {
			fmt.Fprintf(c.out, "> %s\n", line)
		}
	}

	answer, err := c.question(ctx, "Mark as resolved? [y/N] ")
	if err != nil {
		return ResolutionCancelled, err
	}
	if isYes(answer) {
		return ResolutionResolved, nil
	}
	return ResolutionCancelled, nil
}

func (c *Console) question(ctx context.Context, text string) (string, error) {
	fmt.Fprint(c.out, text)

	c.once.Do(func() {
		c.lines = make(chan lineResult)
		go c.scan()
	})

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", ctx.Err()
	case r, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return r.text, r.err
	}
}

// scan feeds input lines to question. It runs for the life of the Console so
// a cancelled question does not lose the next line.
func (c *Console) scan() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- lineResult{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		c.lines <- lineResult{err: err}
	}
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func describe(names []string) string {
	switch len(names) {
	case 0:
		return "No elements are"
	case 1:
		return fmt.Sprintf("Element %s is", names[0])
	default:
		return fmt.Sprintf("Elements %s are", strings.Join(names, ", "))
	}
}
