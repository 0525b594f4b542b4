// Package prompt asks the human the questions the protocols cannot answer on
// their own: whether to take a lock from another user, whether to sign an
// element out before uploading, and how a fingerprint conflict was resolved.
//
// Three implementations are provided. [Console] reads answers line by line and
// suits pipes and CI. [Terminal] renders a bubbletea selection list when
// stdin is a TTY. [Scripted] returns fixed answers for tests and for the
// --yes / --no-override flags. [New] picks between the first two.
package prompt

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"golang.org/x/term"

	"github.com/Iron-Ham/elmctl/internal/element"
)

// Prompter is implemented by every prompt front end. Errors mean the question
// could not be asked (closed input, cancelled context); callers treat them
// as a refusal.
type Prompter interface {
	// ConfirmOverride asks whether to take the locks on names from their
	// current holders. One call covers every name.
	ConfirmOverride(ctx context.Context, names []string) (bool, error)

	// ConfirmSignOut asks whether to sign names out before writing them.
	ConfirmSignOut(ctx context.Context, names []string) (SignOutChoice, error)

	// ResolveConflict presents the local and remote versions of an element
	// whose upload was rejected and reports what the human did about it.
	ResolveConflict(ctx context.Context, c Conflict) (Resolution, error)
}

// SignOutChoice is the answer to ConfirmSignOut. AutomaticSignOut implies
// SignOut and asks that future uploads skip the question.
type SignOutChoice struct {
	SignOut          bool
	AutomaticSignOut bool
}

// Conflict describes an upload rejected because the remote moved on.
type Conflict struct {
	Path             element.Path
	Local            string
	LocalFingerprint element.Fingerprint
	Remote           element.Retrieved
}

// Resolution is the outcome of presenting a conflict.
type Resolution int

const (
	// ResolutionCancelled means the human abandoned the merge.
	ResolutionCancelled Resolution = iota
	// ResolutionResolved means the human merged and will upload again.
	ResolutionResolved
	// ResolutionUnavailable means the remote version could not be fetched,
	// so no merge view was shown.
	ResolutionUnavailable
)

func (r Resolution) String() string {
	switch r {
	case ResolutionCancelled:
		return "cancelled"
	case ResolutionResolved:
		return "resolved"
	case ResolutionUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ConflictWriter saves the remote side of a conflict somewhere the human can
// merge from and returns that location.
type ConflictWriter func(c Conflict) (string, error)

// Option configures the interactive prompters.
type Option func(*options)

type options struct {
	writeConflict ConflictWriter
}

// WithConflictWriter sets where the remote version of a conflict is written.
// Without one, the remote content is shown inline.
func WithConflictWriter(w ConflictWriter) Option {
	return func(o *options) { o.writeConflict = w }
}

// New returns a Terminal prompter when in is a terminal and a Console
// prompter otherwise.
func New(in *os.File, out io.Writer, opts ...Option) Prompter {
	if term.IsTerminal(int(in.Fd())) {
		return NewTerminal(in, out, opts...)
	}
	return NewConsole(in, out, opts...)
}

// -----------------------------------------------------------------------------
// Scripted
// -----------------------------------------------------------------------------

// Kind identifies a question in the Scripted log.
type Kind string

// Question kinds.
const (
	KindOverride Kind = "override"
	KindSignOut  Kind = "signout"
	KindConflict Kind = "conflict"
)

// Question is one recorded call to a Scripted prompter.
type Question struct {
	Kind  Kind
	Names []string
}

// Scripted answers every question the same way and records what was asked.
type Scripted struct {
	Override   bool
	SignOut    SignOutChoice
	Resolution Resolution
	Err        error

	mu    sync.Mutex
	asked []Question
}

var _ Prompter = (*Scripted)(nil)

// ConfirmOverride implements Prompter.
func (s *Scripted) ConfirmOverride(_ context.Context, names []string) (bool, error) {
	s.record(KindOverride, names)
	return s.Override, s.Err
}

// ConfirmSignOut implements Prompter.
func (s *Scripted) ConfirmSignOut(_ context.Context, names []string) (SignOutChoice, error) {
	s.record(KindSignOut, names)
	return s.SignOut, s.Err
}

// ResolveConflict implements Prompter.
func (s *Scripted) ResolveConflict(_ context.Context, c Conflict) (Resolution, error) {
	s.record(KindConflict, []string{c.Path.Name})
	return s.Resolution, s.Err
}

// Asked returns the questions asked so far, in order.
func (s *Scripted) Asked() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.asked)
}

// Count returns how many questions of kind k were asked.
func (s *Scripted) Count(k Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.asked {
		if q.Kind == k {
			n++
		}
	}
	return n
}

func (s *Scripted) record(k Kind, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, Question{Kind: k, Names: slices.Clone(names)})
}
