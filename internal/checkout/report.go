package checkout

import (
	"fmt"

	"github.com/Iron-Ham/elmctl/internal/dependency"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
)

// Mode is how an element's content was obtained.
type Mode int

const (
	// ModeNone means no content was obtained.
	ModeNone Mode = iota
	// ModeCopy is a read-only retrieval without a lock.
	ModeCopy
	// ModeSignedOut means the element was retrieved and locked to us.
	ModeSignedOut
	// ModeOverridden means the lock was taken from another user.
	ModeOverridden
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeCopy:
		return "copy"
	case ModeSignedOut:
		return "signed-out"
	case ModeOverridden:
		return "overridden"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Locked reports whether the mode holds a sign-out lock.
func (m Mode) Locked() bool {
	return m == ModeSignedOut || m == ModeOverridden
}

// Entry is the outcome for one requested element.
type Entry struct {
	Path         element.Path
	Mode         Mode
	Fingerprint  element.Fingerprint
	Location     string
	Dependencies []dependency.Dependency
	Warnings     []string
	Err          error
}

// OK reports whether the element itself was retrieved and saved.
func (e Entry) OK() bool {
	return e.Err == nil
}

// Report aggregates a batch. Entries has exactly one entry per requested
// element, in request order.
type Report struct {
	BatchID string
	Entries []Entry
}

// Succeeded returns the number of entries without an error.
func (r *Report) Succeeded() int {
	n := 0
	for _, e := range r.Entries {
		if e.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of entries with an error.
func (r *Report) Failed() int {
	return len(r.Entries) - r.Succeeded()
}

// Err joins every per-element failure, or returns nil when all succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, e := range r.Entries {
		if e.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Path, e.Err))
		}
	}
	return errors.Join(errs...)
}
