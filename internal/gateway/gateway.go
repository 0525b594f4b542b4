// Package gateway defines the boundary between elmctl's protocols and the
// remote source-control service. Implementations live in subpackages: rest
// talks to a live server, fake keeps everything in memory for tests.
package gateway

import (
	"context"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/logging"
)

// Gateway is the set of remote operations the protocols consume. Every
// failure returned by an implementation must classify through
// errors.Classify; unclassified errors are treated as programming errors.
type Gateway interface {
	// Retrieve fetches an element's content and fingerprint without locking it.
	Retrieve(ctx context.Context, path element.Path) (element.Retrieved, error)

	// RetrieveWithSignOut fetches an element and signs it out to the caller in
	// one round trip. override takes the lock from its current holder.
	RetrieveWithSignOut(ctx context.Context, path element.Path, cc element.ChangeControl, override bool) (element.Retrieved, error)

	// SignOut acquires the element's lock without retrieving content.
	SignOut(ctx context.Context, path element.Path, cc element.ChangeControl, override bool) error

	// SignIn releases a lock held by the caller.
	SignIn(ctx context.Context, path element.Path) error

	// Update writes new content, asserting the version the caller edited.
	Update(ctx context.Context, path element.Path, cc element.ChangeControl, content string, fp element.Fingerprint) (UpdateResult, error)

	// SearchElementsInPlace lists every element at a search coordinate.
	SearchElementsInPlace(ctx context.Context, coord element.Coordinate) ([]element.Path, error)

	// Components lists the elements an element depends on.
	Components(ctx context.Context, path element.Path) ([]element.Component, error)
}

// UpdateResult carries the remote's response to an accepted update. A non-zero
// ReturnCode below the failure threshold means the update succeeded with
// warnings listed in Messages.
type UpdateResult struct {
	ReturnCode int
	Messages   []string
}

// RequestContext bundles what every protocol call needs to reach the remote.
// It is passed explicitly on each call.
type RequestContext struct {
	Gateway       Gateway
	ChangeControl element.ChangeControl
	Logger        *logging.Logger
}

// Log returns the context's logger, or a discarding logger when unset.
func (rc RequestContext) Log() *logging.Logger {
	if rc.Logger == nil {
		return logging.NopLogger()
	}
	return rc.Logger
}
