// Package engine wires the checkout, upload and sign-out coordinators into a
// single entry point for commands.
package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Iron-Ham/elmctl/internal/checkout"
	"github.com/Iron-Ham/elmctl/internal/dependency"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway"
	"github.com/Iron-Ham/elmctl/internal/logging"
	"github.com/Iron-Ham/elmctl/internal/prompt"
	"github.com/Iron-Ham/elmctl/internal/signout"
	"github.com/Iron-Ham/elmctl/internal/upload"
)

// Engine owns one gateway connection and the coordinators that use it.
type Engine struct {
	gateway  gateway.Gateway
	bus      *event.Bus
	logger   *logging.Logger
	settings upload.Settings
	viewer   checkout.Viewer
	strict   bool
	skipDeps bool

	signout  *signout.Coordinator
	upload   *upload.Coordinator
	deps     *dependency.Retriever
	checkout *checkout.Orchestrator
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus sets the bus every coordinator publishes to.
func WithEventBus(bus *event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSettings sets where the automatic sign-out preference lives.
func WithSettings(s upload.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithViewer shows checked out elements.
func WithViewer(v checkout.Viewer) Option {
	return func(e *Engine) { e.viewer = v }
}

// WithStrictSignOut makes failed sign-outs fail checkout instead of
// degrading to read-only copies.
func WithStrictSignOut(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithoutDependencies skips dependency retrieval on checkout.
func WithoutDependencies() Option {
	return func(e *Engine) { e.skipDeps = true }
}

// New creates an Engine talking to gw, asking p, and saving through store.
func New(gw gateway.Gateway, p prompt.Prompter, store checkout.Store, opts ...Option) *Engine {
	e := &Engine{
		gateway:  gw,
		logger:   logging.NopLogger(),
		settings: upload.NewMemorySettings(false),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = event.NewBus(e.logger)
	}

	e.signout = signout.NewCoordinator(p,
		signout.WithEventBus(e.bus),
		signout.WithLogger(e.logger))
	e.upload = upload.NewCoordinator(p, e.signout,
		upload.WithSettings(e.settings),
		upload.WithEventBus(e.bus),
		upload.WithLogger(e.logger))
	e.deps = dependency.NewRetriever(
		dependency.WithEventBus(e.bus),
		dependency.WithLogger(e.logger))

	checkoutOpts := []checkout.Option{
		checkout.WithRecorder(e.signout),
		checkout.WithEventBus(e.bus),
		checkout.WithLogger(e.logger),
	}
	if e.viewer != nil {
		checkoutOpts = append(checkoutOpts, checkout.WithViewer(e.viewer))
	}
	e.checkout = checkout.NewOrchestrator(p, e.deps, store, checkoutOpts...)
	return e
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Ledger returns the locks this engine has obtained.
func (e *Engine) Ledger() *signout.Ledger { return e.signout.Ledger() }

// CheckoutAndRetrieve retrieves elements with their dependencies. A nil cc
// retrieves read-only copies.
func (e *Engine) CheckoutAndRetrieve(ctx context.Context, elements []element.Path, cc *element.ChangeControl, limit int) *checkout.Report {
	return e.Checkout(ctx, checkout.Request{
		Elements:         elements,
		ChangeControl:    cc,
		Limit:            limit,
		Strict:           e.strict,
		SkipDependencies: e.skipDeps,
	})
}

// Checkout runs a fully specified batch. An empty BatchID is generated.
func (e *Engine) Checkout(ctx context.Context, req checkout.Request) *checkout.Report {
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	return e.checkout.RetrieveWithDependencies(ctx, e.requestContext(element.ChangeControl{}), req)
}

// UploadElement writes content to target, asserting it was read at fp.
func (e *Engine) UploadElement(ctx context.Context, target element.Path, cc element.ChangeControl, content string, fp element.Fingerprint) upload.Outcome {
	return e.upload.Upload(ctx, e.requestContext(cc), target, content, fp)
}

// ErrRemoteChanged is returned by Refresh when the remote no longer holds the
// content that was just uploaded.
var ErrRemoteChanged = errors.New("remote changed after upload")

// Refresh re-reads target after uploaded was accepted and returns the
// fingerprint of that upload. Updates do not return the new fingerprint, so
// the read-back must show the uploaded content; otherwise someone else
// updated the element in between and ErrRemoteChanged is returned. Callers
// then keep the fingerprint they uploaded from, so the next upload goes
// through the mismatch flow instead of overwriting the other change.
func (e *Engine) Refresh(ctx context.Context, target element.Path, uploaded string) (element.Fingerprint, error) {
	current, err := e.gateway.Retrieve(ctx, target)
	if err != nil {
		return "", err
	}
	if !sameContent(current.Content, uploaded) {
		e.logger.WithElement(target).Warn("remote changed after upload", "fingerprint", current.Fingerprint)
		return "", errors.Wrapf(ErrRemoteChanged, "%s is at %s", target, current.Fingerprint)
	}
	return current.Fingerprint, nil
}

// sameContent compares element text ignoring trailing blanks on each line and
// trailing line breaks, which the remote pads or strips on storage.
func sameContent(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// SignOutElement locks path to cc, offering an override when someone else
// holds it.
func (e *Engine) SignOutElement(ctx context.Context, path element.Path, cc element.ChangeControl) signout.LockOutcome {
	return e.signout.Acquire(ctx, e.requestContext(cc), path)
}

// SignInElement releases the lock on path.
func (e *Engine) SignInElement(ctx context.Context, path element.Path) error {
	return e.signout.Release(ctx, e.requestContext(element.ChangeControl{}), path)
}

func (e *Engine) requestContext(cc element.ChangeControl) gateway.RequestContext {
	return gateway.RequestContext{Gateway: e.gateway, ChangeControl: cc, Logger: e.logger}
}
