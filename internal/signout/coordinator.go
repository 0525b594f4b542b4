// Package signout acquires and releases pessimistic element locks.
//
// [Coordinator.Acquire] asks the remote for the lock, and when someone else
// holds it, asks the human once whether to take it over. An override that
// itself conflicts is reported as a failure; the coordinator never loops.
package signout

import (
	"context"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway"
	"github.com/Iron-Ham/elmctl/internal/logging"
	"github.com/Iron-Ham/elmctl/internal/prompt"
)

// LockOutcome is the result of Acquire: Granted, Declined or Failed.
type LockOutcome interface {
	lockOutcome()
}

// Granted means the remote now records the element as signed out to us.
type Granted struct {
	Overridden bool
}

// Declined means the human refused to override another user's lock.
type Declined struct{}

// Failed means the lock could not be obtained. Class is never invalid.
type Failed struct {
	Class errors.Class
	Err   error
}

func (Granted) lockOutcome()  {}
func (Declined) lockOutcome() {}
func (Failed) lockOutcome()   {}

// Coordinator runs the sign-out protocol. It is safe for concurrent use.
type Coordinator struct {
	prompter prompt.Prompter
	ledger   *Ledger
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLedger records granted locks in l.
func WithLedger(l *Ledger) Option {
	return func(c *Coordinator) { c.ledger = l }
}

// WithEventBus publishes lock events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger sets a fallback logger used when a RequestContext carries none.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a Coordinator that asks p about overrides.
func NewCoordinator(p prompt.Prompter, opts ...Option) *Coordinator {
	c := &Coordinator{
		prompter: p,
		ledger:   NewLedger(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ledger returns the ledger granted locks are recorded in.
func (c *Coordinator) Ledger() *Ledger {
	return c.ledger
}

// Acquire signs path out under rc's change control. The override prompt is
// shown at most once.
func (c *Coordinator) Acquire(ctx context.Context, rc gateway.RequestContext, path element.Path) LockOutcome {
	log := c.log(rc).WithOperation("signout").WithElement(path)
	log.Debug("signing out", "ccid", rc.ChangeControl.CCID)

	err := rc.Gateway.SignOut(ctx, path, rc.ChangeControl, false)
	if err == nil {
		return c.grant(log, path, rc.ChangeControl, false)
	}

	switch class := errors.MustClassify(err); class {
	case errors.ClassSignOutConflict:
		log.Info("element signed out to another user", "error", err)
		return c.override(ctx, rc, log, path)
	case errors.ClassCredentialsInvalid,
		errors.ClassConnectionFailed,
		errors.ClassCertValidationFailed,
		errors.ClassFingerprintMismatch,
		errors.ClassDuplicateElement,
		errors.ClassGeneric:
		log.Error("sign-out failed", "class", class.String(), "error", err)
		return Failed{Class: class, Err: err}
	default:
		errors.Unreachable(class, err)
		return nil
	}
}

func (c *Coordinator) override(ctx context.Context, rc gateway.RequestContext, log *logging.Logger, path element.Path) LockOutcome {
	ok, err := c.prompter.ConfirmOverride(ctx, []string{path.Name})
	if err != nil {
		log.Warn("override prompt unavailable, treating as declined", "error", err)
		return Declined{}
	}
	if !ok {
		log.Info("override declined")
		return Declined{}
	}

	err = rc.Gateway.SignOut(ctx, path, rc.ChangeControl, true)
	if err == nil {
		return c.grant(log, path, rc.ChangeControl, true)
	}
	class := errors.MustClassify(err)
	log.Error("override sign-out failed", "class", class.String(), "error", err)
	return Failed{Class: class, Err: err}
}

func (c *Coordinator) grant(log *logging.Logger, path element.Path, cc element.ChangeControl, overridden bool) LockOutcome {
	c.Record(path, cc, overridden)
	log.Info("signed out", "overridden", overridden)
	return Granted{Overridden: overridden}
}

// Record notes a lock obtained outside Acquire, such as through a combined
// retrieve-and-sign-out call, and publishes it.
func (c *Coordinator) Record(path element.Path, cc element.ChangeControl, overridden bool) {
	c.ledger.Record(path, cc.CCID, overridden)
	c.bus.Publish(event.NewSignedOutEvent(path, cc.CCID, overridden))
}

// Release signs path back in and forgets it.
func (c *Coordinator) Release(ctx context.Context, rc gateway.RequestContext, path element.Path) error {
	log := c.log(rc).WithOperation("signin").WithElement(path)

	if err := rc.Gateway.SignIn(ctx, path); err != nil {
		log.Error("sign-in failed", "error", err)
		return err
	}
	c.ledger.Remove(path)
	c.bus.Publish(event.NewSignedInEvent(path))
	log.Info("signed in")
	return nil
}

func (c *Coordinator) log(rc gateway.RequestContext) *logging.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return c.logger
}
