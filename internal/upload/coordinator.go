// Package upload writes element content back to the remote under optimistic
// concurrency.
//
// An update carries the fingerprint the content was read at. If the element
// is not signed out to us, the human may sign it out and the update is
// retried once. If the remote version moved on, the coordinator fetches it,
// hands both versions to the human, and stops: the human re-initiates the
// upload after merging.
package upload

import (
	"context"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway"
	"github.com/Iron-Ham/elmctl/internal/logging"
	"github.com/Iron-Ham/elmctl/internal/prompt"
	"github.com/Iron-Ham/elmctl/internal/signout"
)

// DeclinedReason is reported when the human refuses to sign the element out.
const DeclinedReason = "element is locked by someone else or not signed out"

// Outcome is the result of Upload: Uploaded, Declined or Failed.
type Outcome interface {
	uploadOutcome()
}

// Uploaded means the remote accepted the new content.
type Uploaded struct {
	Result gateway.UpdateResult
	// SignedOut is set when the upload signed the element out first.
	SignedOut bool
}

// Declined means the human refused the sign-out the upload needed.
type Declined struct{}

// Failed means the upload did not happen. Conflict is set for
// fingerprint mismatches.
type Failed struct {
	Class    errors.Class
	Err      error
	Conflict *Conflict
}

// Conflict records what happened when a fingerprint mismatch was presented.
type Conflict struct {
	RemoteFingerprint element.Fingerprint
	Resolution        prompt.Resolution
}

func (Uploaded) uploadOutcome() {}
func (Declined) uploadOutcome() {}
func (Failed) uploadOutcome()   {}

// Locker acquires sign-out locks. *signout.Coordinator implements it.
type Locker interface {
	Acquire(ctx context.Context, rc gateway.RequestContext, path element.Path) signout.LockOutcome
}

// Settings holds the process-wide automatic sign-out preference.
type Settings interface {
	AutoSignOut() bool
	SetAutoSignOut(enabled bool) error
}

// Coordinator runs the upload protocol. It is safe for concurrent use.
type Coordinator struct {
	prompter prompt.Prompter
	locker   Locker
	settings Settings
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSettings sets where the automatic sign-out preference is kept.
func WithSettings(s Settings) Option {
	return func(c *Coordinator) { c.settings = s }
}

// WithEventBus publishes upload and conflict events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger sets a fallback logger used when a RequestContext carries none.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a Coordinator. Sign-out escalations go through locker.
func NewCoordinator(p prompt.Prompter, locker Locker, opts ...Option) *Coordinator {
	c := &Coordinator{
		prompter: p,
		locker:   locker,
		settings: NewMemorySettings(false),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload writes content to target, asserting it was edited from version fp.
func (c *Coordinator) Upload(ctx context.Context, rc gateway.RequestContext, target element.Path, content string, fp element.Fingerprint) Outcome {
	log := c.log(rc).WithOperation("upload").WithElement(target)
	log.Debug("uploading", "fingerprint", string(fp), "ccid", rc.ChangeControl.CCID)

	result, err := rc.Gateway.Update(ctx, target, rc.ChangeControl, content, fp)
	if err == nil {
		return c.uploaded(log, target, result, false)
	}

	switch class := errors.MustClassify(err); class {
	case errors.ClassSignOutConflict:
		log.Info("element not signed out to us", "error", err)
		return c.escalate(ctx, rc, log, target, content, fp, err)
	case errors.ClassFingerprintMismatch:
		return c.conflict(ctx, rc, log, target, content, fp, err)
	case errors.ClassCredentialsInvalid,
		errors.ClassConnectionFailed,
		errors.ClassCertValidationFailed,
		errors.ClassDuplicateElement,
		errors.ClassGeneric:
		log.Error("upload failed", "class", class.String(), "error", err)
		return Failed{Class: class, Err: err}
	default:
		errors.Unreachable(class, err)
		return nil
	}
}

// escalate signs the element out and retries the update exactly once.
func (c *Coordinator) escalate(ctx context.Context, rc gateway.RequestContext, log *logging.Logger, target element.Path, content string, fp element.Fingerprint, original error) Outcome {
	choice := prompt.SignOutChoice{SignOut: true}
	if !c.settings.AutoSignOut() {
		var err error
		choice, err = c.prompter.ConfirmSignOut(ctx, []string{target.Name})
		if err != nil {
			log.Warn("sign-out prompt unavailable, treating as declined", "error", err)
			return Declined{}
		}
	}
	if choice.AutomaticSignOut {
		if err := c.settings.SetAutoSignOut(true); err != nil {
			log.Warn("failed to persist automatic sign-out", "error", err)
		}
	}
	if !choice.SignOut {
		log.Info("sign-out declined")
		return Declined{}
	}

	if _, ok := c.locker.Acquire(ctx, rc, target).(signout.Granted); !ok {
		log.Warn("sign-out not granted, upload abandoned")
		return Failed{Class: errors.ClassSignOutConflict, Err: original}
	}

	result, err := rc.Gateway.Update(ctx, target, rc.ChangeControl, content, fp)
	if err == nil {
		return c.uploaded(log, target, result, true)
	}

	switch class := errors.MustClassify(err); class {
	case errors.ClassFingerprintMismatch:
		return c.conflict(ctx, rc, log, target, content, fp, err)
	case errors.ClassSignOutConflict,
		errors.ClassCredentialsInvalid,
		errors.ClassConnectionFailed,
		errors.ClassCertValidationFailed,
		errors.ClassDuplicateElement,
		errors.ClassGeneric:
		log.Error("upload retry failed", "class", class.String(), "error", err)
		return Failed{Class: class, Err: err}
	default:
		errors.Unreachable(class, err)
		return nil
	}
}

// conflict presents the remote version for a manual merge. It never writes.
func (c *Coordinator) conflict(ctx context.Context, rc gateway.RequestContext, log *logging.Logger, target element.Path, content string, fp element.Fingerprint, cause error) Outcome {
	log.Info("remote version changed since retrieval", "fingerprint", string(fp))

	report := &Conflict{Resolution: prompt.ResolutionUnavailable}
	remote, err := rc.Gateway.Retrieve(ctx, target)
	if err != nil {
		log.Error("failed to fetch remote version for merge", "error", err)
	} else {
		report.RemoteFingerprint = remote.Fingerprint
		resolution, err := c.prompter.ResolveConflict(ctx, prompt.Conflict{
			Path:             target,
			Local:            content,
			LocalFingerprint: fp,
			Remote:           remote,
		})
		if err != nil {
			log.Warn("conflict prompt unavailable", "error", err)
			resolution = prompt.ResolutionCancelled
		}
		report.Resolution = resolution
	}

	c.bus.Publish(event.NewConflictEvent(target, fp, report.RemoteFingerprint, report.Resolution.String()))
	return Failed{Class: errors.ClassFingerprintMismatch, Err: cause, Conflict: report}
}

func (c *Coordinator) uploaded(log *logging.Logger, target element.Path, result gateway.UpdateResult, signedOut bool) Outcome {
	log.Info("uploaded", "return_code", result.ReturnCode, "signed_out", signedOut)
	c.bus.Publish(event.NewUploadedEvent(target, result.ReturnCode, result.Messages))
	return Uploaded{Result: result, SignedOut: signedOut}
}

func (c *Coordinator) log(rc gateway.RequestContext) *logging.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return c.logger
}
