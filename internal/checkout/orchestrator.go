// Package checkout retrieves batches of elements, optionally signing them
// out, together with their dependencies.
//
// A batch runs in phases. Retrievals run in parallel under the request's
// limit. Sign-out conflicts from that phase are gathered into a single
// override question, and accepted overrides are retried as a batch. Elements
// whose sign-out fails fall back to a read-only copy unless the request is
// strict. Dependencies are then fetched per element, each element is saved
// with its dependencies as one unit, and finally the saved elements are shown
// one at a time in request order.
package checkout

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/elmctl/internal/dependency"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway"
	"github.com/Iron-Ham/elmctl/internal/logging"
	"github.com/Iron-Ham/elmctl/internal/prompt"
)

// Request describes one batch.
type Request struct {
	BatchID  string
	Elements []element.Path
	// ChangeControl selects sign-out mode. Nil means read-only copies.
	ChangeControl *element.ChangeControl
	// Limit caps concurrent remote calls per phase. Values below 1 mean 1.
	Limit int
	// Strict turns failed sign-outs into element failures instead of
	// falling back to a read-only copy.
	Strict bool
	// SkipDependencies retrieves only the requested elements.
	SkipDependencies bool
}

// Unit is an element and its successfully fetched dependencies, saved together.
type Unit struct {
	Path         element.Path
	Retrieved    element.Retrieved
	SignedOut    bool
	Dependencies []dependency.Dependency
}

// Saved describes where a unit went. DependencyErrors lists dependencies
// that could not be written; the element itself was saved.
type Saved struct {
	Location         string
	DependencyErrors []error
}

// Store persists retrieved units.
type Store interface {
	Save(ctx context.Context, unit Unit) (Saved, error)
}

// Viewer presents a saved element to the human. Show is never called
// concurrently.
type Viewer interface {
	Show(ctx context.Context, entry Entry) error
}

// Recorder notes locks obtained through combined retrieve-and-sign-out.
// *signout.Coordinator implements it.
type Recorder interface {
	Record(path element.Path, cc element.ChangeControl, overridden bool)
}

// Orchestrator runs checkout batches. It holds no per-batch state and is
// safe for concurrent use.
type Orchestrator struct {
	prompter prompt.Prompter
	deps     *dependency.Retriever
	store    Store
	viewer   Viewer
	recorder Recorder
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithViewer shows each saved element after the batch is stored.
func WithViewer(v Viewer) Option {
	return func(o *Orchestrator) { o.viewer = v }
}

// WithRecorder records granted locks.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEventBus publishes retrieval and batch events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLogger sets a fallback logger used when a RequestContext carries none.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(p prompt.Prompter, deps *dependency.Retriever, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prompter: p,
		deps:     deps,
		store:    store,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// slot is the per-element working state of a batch.
type slot struct {
	path      element.Path
	mode      Mode
	retrieved element.Retrieved
	warnings  []string
	err       error
}

// RetrieveWithDependencies runs a batch. It always returns a report with one
// entry per requested element; one element's failure never stops the others.
func (o *Orchestrator) RetrieveWithDependencies(ctx context.Context, rc gateway.RequestContext, req Request) *Report {
	log := o.log(rc).WithOperation("checkout")
	if req.BatchID != "" {
		log = log.WithBatch(req.BatchID)
	}
	rc.Logger = log
	limit := max(req.Limit, 1)

	slots := make([]slot, len(req.Elements))
	for i, p := range req.Elements {
		slots[i].path = p
	}

	if req.ChangeControl == nil {
		log.Info("retrieving copies", "elements", len(slots), "limit", limit)
		o.copyAll(ctx, rc, slots, indexes(len(slots)), limit)
	} else {
		rc.ChangeControl = *req.ChangeControl
		log.Info("retrieving with sign-out", "elements", len(slots), "limit", limit, "strict", req.Strict)
		o.signOutAll(ctx, rc, slots, limit, req.Strict)
	}

	entries := make([]Entry, len(slots))
	for i := range slots {
		s := &slots[i]
		entries[i] = Entry{
			Path:        s.path,
			Mode:        s.mode,
			Fingerprint: s.retrieved.Fingerprint,
			Warnings:    s.warnings,
			Err:         s.err,
		}
		if s.err == nil {
			o.bus.Publish(event.NewRetrievedEvent(s.path, s.retrieved.Fingerprint, s.mode.Locked(), false))
		}
	}

	if !req.SkipDependencies {
		o.retrieveDependencies(ctx, rc, entries, limit)
	}
	o.save(ctx, log, slots, entries)
	o.show(ctx, log, entries)

	report := &Report{BatchID: req.BatchID, Entries: entries}
	log.Info("batch complete", "succeeded", report.Succeeded(), "failed", report.Failed())
	o.bus.Publish(event.NewBatchCompletedEvent(req.BatchID, len(entries), report.Succeeded(), report.Failed()))
	return report
}

// copyAll retrieves the selected slots read-only.
func (o *Orchestrator) copyAll(ctx context.Context, rc gateway.RequestContext, slots []slot, which []int, limit int) {
	p := newPool(limit)
	for _, i := range which {
		s := &slots[i]
		p.Go(func() {
			retrieved, err := rc.Gateway.Retrieve(ctx, s.path)
			if err != nil {
				rc.Log().WithElement(s.path).Error("retrieve failed", "error", err)
				s.err = err
				return
			}
			s.mode = ModeCopy
			s.retrieved = retrieved
		})
	}
	p.Wait()
}

// signOutAll runs the sign-out phases: a parallel first attempt, one batched
// override question for every conflict, a parallel override attempt, and
// read-only fallbacks for whatever is left.
func (o *Orchestrator) signOutAll(ctx context.Context, rc gateway.RequestContext, slots []slot, limit int, strict bool) {
	var conflicts, fallbacks []int
	outcomes := make([]error, len(slots))

	p := newPool(limit)
	for i := range slots {
		i := i
		p.Go(func() {
			outcomes[i] = o.retrieveLocked(ctx, rc, &slots[i], false)
		})
	}
	p.Wait()

	for i, err := range outcomes {
		if err == nil {
			continue
		}
		switch class := errors.MustClassify(err); class {
		case errors.ClassSignOutConflict:
			conflicts = append(conflicts, i)
		case errors.ClassCredentialsInvalid,
			errors.ClassConnectionFailed,
			errors.ClassCertValidationFailed,
			errors.ClassFingerprintMismatch,
			errors.ClassDuplicateElement,
			errors.ClassGeneric:
			fallbacks = append(fallbacks, i)
		default:
			errors.Unreachable(class, err)
		}
	}

	if len(conflicts) > 0 {
		fallbacks = append(fallbacks, o.override(ctx, rc, slots, conflicts, outcomes, limit)...)
	}
	if len(fallbacks) == 0 {
		return
	}

	if strict {
		for _, i := range fallbacks {
			slots[i].err = outcomes[i]
		}
		return
	}
	for _, i := range fallbacks {
		s := &slots[i]
		class := errors.MustClassify(outcomes[i])
		s.warnings = append(s.warnings, fmt.Sprintf("sign-out failed (%s), retrieved a read-only copy: %v", class, outcomes[i]))
	}
	o.copyAll(ctx, rc, slots, fallbacks, limit)
}

// override asks once about every conflicting element and retries the
// accepted ones. It returns the indexes that still lack a lock.
func (o *Orchestrator) override(ctx context.Context, rc gateway.RequestContext, slots []slot, conflicts []int, outcomes []error, limit int) []int {
	log := rc.Log()
	names := make([]string, len(conflicts))
	for j, i := range conflicts {
		names[j] = slots[i].path.Name
	}

	ok, err := o.prompter.ConfirmOverride(ctx, names)
	if err != nil {
		log.Warn("override prompt unavailable, treating as declined", "error", err)
		ok = false
	}
	if !ok {
		log.Info("override declined", "elements", len(conflicts))
		for _, i := range conflicts {
			slots[i].warnings = append(slots[i].warnings, "override declined")
		}
		return conflicts
	}

	p := newPool(limit)
	for _, i := range conflicts {
		i := i
		p.Go(func() {
			outcomes[i] = o.retrieveLocked(ctx, rc, &slots[i], true)
		})
	}
	p.Wait()

	var remaining []int
	for _, i := range conflicts {
		if outcomes[i] != nil {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// retrieveLocked performs one combined retrieve-and-sign-out and fills the
// slot on success.
func (o *Orchestrator) retrieveLocked(ctx context.Context, rc gateway.RequestContext, s *slot, override bool) error {
	log := rc.Log().WithElement(s.path)

	retrieved, err := rc.Gateway.RetrieveWithSignOut(ctx, s.path, rc.ChangeControl, override)
	if err != nil {
		log.Warn("retrieve with sign-out failed", "override", override, "error", err)
		return err
	}

	s.retrieved = retrieved
	s.mode = ModeSignedOut
	if override {
		s.mode = ModeOverridden
	}
	if o.recorder != nil {
		o.recorder.Record(s.path, rc.ChangeControl, override)
	}
	log.Debug("retrieved with sign-out", "override", override)
	return nil
}

// retrieveDependencies fetches each successful element's closure. Elements
// are processed one after another so the per-call limit is also the batch
// ceiling.
func (o *Orchestrator) retrieveDependencies(ctx context.Context, rc gateway.RequestContext, entries []Entry, limit int) {
	for i := range entries {
		e := &entries[i]
		if e.Err != nil {
			continue
		}
		closure := o.deps.Retrieve(ctx, rc, e.Path, limit)
		if closure.Err != nil {
			e.Warnings = append(e.Warnings, fmt.Sprintf("dependencies not listed: %v", closure.Err))
			continue
		}
		e.Dependencies = closure.Dependencies
		for _, d := range closure.Failed() {
			e.Warnings = append(e.Warnings, fmt.Sprintf("dependency %s: %v", d.Component, d.Err))
		}
	}
}

func (o *Orchestrator) save(ctx context.Context, log *logging.Logger, slots []slot, entries []Entry) {
	for i := range entries {
		e := &entries[i]
		if e.Err != nil {
			continue
		}

		var fetched []dependency.Dependency
		for _, d := range e.Dependencies {
			if d.Err == nil {
				fetched = append(fetched, d)
			}
		}

		saved, err := o.store.Save(ctx, Unit{
			Path:         e.Path,
			Retrieved:    slots[i].retrieved,
			SignedOut:    e.Mode.Locked(),
			Dependencies: fetched,
		})
		if err != nil {
			log.WithElement(e.Path).Error("save failed", "error", err)
			e.Err = errors.Wrap(err, "save failed")
			continue
		}
		e.Location = saved.Location
		for _, derr := range saved.DependencyErrors {
			e.Warnings = append(e.Warnings, fmt.Sprintf("dependency not saved: %v", derr))
		}
	}
}

func (o *Orchestrator) show(ctx context.Context, log *logging.Logger, entries []Entry) {
	if o.viewer == nil {
		return
	}
	for i := range entries {
		e := &entries[i]
		if e.Err != nil {
			continue
		}
		if err := o.viewer.Show(ctx, *e); err != nil {
			log.WithElement(e.Path).Warn("failed to show element", "error", err)
			e.Warnings = append(e.Warnings, fmt.Sprintf("not shown: %v", err))
		}
	}
}

func (o *Orchestrator) log(rc gateway.RequestContext) *logging.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return o.logger
}

func indexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func newPool(limit int) *pool.Pool {
	return pool.New().WithMaxGoroutines(max(limit, 1))
}
