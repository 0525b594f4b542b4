// Package fake provides an in-memory gateway.Gateway for tests and dry runs.
//
// The fake models the pieces of remote behavior the protocols depend on:
// per-element lock holders, fingerprints that advance on every accepted
// update, and classified failures. Every call is recorded so tests can assert
// exactly how many remote round trips a protocol made, and an in-flight
// counter tracks the concurrency ceiling.
package fake

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/gateway"
)

// Op names a gateway operation in the call log.
type Op string

// Gateway operations.
const (
	OpRetrieve            Op = "retrieve"
	OpRetrieveWithSignOut Op = "retrieve-signout"
	OpSignOut             Op = "signout"
	OpSignIn              Op = "signin"
	OpUpdate              Op = "update"
	OpSearch              Op = "search"
	OpComponents          Op = "components"
)

// DefaultUser is the identity the fake acts as unless WithUser is given.
const DefaultUser = "ME"

// Call is one recorded gateway invocation. Key is the element path or search
// coordinate rendered as a string.
type Call struct {
	Op       Op
	Key      string
	Override bool
}

type record struct {
	path    element.Path
	content string
	fp      element.Fingerprint
	holder  string
}

type failure struct {
	err       error
	remaining int // negative means every call fails
}

// Gateway is an in-memory remote. The zero value is not usable; call New.
type Gateway struct {
	mu             sync.Mutex
	user           string
	requireSignOut bool
	latency        time.Duration
	elements       map[element.Path]*record
	components     map[element.Path][]element.Component
	failures       map[string]*failure
	calls          []Call
	hook           func(Call)
	version        int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

var _ gateway.Gateway = (*Gateway)(nil)

// Option configures a fake Gateway.
type Option func(*Gateway)

// WithUser sets the identity used as lock holder for this client.
func WithUser(user string) Option {
	return func(g *Gateway) { g.user = user }
}

// WithLatency makes every call sleep for d (or until its context ends), so
// concurrent callers overlap observably.
func WithLatency(d time.Duration) Option {
	return func(g *Gateway) { g.latency = d }
}

// WithRequireSignOut rejects updates to elements the caller has not signed
// out, the way a remote configured for mandatory sign-out does.
func WithRequireSignOut() Option {
	return func(g *Gateway) { g.requireSignOut = true }
}

// New creates an empty fake remote.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		user:       DefaultUser,
		elements:   make(map[element.Path]*record),
		components: make(map[element.Path][]element.Component),
		failures:   make(map[string]*failure),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// -----------------------------------------------------------------------------
// Seeding and inspection
// -----------------------------------------------------------------------------

// Put stores an element with explicit content and fingerprint, unlocked.
func (g *Gateway) Put(path element.Path, content string, fp element.Fingerprint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.elements[path] = &record{path: path, content: content, fp: fp}
}

// Lock marks path as signed out to holder.
func (g *Gateway) Lock(path element.Path, holder string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.elements[path]; ok {
		r.holder = holder
	}
}

// Holder returns the current lock holder of path, or "" when unlocked.
func (g *Gateway) Holder(path element.Path) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.elements[path]; ok {
		return r.holder
	}
	return ""
}

// Content returns the stored content and fingerprint of path.
func (g *Gateway) Content(path element.Path) (string, element.Fingerprint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.elements[path]; ok {
		return r.content, r.fp
	}
	return "", ""
}

// SetComponents sets the components listed for path.
func (g *Gateway) SetComponents(path element.Path, comps ...element.Component) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.components[path] = comps
}

// Fail makes every call of op on key return err until ClearFailures.
func (g *Gateway) Fail(op Op, key fmt.Stringer, err error) {
	g.setFailure(op, key, err, -1)
}

// FailTimes makes the next n calls of op on key return err.
func (g *Gateway) FailTimes(op Op, key fmt.Stringer, err error, n int) {
	g.setFailure(op, key, err, n)
}

func (g *Gateway) setFailure(op Op, key fmt.Stringer, err error, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[failureKey(op, key.String())] = &failure{err: err, remaining: n}
}

// ClearFailures removes every injected failure.
func (g *Gateway) ClearFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = make(map[string]*failure)
}

// OnCall registers a hook that runs after a call is recorded and before it
// takes effect. The hook runs without the fake's lock held, so it may call
// seeding methods to simulate concurrent remote activity.
func (g *Gateway) OnCall(hook func(Call)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hook = hook
}

// Calls returns a copy of the call log in invocation order.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.calls)
}

// Count returns how many times op was called.
func (g *Gateway) Count(op Op) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// CountFor returns how many times op was called on key.
func (g *Gateway) CountFor(op Op, key fmt.Stringer) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := key.String()
	n := 0
	for _, c := range g.calls {
		if c.Op == op && c.Key == k {
			n++
		}
	}
	return n
}

// MaxInFlight returns the highest number of calls observed running at once.
func (g *Gateway) MaxInFlight() int {
	return int(g.maxInFlight.Load())
}

// -----------------------------------------------------------------------------
// gateway.Gateway
// -----------------------------------------------------------------------------

// Retrieve implements gateway.Gateway.
func (g *Gateway) Retrieve(ctx context.Context, path element.Path) (element.Retrieved, error) {
	done, err := g.begin(ctx, Call{Op: OpRetrieve, Key: path.String()})
	defer done()
	if err != nil {
		return element.Retrieved{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r, err := g.lookup(path)
	if err != nil {
		return element.Retrieved{}, err
	}
	return element.Retrieved{Content: r.content, Fingerprint: r.fp}, nil
}

// RetrieveWithSignOut implements gateway.Gateway.
func (g *Gateway) RetrieveWithSignOut(ctx context.Context, path element.Path, cc element.ChangeControl, override bool) (element.Retrieved, error) {
	done, err := g.begin(ctx, Call{Op: OpRetrieveWithSignOut, Key: path.String(), Override: override})
	defer done()
	if err != nil {
		return element.Retrieved{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r, err := g.lookup(path)
	if err != nil {
		return element.Retrieved{}, err
	}
	if err := g.acquire(r, override); err != nil {
		return element.Retrieved{}, err
	}
	return element.Retrieved{Content: r.content, Fingerprint: r.fp}, nil
}

// SignOut implements gateway.Gateway.
func (g *Gateway) SignOut(ctx context.Context, path element.Path, cc element.ChangeControl, override bool) error {
	done, err := g.begin(ctx, Call{Op: OpSignOut, Key: path.String(), Override: override})
	defer done()
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r, err := g.lookup(path)
	if err != nil {
		return err
	}
	return g.acquire(r, override)
}

// SignIn implements gateway.Gateway.
func (g *Gateway) SignIn(ctx context.Context, path element.Path) error {
	done, err := g.begin(ctx, Call{Op: OpSignIn, Key: path.String()})
	defer done()
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r, err := g.lookup(path)
	if err != nil {
		return err
	}
	if r.holder != "" && r.holder != g.user {
		return conflict(r)
	}
	r.holder = ""
	return nil
}

// Update implements gateway.Gateway.
func (g *Gateway) Update(ctx context.Context, path element.Path, cc element.ChangeControl, content string, fp element.Fingerprint) (gateway.UpdateResult, error) {
	done, err := g.begin(ctx, Call{Op: OpUpdate, Key: path.String()})
	defer done()
	if err != nil {
		return gateway.UpdateResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r, err := g.lookup(path)
	if err != nil {
		return gateway.UpdateResult{}, err
	}
	if r.holder != "" && r.holder != g.user {
		return gateway.UpdateResult{}, conflict(r)
	}
	if r.holder == "" && g.requireSignOut {
		return gateway.UpdateResult{}, errors.NewRemoteError(errors.ClassSignOutConflict, "element is not signed out").
			WithElement(path.String()).
			WithReturnCode(12).
			WithMessages("C1G0167E ELEMENT IS NOT SIGNED OUT TO " + g.user)
	}
	if fp != r.fp {
		return gateway.UpdateResult{}, errors.NewRemoteError(errors.ClassFingerprintMismatch, "update rejected").
			WithElement(path.String()).
			WithReturnCode(12).
			WithMessages("C1G0410E FINGERPRINT DOES NOT MATCH")
	}

	g.version++
	r.content = content
	r.fp = element.Fingerprint(fmt.Sprintf("%s-v%d", path.Name, g.version))
	return gateway.UpdateResult{ReturnCode: 0}, nil
}

// SearchElementsInPlace implements gateway.Gateway.
func (g *Gateway) SearchElementsInPlace(ctx context.Context, coord element.Coordinate) ([]element.Path, error) {
	done, err := g.begin(ctx, Call{Op: OpSearch, Key: coord.String()})
	defer done()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var found []element.Path
	for p := range g.elements {
		if p.Environment == coord.Environment && p.StageNumber == coord.StageNumber &&
			p.System == coord.System && p.Subsystem == coord.Subsystem && p.Type == coord.Type {
			found = append(found, p)
		}
	}
	slices.SortFunc(found, func(a, b element.Path) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return found, nil
}

// Components implements gateway.Gateway.
func (g *Gateway) Components(ctx context.Context, path element.Path) ([]element.Component, error) {
	done, err := g.begin(ctx, Call{Op: OpComponents, Key: path.String()})
	defer done()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.lookup(path); err != nil {
		return nil, err
	}
	return slices.Clone(g.components[path]), nil
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

// begin records the call, runs the hook, tracks concurrency, waits out the
// configured latency, and returns any injected failure. done must always be
// called.
func (g *Gateway) begin(ctx context.Context, call Call) (func(), error) {
	n := g.inFlight.Add(1)
	for {
		peak := g.maxInFlight.Load()
		if n <= peak || g.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	done := func() { g.inFlight.Add(-1) }

	g.mu.Lock()
	g.calls = append(g.calls, call)
	hook := g.hook
	injected := g.takeFailure(call)
	g.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return done, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return done, err
	}
	return done, injected
}

func (g *Gateway) takeFailure(call Call) error {
	f, ok := g.failures[failureKey(call.Op, call.Key)]
	if !ok {
		return nil
	}
	if f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

func (g *Gateway) lookup(path element.Path) (*record, error) {
	r, ok := g.elements[path]
	if !ok {
		return nil, errors.NewRemoteError(errors.ClassGeneric, "element not found").
			WithElement(path.String()).
			WithReturnCode(8).
			WithMessages("C1G0208E ELEMENT NOT FOUND")
	}
	return r, nil
}

// acquire must be called with g.mu held.
func (g *Gateway) acquire(r *record, override bool) error {
	if r.holder != "" && r.holder != g.user && !override {
		return conflict(r)
	}
	r.holder = g.user
	return nil
}

func conflict(r *record) error {
	return errors.NewRemoteError(errors.ClassSignOutConflict, "element is signed out to another user").
		WithElement(r.path.String()).
		WithReturnCode(12).
		WithMessages(fmt.Sprintf("C1G0167E ELEMENT IS SIGNED OUT TO %s", r.holder))
}

func failureKey(op Op, key string) string {
	return string(op) + "|" + key
}
