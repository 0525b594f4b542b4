// Package dependency resolves and fetches the elements an element depends on.
//
// Components that share a search coordinate (environment, stage, system,
// subsystem, type) are found with a single in-place search. Searches and
// fetches run in parallel under a caller-supplied limit, and every input
// gets exactly one output entry at its own index, so callers can attribute
// partial failures without a lookup.
package dependency

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway"
	"github.com/Iron-Ham/elmctl/internal/logging"
)

// Resolution is the outcome of locating one component. Exactly one of Path
// and Err is meaningful.
type Resolution struct {
	Component element.Component
	Path      element.Path
	Err       error
}

// Fetched is the outcome of retrieving one path.
type Fetched struct {
	Path      element.Path
	Retrieved element.Retrieved
	Err       error
}

// Dependency joins a component with its resolved path and content.
type Dependency struct {
	Component element.Component
	Path      element.Path
	Retrieved element.Retrieved
	Err       error
}

// Closure is the dependency set of one element. Err is set when the
// element's components could not be listed at all.
type Closure struct {
	Parent       element.Path
	Dependencies []Dependency
	Err          error
}

// Failed returns the dependencies that could not be resolved or fetched.
func (c Closure) Failed() []Dependency {
	var failed []Dependency
	for _, d := range c.Dependencies {
		if d.Err != nil {
			failed = append(failed, d)
		}
	}
	return failed
}

// Retriever runs dependency resolution. It holds no per-call state and is
// safe for concurrent use.
type Retriever struct {
	bus    *event.Bus
	logger *logging.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithEventBus publishes a retrieved event for every fetched dependency.
func WithEventBus(bus *event.Bus) Option {
	return func(r *Retriever) { r.bus = bus }
}

// WithLogger sets a fallback logger used when a RequestContext carries none.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// NewRetriever creates a Retriever.
func NewRetriever(opts ...Option) *Retriever {
	r := &Retriever{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type searchResult struct {
	paths []element.Path
	err   error
}

// Resolve locates each component relative to parent's environment and stage.
// One search is issued per distinct coordinate. A failed search or a missing
// name yields an error entry for the affected components only.
func (r *Retriever) Resolve(ctx context.Context, rc gateway.RequestContext, parent element.Path, components []element.Component, limit int) []Resolution {
	log := r.log(rc).WithOperation("resolve").WithElement(parent)

	index := make(map[element.Coordinate]int)
	var coords []element.Coordinate
	for _, c := range components {
		coord := c.SearchCoordinate(parent.Environment, parent.StageNumber)
		if _, ok := index[coord]; !ok {
			index[coord] = len(coords)
			coords = append(coords, coord)
		}
	}
	log.Debug("searching for components", "components", len(components), "coordinates", len(coords))

	searches := make([]searchResult, len(coords))
	p := newPool(limit)
	for i, coord := range coords {
		i, coord := i, coord
		p.Go(func() {
			paths, err := rc.Gateway.SearchElementsInPlace(ctx, coord)
			searches[i] = searchResult{paths: paths, err: err}
		})
	}
	p.Wait()

	resolutions := make([]Resolution, len(components))
	for i, c := range components {
		coord := c.SearchCoordinate(parent.Environment, parent.StageNumber)
		sr := searches[index[coord]]
		resolutions[i] = Resolution{Component: c}

		if sr.err != nil {
			log.Warn("component search failed", "component", c.String(), "error", sr.err)
			resolutions[i].Err = sr.err
			continue
		}
		path, ok := match(c, sr.paths)
		if !ok {
			log.Warn("component not found", "component", c.String(), "coordinate", coord.String())
			resolutions[i].Err = errors.NewRemoteError(errors.ClassGeneric, "component not found in place").
				WithElement(fmt.Sprintf("%s/%s/%s", coord.Environment, coord.StageNumber, c)).
				WithCause(errors.ErrDependencyNotFound)
			continue
		}
		if err := path.Validate(); err != nil {
			log.Warn("search returned an unusable path", "component", c.String(), "error", err)
			resolutions[i].Err = errors.Wrapf(err, "search result for %s", c)
			continue
		}
		resolutions[i].Path = path
	}
	return resolutions
}

// match prefers an exact identity match and falls back to the first result
// with the same name.
func match(c element.Component, paths []element.Path) (element.Path, bool) {
	for _, p := range paths {
		if p.Component() == c {
			return p, true
		}
	}
	for _, p := range paths {
		if p.Name == c.Name {
			return p, true
		}
	}
	return element.Path{}, false
}

// Fetch retrieves every path read-only. Failures are recorded per entry and
// never retried.
func (r *Retriever) Fetch(ctx context.Context, rc gateway.RequestContext, paths []element.Path, limit int) []Fetched {
	log := r.log(rc).WithOperation("fetch")

	fetched := make([]Fetched, len(paths))
	p := newPool(limit)
	for i, path := range paths {
		i, path := i, path
		p.Go(func() {
			retrieved, err := rc.Gateway.Retrieve(ctx, path)
			fetched[i] = Fetched{Path: path, Retrieved: retrieved, Err: err}
			if err != nil {
				log.Warn("dependency fetch failed", "element", path.String(), "error", err)
				return
			}
			r.bus.Publish(event.NewRetrievedEvent(path, retrieved.Fingerprint, false, true))
		})
	}
	p.Wait()
	return fetched
}

// Retrieve lists parent's components, resolves them and fetches the ones
// that resolved. Each distinct path is fetched once.
func (r *Retriever) Retrieve(ctx context.Context, rc gateway.RequestContext, parent element.Path, limit int) Closure {
	log := r.log(rc).WithOperation("dependencies").WithElement(parent)

	components, err := rc.Gateway.Components(ctx, parent)
	if err != nil {
		log.Warn("failed to list components", "error", err)
		return Closure{Parent: parent, Err: err}
	}
	if len(components) == 0 {
		return Closure{Parent: parent}
	}

	resolutions := r.Resolve(ctx, rc, parent, components, limit)

	seen := make(map[element.Path]int)
	var unique []element.Path
	for _, res := range resolutions {
		if res.Err != nil {
			continue
		}
		if _, ok := seen[res.Path]; !ok {
			seen[res.Path] = len(unique)
			unique = append(unique, res.Path)
		}
	}
	fetched := r.Fetch(ctx, rc, unique, limit)

	deps := make([]Dependency, len(resolutions))
	for i, res := range resolutions {
		deps[i] = Dependency{Component: res.Component, Path: res.Path, Err: res.Err}
		if res.Err != nil {
			continue
		}
		f := fetched[seen[res.Path]]
		deps[i].Retrieved = f.Retrieved
		deps[i].Err = f.Err
	}

	closure := Closure{Parent: parent, Dependencies: deps}
	log.Info("dependencies retrieved", "total", len(deps), "failed", len(closure.Failed()))
	return closure
}

func (r *Retriever) log(rc gateway.RequestContext) *logging.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return r.logger
}

// newPool returns a pool running at most limit tasks at once. Limits below
// one are raised to one.
func newPool(limit int) *pool.Pool {
	return pool.New().WithMaxGoroutines(max(limit, 1))
}
