// Package watch reports saved files under a workspace directory.
//
// Editors typically produce several write and create events for one save, so
// events are collected until the directory has been quiet for the debounce
// window and then published once per file as element.edited events.
package watch

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/logging"
)

// DefaultDebounce is used when no debounce window is configured.
const DefaultDebounce = 300 * time.Millisecond

// Watcher publishes an event for every file saved under its root that
// matches the include patterns and none of the ignore patterns. Patterns are
// matched against slash-separated paths relative to the root.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	include  []glob.Glob
	ignore   []glob.Glob
	debounce time.Duration
	bus      *event.Bus
	logger   *logging.Logger

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*options)

type options struct {
	include  []string
	ignore   []string
	debounce time.Duration
	logger   *logging.Logger
}

// WithPatterns sets the include and ignore globs. An empty include list
// matches every file.
func WithPatterns(include, ignore []string) Option {
	return func(o *options) {
		o.include = include
		o.ignore = ignore
	}
}

// WithDebounce sets the quiet period before pending saves are published.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithLogger sets the watcher logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New watches root and every directory below it that is not ignored.
// Events go to bus.
func New(root string, bus *event.Bus, opts ...Option) (*Watcher, error) {
	o := options{debounce: DefaultDebounce, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	include, err := compile(o.include)
	if err != nil {
		return nil, err
	}
	ignore, err := compile(o.ignore)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve watch root")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(err, "watch root")
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError("watch root is not a directory").WithField("root").WithValue(root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}

	w := &Watcher{
		watcher:  fw,
		root:     abs,
		include:  include,
		ignore:   ignore,
		debounce: o.debounce,
		bus:      bus,
		logger:   o.logger.WithOperation("watch"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := w.addTree(abs); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid glob pattern").WithField("pattern").WithValue(p)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Root returns the absolute directory being watched.
func (w *Watcher) Root() string { return w.root }

// Matches reports whether a file path under the root would be published.
func (w *Watcher) Matches(path string) bool {
	rel, ok := w.relative(path)
	if !ok {
		return false
	}
	for _, g := range w.ignore {
		if g.Match(rel) {
			return false
		}
	}
	if len(w.include) == 0 {
		return true
	}
	for _, g := range w.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// ignoredDir reports whether a directory's whole subtree is ignored.
func (w *Watcher) ignoredDir(path string) bool {
	rel, ok := w.relative(path)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}
	for _, g := range w.ignore {
		if g.Match(rel) || g.Match(rel+"/") {
			return true
		}
	}
	return false
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if w.ignoredDir(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return errors.Wrapf(err, "watch %s", path)
		}
		return nil
	})
}

// Start begins publishing events. It returns immediately.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.loop()
}

// Stop stops the watcher and waits for pending work to finish. Pending saves
// still inside the debounce window are dropped. Stop is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

func (w *Watcher) loop() {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-w.stopCh:
			timer.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(ev) {
				pending[ev.Name] = struct{}{}
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			w.flush(pending)
			pending = make(map[string]struct{})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// handle reports whether ev is a save of a matching file. New directories
// are added to the watch.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) && !w.ignoredDir(ev.Name) {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
		}
		return false
	}
	return w.Matches(ev.Name)
}

func (w *Watcher) flush(pending map[string]struct{}) {
	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	slices.Sort(files)
	for _, f := range files {
		w.logger.Debug("file saved", "file", f)
		w.bus.Publish(event.NewEditedEvent(f))
	}
}
