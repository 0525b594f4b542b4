// Package workspace keeps checked out elements on the local filesystem.
//
// Elements are written under {root}/{ENV}/{STAGE}/{SYSTEM}/{SUBSYSTEM}/{TYPE}
// as NAME.type, with their dependencies beside them in a .deps directory.
// Metadata recording where each file came from and the fingerprint it was
// read at lives under {root}/.elmctl/meta, mirroring the element layout.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/elmctl/internal/checkout"
	"github.com/Iron-Ham/elmctl/internal/dependency"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/logging"
	"github.com/Iron-Ham/elmctl/internal/prompt"
)

const (
	// StateDir holds workspace state under the root.
	StateDir = ".elmctl"
	// DepsDir holds an element's dependencies next to it.
	DepsDir = ".deps"
	// RemoteSuffix is appended to a file to hold the remote side of a conflict.
	RemoteSuffix = ".remote"

	metaDir  = "meta"
	metaExt  = ".yaml"
	filePerm = 0o644
	dirPerm  = 0o755
)

// ErrNotTracked is returned by Lookup for files the workspace did not write.
var ErrNotTracked = errors.New("file is not a checked out element")

// Meta describes a checked out element file.
type Meta struct {
	Path         element.Path
	File         string
	Fingerprint  element.Fingerprint
	SignedOut    bool
	RetrievedAt  time.Time
	Dependencies []element.Path
}

// metaFile is the on-disk form of Meta.
type metaFile struct {
	Element      string    `yaml:"element"`
	Fingerprint  string    `yaml:"fingerprint"`
	SignedOut    bool      `yaml:"signed_out"`
	RetrievedAt  time.Time `yaml:"retrieved_at"`
	Dependencies []string  `yaml:"dependencies,omitempty"`
}

// Store implements checkout.Store on an afero filesystem.
type Store struct {
	fs     afero.Fs
	root   string
	now    func() time.Time
	logger *logging.Logger

	// mu serializes metadata read-modify-write cycles.
	mu sync.Mutex
}

var _ checkout.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for RetrievedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store rooted at root on fs.
func New(fs afero.Fs, root string, opts ...Option) *Store {
	s := &Store{
		fs:     fs,
		root:   filepath.Clean(root),
		now:    time.Now,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the workspace root.
func (s *Store) Root() string { return s.root }

// Location returns the file an element is written to.
func (s *Store) Location(p element.Path) string {
	return filepath.Join(s.root, p.Environment, p.StageNumber, p.System, p.Subsystem, p.Type, fileName(p))
}

func fileName(p element.Path) string {
	return p.Name + "." + strings.ToLower(p.Type)
}

// Save writes the element, its metadata and its dependencies. The element
// and metadata must both be written for Save to succeed; dependency write
// failures are reported in Saved.DependencyErrors.
func (s *Store) Save(ctx context.Context, unit checkout.Unit) (checkout.Saved, error) {
	if err := ctx.Err(); err != nil {
		return checkout.Saved{}, err
	}
	if err := unit.Path.Validate(); err != nil {
		return checkout.Saved{}, errors.Wrapf(err, "refusing to save %s", unit.Path)
	}
	log := s.logger.WithElement(unit.Path)
	loc := s.Location(unit.Path)

	var deps []dependency.Dependency
	var rejected []error
	for _, d := range unit.Dependencies {
		if err := d.Path.Validate(); err != nil {
			log.Warn("refusing to save dependency", "dependency", d.Path.String(), "error", err)
			rejected = append(rejected, fmt.Errorf("%s: %w", d.Path, err))
			continue
		}
		deps = append(deps, d)
	}

	if err := s.writeAtomic(loc, []byte(unit.Retrieved.Content)); err != nil {
		return checkout.Saved{}, errors.Wrapf(err, "write %s", loc)
	}

	meta := Meta{
		Path:        unit.Path,
		File:        loc,
		Fingerprint: unit.Retrieved.Fingerprint,
		SignedOut:   unit.SignedOut,
		RetrievedAt: s.now(),
	}
	for _, d := range deps {
		meta.Dependencies = append(meta.Dependencies, d.Path)
	}
	s.mu.Lock()
	err := s.writeMeta(meta)
	s.mu.Unlock()
	if err != nil {
		return checkout.Saved{}, err
	}

	saved := checkout.Saved{Location: loc, DependencyErrors: rejected}
	depDir := filepath.Join(filepath.Dir(loc), DepsDir)
	for _, d := range deps {
		target := filepath.Join(depDir, fileName(d.Path))
		if err := s.writeAtomic(target, []byte(d.Retrieved.Content)); err != nil {
			log.Warn("failed to save dependency", "dependency", d.Path.String(), "error", err)
			saved.DependencyErrors = append(saved.DependencyErrors, fmt.Errorf("%s: %w", d.Path, err))
		}
	}

	log.Debug("element saved", "file", loc, "dependencies", len(unit.Dependencies)-len(saved.DependencyErrors))
	return saved, nil
}

// Lookup returns the metadata of a file written by Save.
func (s *Store) Lookup(file string) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMeta(file)
}

// UpdateFingerprint records that file now matches the remote version fp,
// typically after a successful upload.
func (s *Store) UpdateFingerprint(file string, fp element.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(file)
	if err != nil {
		return err
	}
	meta.Fingerprint = fp
	meta.RetrievedAt = s.now()
	return s.writeMeta(meta)
}

// Tracked returns the metadata of every element in the workspace, ordered
// by file.
func (s *Store) Tracked() ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := filepath.Join(s.root, StateDir, metaDir)
	if ok, err := afero.DirExists(s.fs, base); err != nil || !ok {
		return nil, err
	}

	var metas []Meta
	err := afero.Walk(s.fs, base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, metaExt) {
			return nil
		}
		rel, err := filepath.Rel(base, strings.TrimSuffix(path, metaExt))
		if err != nil {
			return err
		}
		meta, err := s.readMeta(filepath.Join(s.root, rel))
		if err != nil {
			return err
		}
		metas = append(metas, meta)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list workspace")
	}
	return metas, nil
}

// WriteConflict writes the remote side of a conflict next to the local file
// and returns its location. It satisfies prompt.ConflictWriter.
func (s *Store) WriteConflict(c prompt.Conflict) (string, error) {
	target := s.Location(c.Path) + RemoteSuffix
	if err := s.writeAtomic(target, []byte(c.Remote.Content)); err != nil {
		return "", errors.Wrapf(err, "write %s", target)
	}
	return target, nil
}

// Ignored reports whether file is workspace bookkeeping rather than an
// element the user edits.
func (s *Store) Ignored(file string) bool {
	rel, err := filepath.Rel(s.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == StateDir || part == DepsDir {
			return true
		}
	}
	return strings.HasSuffix(file, RemoteSuffix) || strings.Contains(filepath.Base(file), ".tmp-")
}

func (s *Store) metaPath(file string) (string, error) {
	rel, err := filepath.Rel(s.root, filepath.Clean(file))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.NewNotFoundError("element file", file).WithCause(ErrNotTracked)
	}
	return filepath.Join(s.root, StateDir, metaDir, rel+metaExt), nil
}

func (s *Store) readMeta(file string) (Meta, error) {
	mp, err := s.metaPath(file)
	if err != nil {
		return Meta{}, err
	}
	data, err := afero.ReadFile(s.fs, mp)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, errors.NewNotFoundError("element file", file).WithCause(ErrNotTracked)
		}
		return Meta{}, errors.Wrapf(err, "read metadata for %s", file)
	}

	var mf metaFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return Meta{}, errors.Wrapf(err, "parse metadata for %s", file)
	}
	path, err := element.ParsePath(mf.Element)
	if err != nil {
		return Meta{}, errors.Wrapf(err, "metadata for %s", file)
	}
	meta := Meta{
		Path:        path,
		File:        s.Location(path),
		Fingerprint: element.Fingerprint(mf.Fingerprint),
		SignedOut:   mf.SignedOut,
		RetrievedAt: mf.RetrievedAt,
	}
	for _, d := range mf.Dependencies {
		dp, err := element.ParsePath(d)
		if err != nil {
			return Meta{}, errors.Wrapf(err, "metadata for %s", file)
		}
		meta.Dependencies = append(meta.Dependencies, dp)
	}
	return meta, nil
}

func (s *Store) writeMeta(m Meta) error {
	mp, err := s.metaPath(m.File)
	if err != nil {
		return err
	}
	mf := metaFile{
		Element:     m.Path.String(),
		Fingerprint: string(m.Fingerprint),
		SignedOut:   m.SignedOut,
		RetrievedAt: m.RetrievedAt.UTC(),
	}
	for _, d := range m.Dependencies {
		mf.Dependencies = append(mf.Dependencies, d.String())
	}
	data, err := yaml.Marshal(mf)
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	if err := s.writeAtomic(mp, data); err != nil {
		return errors.Wrapf(err, "write metadata for %s", m.File)
	}
	return nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it into place.
func (s *Store) writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.fs.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := s.fs.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}
