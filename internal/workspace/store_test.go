package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/elmctl/internal/checkout"
	"github.com/Iron-Ham/elmctl/internal/dependency"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/prompt"
)

var (
	prog   = element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COBOL", Name: "PAYROLL"}
	rec    = element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COPY", Name: "PAYREC"}
	fixed  = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	root   = "/ws"
	progAt = "/ws/DEV/1/FIN/AP/COBOL/PAYROLL.cobol"
)

func newStore(fs afero.Fs) *Store {
	return New(fs, root, WithClock(func() time.Time { return fixed }))
}

func unit() checkout.Unit {
	return checkout.Unit{
		Path:      prog,
		Retrieved: element.Retrieved{Content: "PROCEDURE DIVISION.", Fingerprint: "FP1"},
		SignedOut: true,
		Dependencies: []dependency.Dependency{
			{Component: rec.Component(), Path: rec, Retrieved: element.Retrieved{Content: "01 PAYREC.", Fingerprint: "R1"}},
		},
	}
}

func TestLocation(t *testing.T) {
	s := newStore(afero.NewMemMapFs())
	if got := s.Location(prog); got != progAt {
		t.Errorf("Location() = %s, want %s", got, progAt)
	}
}

func TestSave(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)

	saved, err := s.Save(context.Background(), unit())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Location != progAt || len(saved.DependencyErrors) != 0 {
		t.Errorf("Save() = %+v", saved)
	}

	content, err := afero.ReadFile(fs, progAt)
	if err != nil || string(content) != "PROCEDURE DIVISION." {
		t.Errorf("element file = %q, %v", content, err)
	}
	dep, err := afero.ReadFile(fs, "/ws/DEV/1/FIN/AP/COBOL/.deps/PAYREC.copy")
	if err != nil || string(dep) != "01 PAYREC." {
		t.Errorf("dependency file = %q, %v", dep, err)
	}

	meta, err := s.Lookup(progAt)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if meta.Path != prog || meta.Fingerprint != "FP1" || !meta.SignedOut || !meta.RetrievedAt.Equal(fixed) {
		t.Errorf("Lookup() = %+v", meta)
	}
	if len(meta.Dependencies) != 1 || meta.Dependencies[0] != rec {
		t.Errorf("dependencies = %v", meta.Dependencies)
	}

	entries, _ := afero.ReadDir(fs, filepath.Dir(progAt))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSave_Overwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)
	u := unit()
	if _, err := s.Save(context.Background(), u); err != nil {
		t.Fatal(err)
	}

	u.Retrieved = element.Retrieved{Content: "V2", Fingerprint: "FP2"}
	u.SignedOut = false
	u.Dependencies = nil
	if _, err := s.Save(context.Background(), u); err != nil {
		t.Fatal(err)
	}

	content, _ := afero.ReadFile(fs, progAt)
	meta, _ := s.Lookup(progAt)
	if string(content) != "V2" || meta.Fingerprint != "FP2" || meta.SignedOut || len(meta.Dependencies) != 0 {
		t.Errorf("content = %q meta = %+v", content, meta)
	}
}

// denyFs refuses to open files whose path contains deny.
type denyFs struct {
	afero.Fs
	deny string
}

func (f denyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if strings.Contains(name, f.deny) {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestSave_DependencyFailure(t *testing.T) {
	s := newStore(denyFs{Fs: afero.NewMemMapFs(), deny: DepsDir})

	saved, err := s.Save(context.Background(), unit())
	if err != nil {
		t.Fatalf("element save should succeed: %v", err)
	}
	if len(saved.DependencyErrors) != 1 || !strings.Contains(saved.DependencyErrors[0].Error(), rec.String()) {
		t.Errorf("DependencyErrors = %v", saved.DependencyErrors)
	}
}

func TestSave_ReadOnly(t *testing.T) {
	s := newStore(afero.NewReadOnlyFs(afero.NewMemMapFs()))

	if _, err := s.Save(context.Background(), unit()); err == nil {
		t.Error("expected error on read-only filesystem")
	}
}

func TestSave_UnsafePaths(t *testing.T) {
	t.Run("dependency outside the workspace is skipped", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := newStore(fs)
		u := unit()
		evil := rec
		evil.Name = "../../../../ESCAPE"
		u.Dependencies = append(u.Dependencies, dependency.Dependency{Path: evil, Retrieved: element.Retrieved{Content: "x"}})

		saved, err := s.Save(context.Background(), u)
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if len(saved.DependencyErrors) != 1 || !errors.Is(saved.DependencyErrors[0], errors.ErrInvalidInput) {
			t.Errorf("DependencyErrors = %v, want one invalid input", saved.DependencyErrors)
		}
		if ok, _ := afero.Exists(fs, "/ws/DEV/1/ESCAPE.copy"); ok {
			t.Error("dependency written outside its directory")
		}
		if ok, _ := afero.Exists(fs, "/ws/DEV/1/FIN/AP/COBOL/.deps/PAYREC.copy"); !ok {
			t.Error("valid dependency should still be written")
		}
		meta, err := s.Lookup(progAt)
		if err != nil {
			t.Fatal(err)
		}
		if len(meta.Dependencies) != 1 || meta.Dependencies[0] != rec {
			t.Errorf("meta.Dependencies = %v", meta.Dependencies)
		}
	})

	t.Run("element outside the workspace is refused", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := newStore(fs)
		u := unit()
		u.Path.Subsystem = ".."

		if _, err := s.Save(context.Background(), u); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Save() error = %v, want invalid input", err)
		}
		if ok, _ := afero.Exists(fs, "/ws/DEV/1/FIN/COBOL/PAYROLL.cobol"); ok {
			t.Error("element written despite invalid path")
		}
	})
}

func TestSave_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Save(ctx, unit()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save() error = %v, want context.Canceled", err)
	}
	if ok, _ := afero.Exists(fs, progAt); ok {
		t.Error("nothing should be written after cancellation")
	}
}

func TestLookup_NotTracked(t *testing.T) {
	s := newStore(afero.NewMemMapFs())

	for _, file := range []string{progAt, "/elsewhere/x.cobol"} {
		_, err := s.Lookup(file)
		if !errors.Is(err, ErrNotTracked) {
			t.Errorf("Lookup(%s) error = %v, want ErrNotTracked", file, err)
		}
	}
}

func TestUpdateFingerprint(t *testing.T) {
	s := newStore(afero.NewMemMapFs())
	if _, err := s.Save(context.Background(), unit()); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateFingerprint(progAt, "FP9"); err != nil {
		t.Fatalf("UpdateFingerprint() error = %v", err)
	}
	meta, _ := s.Lookup(progAt)
	if meta.Fingerprint != "FP9" || !meta.SignedOut || len(meta.Dependencies) != 1 {
		t.Errorf("meta = %+v", meta)
	}

	if err := s.UpdateFingerprint("/ws/DEV/1/FIN/AP/COBOL/OTHER.cobol", "X"); !errors.Is(err, ErrNotTracked) {
		t.Errorf("untracked update error = %v", err)
	}
}

func TestTracked(t *testing.T) {
	s := newStore(afero.NewMemMapFs())

	if metas, err := s.Tracked(); err != nil || len(metas) != 0 {
		t.Fatalf("empty workspace Tracked() = %v, %v", metas, err)
	}

	second := unit()
	second.Path = rec
	second.Dependencies = nil
	for _, u := range []checkout.Unit{unit(), second} {
		if _, err := s.Save(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}

	metas, err := s.Tracked()
	if err != nil {
		t.Fatalf("Tracked() error = %v", err)
	}
	if len(metas) != 2 || metas[0].Path != prog || metas[1].Path != rec {
		t.Errorf("Tracked() = %+v", metas)
	}
}

func TestWriteConflict(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)

	var w prompt.ConflictWriter = s.WriteConflict
	got, err := w(prompt.Conflict{
		Path:   prog,
		Local:  "LOCAL",
		Remote: element.Retrieved{Content: "REMOTE", Fingerprint: "FP2"},
	})
	if err != nil {
		t.Fatalf("WriteConflict() error = %v", err)
	}
	if got != progAt+RemoteSuffix {
		t.Errorf("WriteConflict() = %s", got)
	}
	if content, _ := afero.ReadFile(fs, got); string(content) != "REMOTE" {
		t.Errorf("remote file = %q", content)
	}
}

func TestIgnored(t *testing.T) {
	s := newStore(afero.NewMemMapFs())

	tests := []struct {
		file string
		want bool
	}{
		{progAt, false},
		{progAt + RemoteSuffix, true},
		{"/ws/DEV/1/FIN/AP/COBOL/.deps/PAYREC.copy", true},
		{"/ws/.elmctl/meta/DEV/1/FIN/AP/COBOL/PAYROLL.cobol.yaml", true},
		{"/ws/DEV/1/FIN/AP/COBOL/PAYROLL.cobol.tmp-12345", true},
		{"/other/PAYROLL.cobol", true},
	}
	for _, tt := range tests {
		if got := s.Ignored(tt.file); got != tt.want {
			t.Errorf("Ignored(%s) = %v, want %v", tt.file, got, tt.want)
		}
	}
}
