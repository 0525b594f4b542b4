package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/Iron-Ham/elmctl/internal/checkout"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway/fake"
	"github.com/Iron-Ham/elmctl/internal/prompt"
	"github.com/Iron-Ham/elmctl/internal/signout"
	"github.com/Iron-Ham/elmctl/internal/upload"
)

var (
	cc   = element.ChangeControl{CCID: "CC001", Comment: "engine"}
	prog = element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COBOL", Name: "PAYROLL"}
	rec  = element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COPY", Name: "PAYREC"}
)

type discardStore struct {
	mu    sync.Mutex
	saved []checkout.Unit
}

func (s *discardStore) Save(_ context.Context, u checkout.Unit) (checkout.Saved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, u)
	return checkout.Saved{Location: u.Path.Name}, nil
}

func newEngine(answers *prompt.Scripted, opts ...Option) (*Engine, *fake.Gateway, *discardStore) {
	g := fake.New(fake.WithRequireSignOut())
	g.Put(prog, "PROCEDURE DIVISION.", "v1")
	g.Put(rec, "01 PAYREC.", "c1")
	g.SetComponents(prog, rec.Component())
	store := &discardStore{}
	return New(g, answers, store, opts...), g, store
}

func TestSignOutThenUpload(t *testing.T) {
	e, g, _ := newEngine(&prompt.Scripted{})

	if _, ok := e.SignOutElement(context.Background(), prog, cc).(signout.Granted); !ok {
		t.Fatal("expected sign-out to be granted")
	}
	if !e.Ledger().Holds(prog) {
		t.Error("ledger should hold the lock")
	}

	out := e.UploadElement(context.Background(), prog, cc, "NEW", "v1")
	if _, ok := out.(upload.Uploaded); !ok {
		t.Fatalf("UploadElement() = %#v, want Uploaded", out)
	}

	got, err := e.Refresh(context.Background(), prog, "NEW")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, want := g.Content(prog); got != want || got == "v1" {
		t.Errorf("Refresh() = %s, want %s", got, want)
	}

	stale := e.UploadElement(context.Background(), prog, cc, "NEWER", "v1")
	failed, ok := stale.(upload.Failed)
	if !ok || failed.Class != errors.ClassFingerprintMismatch {
		t.Errorf("stale upload = %#v, want fingerprint mismatch", stale)
	}
	if content, _ := g.Content(prog); content != "NEW" {
		t.Errorf("remote content = %q", content)
	}

	if err := e.SignInElement(context.Background(), prog); err != nil {
		t.Fatalf("SignInElement() error = %v", err)
	}
	if e.Ledger().Holds(prog) || g.Holder(prog) != "" {
		t.Error("lock should be released")
	}
}

func TestCheckoutAndRetrieve(t *testing.T) {
	e, g, store := newEngine(&prompt.Scripted{})

	report := e.CheckoutAndRetrieve(context.Background(), []element.Path{prog}, &cc, 2)

	if report.BatchID == "" {
		t.Error("batch ID should be generated")
	}
	if len(report.Entries) != 1 || report.Entries[0].Mode != checkout.ModeSignedOut {
		t.Fatalf("entries = %+v", report.Entries)
	}
	if len(store.saved) != 1 || len(store.saved[0].Dependencies) != 1 {
		t.Errorf("saved = %+v", store.saved)
	}
	if !e.Ledger().Holds(prog) || g.Holder(prog) != fake.DefaultUser {
		t.Error("checked out element should be locked and recorded")
	}
}

func TestWithoutDependencies(t *testing.T) {
	e, g, _ := newEngine(&prompt.Scripted{}, WithoutDependencies())

	e.CheckoutAndRetrieve(context.Background(), []element.Path{prog}, nil, 1)

	if g.Count(fake.OpComponents) != 0 {
		t.Error("dependencies should not be listed")
	}
}

func TestStrictSignOut(t *testing.T) {
	for _, strict := range []bool{false, true} {
		e, g, _ := newEngine(&prompt.Scripted{Override: false}, WithStrictSignOut(strict))
		g.Lock(prog, "OTHER")

		report := e.CheckoutAndRetrieve(context.Background(), []element.Path{prog}, &cc, 1)

		if failed := report.Entries[0].Err != nil; failed != strict {
			t.Errorf("strict=%v: err = %v", strict, report.Entries[0].Err)
		}
	}
}

func TestEventsShareOneBus(t *testing.T) {
	bus := event.NewBus(nil)
	all, cancel := bus.SubscribeChan("", 32)
	defer cancel()

	e, _, _ := newEngine(&prompt.Scripted{}, WithEventBus(bus))
	if e.Bus() != bus {
		t.Fatal("Bus() should return the configured bus")
	}

	e.SignOutElement(context.Background(), prog, cc)
	e.UploadElement(context.Background(), prog, cc, "X", "v1")

	seen := map[string]bool{}
	for len(all) > 0 {
		seen[(<-all).EventType()] = true
	}
	for _, typ := range []string{event.TypeSignedOut, event.TypeUploaded} {
		if !seen[typ] {
			t.Errorf("missing %s event, saw %v", typ, seen)
		}
	}
}

func TestAutoSignOutSetting(t *testing.T) {
	settings := upload.NewMemorySettings(true)
	answers := &prompt.Scripted{}
	e, _, _ := newEngine(answers, WithSettings(settings))

	out := e.UploadElement(context.Background(), prog, cc, "X", "v1")

	if up, ok := out.(upload.Uploaded); !ok || !up.SignedOut {
		t.Errorf("UploadElement() = %#v, want Uploaded after sign-out", out)
	}
	if answers.Count(prompt.KindSignOut) != 0 {
		t.Error("automatic sign-out must not prompt")
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name     string
		remote   string
		uploaded string
		changed  bool
	}{
		{"same content", "NEW", "NEW", false},
		{"trailing blanks and newline", "LINE 1   \nLINE 2\n", "LINE 1\nLINE 2", false},
		{"someone else updated", "OTHER USER WORK", "NEW", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, g, _ := newEngine(&prompt.Scripted{})
			g.Put(prog, tt.remote, "FP9")

			fp, err := e.Refresh(context.Background(), prog, tt.uploaded)
			if tt.changed {
				if !errors.Is(err, ErrRemoteChanged) || fp != "" {
					t.Errorf("Refresh() = %q, %v; want ErrRemoteChanged", fp, err)
				}
				return
			}
			if err != nil || fp != "FP9" {
				t.Errorf("Refresh() = %q, %v; want FP9", fp, err)
			}
		})
	}
}
