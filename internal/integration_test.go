// Package internal contains integration tests that drive the engine against
// the in-memory remote and a real workspace directory. They check that
// checkout, the workspace store, the edit watcher and upload work together
// through one event bus.
package internal

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/engine"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway/fake"
	"github.com/Iron-Ham/elmctl/internal/prompt"
	"github.com/Iron-Ham/elmctl/internal/upload"
	"github.com/Iron-Ham/elmctl/internal/watch"
	"github.com/Iron-Ham/elmctl/internal/workspace"
)

var (
	prog = element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COBOL", Name: "PAYROLL"}
	rec  = element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COPY", Name: "PAYREC"}
	cc   = element.ChangeControl{CCID: "CR1", Comment: "payroll fix"}
)

func newRemote() *fake.Gateway {
	g := fake.New(fake.WithRequireSignOut())
	g.Put(prog, "PROCEDURE DIVISION.", "FP1")
	g.Put(rec, "01 PAYREC.", "R1")
	g.SetComponents(prog, rec.Component())
	return g
}

// TestEditSessionIntegration checks out an element, edits it on disk, and
// uploads it when the watcher reports the save.
func TestEditSessionIntegration(t *testing.T) {
	ctx := context.Background()
	g := newRemote()
	root := t.TempDir()
	store := workspace.New(afero.NewOsFs(), root)
	answers := &prompt.Scripted{Override: true, SignOut: prompt.SignOutChoice{SignOut: true}}
	eng := engine.New(g, answers, store)

	report := eng.CheckoutAndRetrieve(ctx, []element.Path{prog}, &cc, 2)
	if err := report.Err(); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	file := report.Entries[0].Location

	edited, cancel := eng.Bus().SubscribeChan(event.TypeEdited, 8)
	defer cancel()
	w, err := watch.New(root, eng.Bus(),
		watch.WithPatterns([]string{"**.cobol"}, []string{".elmctl/**", "**/.deps/**", "**.remote", "**.tmp-*"}),
		watch.WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("watch.New() error = %v", err)
	}
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(file, []byte("PROCEDURE DIVISION. STOP RUN."), 0o644); err != nil {
		t.Fatal(err)
	}

	var saved string
	select {
	case e := <-edited:
		saved = e.(event.EditedEvent).File
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the save to be reported")
	}
	if saved != file {
		t.Fatalf("edited file = %s, want %s", saved, file)
	}

	meta, err := store.Lookup(saved)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	content, err := os.ReadFile(saved)
	if err != nil {
		t.Fatal(err)
	}

	outcome := eng.UploadElement(ctx, meta.Path, cc, string(content), meta.Fingerprint)
	if _, ok := outcome.(upload.Uploaded); !ok {
		t.Fatalf("UploadElement() = %#v, want Uploaded", outcome)
	}
	if got, _ := g.Content(prog); got != "PROCEDURE DIVISION. STOP RUN." {
		t.Errorf("remote content = %q", got)
	}
	if len(answers.Asked()) != 0 {
		t.Errorf("no questions expected for an element already signed out, got %v", answers.Asked())
	}
}

// TestEventBusIntegration checks the events one overriding checkout produces.
func TestEventBusIntegration(t *testing.T) {
	g := newRemote()
	g.Lock(prog, "SOMEONE")
	store := workspace.New(afero.NewMemMapFs(), "/ws")
	eng := engine.New(g, &prompt.Scripted{Override: true}, store)

	var mu sync.Mutex
	counts := make(map[string]int)
	var signedOut event.SignedOutEvent
	eng.Bus().SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		counts[e.EventType()]++
		if so, ok := e.(event.SignedOutEvent); ok {
			signedOut = so
		}
	})

	report := eng.CheckoutAndRetrieve(context.Background(), []element.Path{prog}, &cc, 4)
	if err := report.Err(); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := map[string]int{
		event.TypeSignedOut:      1,
		event.TypeRetrieved:      2,
		event.TypeBatchCompleted: 1,
	}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("%s events = %d, want %d (all: %v)", typ, counts[typ], n, counts)
		}
	}
	if signedOut.Path != prog || !signedOut.Overridden || signedOut.CCID != cc.CCID {
		t.Errorf("signed out event = %+v", signedOut)
	}
	if g.Holder(prog) != fake.DefaultUser {
		t.Errorf("holder = %q, want %q", g.Holder(prog), fake.DefaultUser)
	}
}
