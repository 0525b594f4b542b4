package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/elmctl/internal/dependency"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/event"
	"github.com/Iron-Ham/elmctl/internal/gateway"
	"github.com/Iron-Ham/elmctl/internal/gateway/fake"
	"github.com/Iron-Ham/elmctl/internal/prompt"
)

var cc = element.ChangeControl{CCID: "CC001", Comment: "batch"}

func elementPath(name string) element.Path {
	return element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COBOL", Name: name}
}

type memStore struct {
	mu     sync.Mutex
	units  []Unit
	fail   map[element.Path]error
	depErr error
}

func (s *memStore) Save(_ context.Context, u Unit) (Saved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[u.Path]; err != nil {
		return Saved{}, err
	}
	s.units = append(s.units, u)
	saved := Saved{Location: "/ws/" + u.Path.Name}
	if s.depErr != nil && len(u.Dependencies) > 0 {
		saved.DependencyErrors = []error{s.depErr}
	}
	return saved, nil
}

type recordingViewer struct {
	mu         sync.Mutex
	active     int
	shown      []string
	overlapped bool
}

func (v *recordingViewer) Show(_ context.Context, e Entry) error {
	v.mu.Lock()
	v.active++
	if v.active > 1 {
		v.overlapped = true
	}
	v.shown = append(v.shown, e.Path.Name)
	v.mu.Unlock()

	time.Sleep(time.Millisecond)

	v.mu.Lock()
	v.active--
	v.mu.Unlock()
	return nil
}

type recorder struct {
	mu    sync.Mutex
	locks map[element.Path]bool
}

func (r *recorder) Record(path element.Path, _ element.ChangeControl, overridden bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[element.Path]bool)
	}
	r.locks[path] = overridden
}

type harness struct {
	gw      *fake.Gateway
	answers *prompt.Scripted
	store   *memStore
	viewer  *recordingViewer
	rec     *recorder
	orch    *Orchestrator
	paths   []element.Path
}

func newHarness(n int, answers *prompt.Scripted, opts ...fake.Option) *harness {
	h := &harness{
		gw:      fake.New(opts...),
		answers: answers,
		store:   &memStore{},
		viewer:  &recordingViewer{},
		rec:     &recorder{},
	}
	for i := 0; i < n; i++ {
		p := elementPath(fmt.Sprintf("ELM%d", i))
		h.gw.Put(p, fmt.Sprintf("content %d", i), element.Fingerprint(fmt.Sprintf("fp%d", i)))
		h.paths = append(h.paths, p)
	}
	h.orch = NewOrchestrator(answers, dependency.NewRetriever(), h.store,
		WithViewer(h.viewer), WithRecorder(h.rec))
	return h
}

func (h *harness) run(req Request) *Report {
	req.Elements = h.paths
	return h.orch.RetrieveWithDependencies(context.Background(), gateway.RequestContext{Gateway: h.gw}, req)
}

func TestCopyMode(t *testing.T) {
	h := newHarness(4, &prompt.Scripted{})

	report := h.run(Request{Limit: 2})

	if len(report.Entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(report.Entries))
	}
	for i, e := range report.Entries {
		if e.Path != h.paths[i] {
			t.Errorf("[%d] path = %v, want %v", i, e.Path, h.paths[i])
		}
		if e.Mode != ModeCopy || e.Err != nil {
			t.Errorf("[%d] mode = %v err = %v", i, e.Mode, e.Err)
		}
		if e.Fingerprint != element.Fingerprint(fmt.Sprintf("fp%d", i)) {
			t.Errorf("[%d] fingerprint = %q", i, e.Fingerprint)
		}
		if e.Location != "/ws/"+h.paths[i].Name {
			t.Errorf("[%d] location = %q", i, e.Location)
		}
	}
	if n := h.gw.Count(fake.OpRetrieveWithSignOut); n != 0 {
		t.Errorf("sign-out retrievals = %d, want 0", n)
	}
	if len(h.rec.locks) != 0 {
		t.Error("copy mode must not record locks")
	}
	if report.Err() != nil {
		t.Errorf("Err() = %v", report.Err())
	}
}

func TestSignOutMode(t *testing.T) {
	h := newHarness(3, &prompt.Scripted{})

	report := h.run(Request{ChangeControl: &cc, Limit: 3})

	for i, e := range report.Entries {
		if e.Mode != ModeSignedOut {
			t.Errorf("[%d] mode = %v, want signed-out", i, e.Mode)
		}
		if h.gw.Holder(h.paths[i]) != fake.DefaultUser {
			t.Errorf("[%d] not locked remotely", i)
		}
		if overridden, ok := h.rec.locks[h.paths[i]]; !ok || overridden {
			t.Errorf("[%d] recorded = %v, %v", i, overridden, ok)
		}
	}
	if len(h.answers.Asked()) != 0 {
		t.Error("no prompts expected")
	}
	for _, u := range h.store.units {
		if !u.SignedOut {
			t.Errorf("unit %s saved without SignedOut", u.Path.Name)
		}
	}
}

func TestConflicts(t *testing.T) {
	locked := []int{1, 3, 4}

	t.Run("one batched override for all conflicts", func(t *testing.T) {
		h := newHarness(6, &prompt.Scripted{Override: true})
		for _, i := range locked {
			h.gw.Lock(h.paths[i], "OTHER")
		}

		report := h.run(Request{ChangeControl: &cc, Limit: 3})

		if len(report.Entries) != 6 {
			t.Fatalf("entries = %d, want 6", len(report.Entries))
		}
		asked := h.answers.Asked()
		if len(asked) != 1 || asked[0].Kind != prompt.KindOverride {
			t.Fatalf("asked = %+v, want one override question", asked)
		}
		if got := strings.Join(asked[0].Names, ","); got != "ELM1,ELM3,ELM4" {
			t.Errorf("override names = %q", got)
		}
		for i, e := range report.Entries {
			want := ModeSignedOut
			if i == 1 || i == 3 || i == 4 {
				want = ModeOverridden
			}
			if e.Mode != want || e.Err != nil {
				t.Errorf("[%d] mode = %v err = %v, want %v", i, e.Mode, e.Err, want)
			}
		}
		if n := h.gw.Count(fake.OpRetrieveWithSignOut); n != 6+len(locked) {
			t.Errorf("sign-out retrievals = %d, want %d", n, 6+len(locked))
		}
		if !h.rec.locks[h.paths[3]] {
			t.Error("override lock not recorded as overridden")
		}
	})

	t.Run("declined override degrades to copies", func(t *testing.T) {
		h := newHarness(6, &prompt.Scripted{Override: false})
		for _, i := range locked {
			h.gw.Lock(h.paths[i], "OTHER")
		}

		report := h.run(Request{ChangeControl: &cc, Limit: 3})

		for _, i := range locked {
			e := report.Entries[i]
			if e.Mode != ModeCopy || e.Err != nil {
				t.Errorf("[%d] mode = %v err = %v, want copy", i, e.Mode, e.Err)
			}
			if len(e.Warnings) == 0 {
				t.Errorf("[%d] expected degradation warning", i)
			}
			if h.gw.Holder(h.paths[i]) != "OTHER" {
				t.Errorf("[%d] lock should stay with OTHER", i)
			}
		}
		if report.Succeeded() != 6 {
			t.Errorf("Succeeded() = %d, want 6", report.Succeeded())
		}
		if n := h.gw.Count(fake.OpRetrieve); n != len(locked) {
			t.Errorf("copy retrievals = %d, want %d", n, len(locked))
		}
	})

	t.Run("strict mode fails declined elements", func(t *testing.T) {
		h := newHarness(6, &prompt.Scripted{Override: false})
		for _, i := range locked {
			h.gw.Lock(h.paths[i], "OTHER")
		}

		report := h.run(Request{ChangeControl: &cc, Limit: 3, Strict: true})

		if len(report.Entries) != 6 {
			t.Fatalf("entries = %d, want 6", len(report.Entries))
		}
		for _, i := range locked {
			if !errors.Is(report.Entries[i].Err, errors.ErrSignOutConflict) {
				t.Errorf("[%d] err = %v, want sign-out conflict", i, report.Entries[i].Err)
			}
		}
		if report.Failed() != 3 {
			t.Errorf("Failed() = %d, want 3", report.Failed())
		}
		if !errors.Is(report.Err(), errors.ErrSignOutConflict) {
			t.Errorf("Err() = %v", report.Err())
		}
		if n := h.gw.Count(fake.OpRetrieve); n != 0 {
			t.Errorf("copy retrievals = %d, want 0", n)
		}
		if len(h.store.units) != 3 {
			t.Errorf("saved units = %d, want 3", len(h.store.units))
		}
	})

	t.Run("failed override degrades", func(t *testing.T) {
		h := newHarness(2, &prompt.Scripted{Override: true})
		h.gw.Fail(fake.OpRetrieveWithSignOut, h.paths[0], errors.NewRemoteError(errors.ClassSignOutConflict, "held"))

		report := h.run(Request{ChangeControl: &cc, Limit: 2})

		if e := report.Entries[0]; e.Mode != ModeCopy || e.Err != nil {
			t.Errorf("[0] mode = %v err = %v, want copy", e.Mode, e.Err)
		}
		if h.answers.Count(prompt.KindOverride) != 1 {
			t.Error("override should be asked once")
		}
		if n := h.gw.CountFor(fake.OpRetrieveWithSignOut, h.paths[0]); n != 2 {
			t.Errorf("sign-out retrievals for ELM0 = %d, want 2", n)
		}
	})
}

func TestOtherSignOutFailures(t *testing.T) {
	connErr := errors.NewRemoteError(errors.ClassConnectionFailed, "reset")

	t.Run("degrade without prompting", func(t *testing.T) {
		h := newHarness(2, &prompt.Scripted{Override: true})
		h.gw.Fail(fake.OpRetrieveWithSignOut, h.paths[1], connErr)

		report := h.run(Request{ChangeControl: &cc, Limit: 2})

		e := report.Entries[1]
		if e.Mode != ModeCopy || e.Err != nil {
			t.Errorf("mode = %v err = %v, want copy", e.Mode, e.Err)
		}
		if len(e.Warnings) != 1 || !strings.Contains(e.Warnings[0], "connection-failed") {
			t.Errorf("warnings = %v", e.Warnings)
		}
		if len(h.answers.Asked()) != 0 {
			t.Error("no override prompt expected")
		}
	})

	t.Run("copy failure is an element failure", func(t *testing.T) {
		h := newHarness(2, &prompt.Scripted{})
		h.gw.Fail(fake.OpRetrieveWithSignOut, h.paths[1], connErr)
		h.gw.Fail(fake.OpRetrieve, h.paths[1], connErr)

		report := h.run(Request{ChangeControl: &cc, Limit: 2})

		if report.Entries[0].Err != nil {
			t.Errorf("[0] err = %v", report.Entries[0].Err)
		}
		if !errors.Is(report.Entries[1].Err, errors.ErrConnectionFailed) {
			t.Errorf("[1] err = %v", report.Entries[1].Err)
		}
		if len(h.viewer.shown) != 1 {
			t.Errorf("shown = %v, want only ELM0", h.viewer.shown)
		}
	})
}

func TestDependencies(t *testing.T) {
	h := newHarness(2, &prompt.Scripted{})
	rec1 := element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COPY", Name: "REC1"}
	h.gw.Put(rec1, "01 REC1.", "r1")
	h.gw.SetComponents(h.paths[0], rec1.Component(), element.Component{System: "FIN", Subsystem: "AP", Type: "COPY", Name: "GONE"})
	h.gw.Fail(fake.OpComponents, h.paths[1], errors.NewRemoteError(errors.ClassGeneric, "acm down"))

	report := h.run(Request{Limit: 2})

	e0 := report.Entries[0]
	if e0.Err != nil || len(e0.Dependencies) != 2 {
		t.Fatalf("[0] err = %v deps = %d", e0.Err, len(e0.Dependencies))
	}
	if len(e0.Warnings) != 1 || !strings.Contains(e0.Warnings[0], "GONE") {
		t.Errorf("[0] warnings = %v", e0.Warnings)
	}
	if len(h.store.units[0].Dependencies) != 1 || h.store.units[0].Dependencies[0].Path != rec1 {
		t.Errorf("saved deps = %+v", h.store.units[0].Dependencies)
	}

	e1 := report.Entries[1]
	if e1.Err != nil {
		t.Errorf("[1] dependency listing failure must not fail the element: %v", e1.Err)
	}
	if len(e1.Warnings) != 1 {
		t.Errorf("[1] warnings = %v", e1.Warnings)
	}

	t.Run("skip dependencies", func(t *testing.T) {
		h := newHarness(1, &prompt.Scripted{})
		h.run(Request{Limit: 1, SkipDependencies: true})
		if h.gw.Count(fake.OpComponents) != 0 {
			t.Error("components should not be listed")
		}
	})
}

func TestSaveFailures(t *testing.T) {
	t.Run("element save failure", func(t *testing.T) {
		h := newHarness(3, &prompt.Scripted{})
		h.store.fail = map[element.Path]error{h.paths[1]: errors.New("disk full")}

		report := h.run(Request{Limit: 3})

		if report.Entries[1].Err == nil || report.Entries[0].Err != nil || report.Entries[2].Err != nil {
			t.Errorf("errs = %v, %v, %v", report.Entries[0].Err, report.Entries[1].Err, report.Entries[2].Err)
		}
		if !strings.Contains(report.Err().Error(), "ELM1") {
			t.Errorf("Err() should name the element: %v", report.Err())
		}
	})

	t.Run("dependency save failure is a warning", func(t *testing.T) {
		h := newHarness(1, &prompt.Scripted{})
		rec := element.Path{Environment: "DEV", StageNumber: "1", System: "FIN", Subsystem: "AP", Type: "COPY", Name: "REC"}
		h.gw.Put(rec, "", "r")
		h.gw.SetComponents(h.paths[0], rec.Component())
		h.store.depErr = errors.New("permission denied")

		report := h.run(Request{Limit: 1})

		e := report.Entries[0]
		if e.Err != nil {
			t.Fatalf("err = %v", e.Err)
		}
		if len(e.Warnings) != 1 || !strings.Contains(e.Warnings[0], "permission denied") {
			t.Errorf("warnings = %v", e.Warnings)
		}
	})
}

func TestDisplayOrder(t *testing.T) {
	h := newHarness(8, &prompt.Scripted{}, fake.WithLatency(2*time.Millisecond))

	h.run(Request{Limit: 4})

	want := make([]string, 8)
	for i := range want {
		want[i] = fmt.Sprintf("ELM%d", i)
	}
	if got := strings.Join(h.viewer.shown, ","); got != strings.Join(want, ",") {
		t.Errorf("shown = %s, want %s", got, strings.Join(want, ","))
	}
	if h.viewer.overlapped {
		t.Error("Show was called concurrently")
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	for _, limit := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			h := newHarness(8, &prompt.Scripted{Override: true}, fake.WithLatency(5*time.Millisecond))
			h.gw.Lock(h.paths[2], "OTHER")
			h.gw.Lock(h.paths[5], "OTHER")

			h.run(Request{ChangeControl: &cc, Limit: limit})

			if got := h.gw.MaxInFlight(); got > limit {
				t.Errorf("MaxInFlight = %d, exceeds limit %d", got, limit)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	bus := event.NewBus(nil)
	retrieved, cancelR := bus.SubscribeChan(event.TypeRetrieved, 8)
	defer cancelR()
	completed, cancelC := bus.SubscribeChan(event.TypeBatchCompleted, 1)
	defer cancelC()

	g := fake.New()
	paths := []element.Path{elementPath("A"), elementPath("B")}
	g.Put(paths[0], "", "a")
	orch := NewOrchestrator(&prompt.Scripted{}, dependency.NewRetriever(), &memStore{}, WithEventBus(bus))

	orch.RetrieveWithDependencies(context.Background(), gateway.RequestContext{Gateway: g},
		Request{BatchID: "batch-7", Elements: paths, Limit: 2})

	if len(retrieved) != 1 {
		t.Errorf("retrieved events = %d, want 1", len(retrieved))
	}
	select {
	case e := <-completed:
		b := e.(event.BatchCompletedEvent)
		if b.BatchID != "batch-7" || b.Requested != 2 || b.Succeeded != 1 || b.Failed != 1 {
			t.Errorf("batch event = %+v", b)
		}
	default:
		t.Fatal("no batch.completed event")
	}
}

func TestEmptyBatch(t *testing.T) {
	h := newHarness(0, &prompt.Scripted{})
	report := h.run(Request{ChangeControl: &cc})
	if len(report.Entries) != 0 || report.Err() != nil {
		t.Errorf("report = %+v", report)
	}
}

func TestMode(t *testing.T) {
	tests := []struct {
		mode   Mode
		str    string
		locked bool
	}{
		{ModeNone, "none", false},
		{ModeCopy, "copy", false},
		{ModeSignedOut, "signed-out", true},
		{ModeOverridden, "overridden", true},
		{Mode(9), "mode(9)", false},
	}
	for _, tt := range tests {
		if tt.mode.String() != tt.str || tt.mode.Locked() != tt.locked {
			t.Errorf("%d: String() = %q Locked() = %v", tt.mode, tt.mode.String(), tt.mode.Locked())
		}
	}
}
