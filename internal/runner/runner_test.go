package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nholik/testflight-sentinel/internal/healthcheck"
	"github.com/nholik/testflight-sentinel/internal/page"
	"github.com/nholik/testflight-sentinel/internal/state"
	"github.com/nholik/testflight-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

const (
	availablePage = "<a>View in TestFlight</a><p>Testing Apps with TestFlight</p>"
	fullPage      = "<p>This beta is full.</p>"
	otherPage     = "<p>Nothing here.</p>"
)

type fakeTimer struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeFetcher struct {
	pages map[string]string
	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	content, ok := f.pages[url]
	return content, ok
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []transition.Event
	err    error
	sent   chan transition.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event transition.Event) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	if n.sent != nil {
		n.sent <- event
	}
	return n.err
}

func (n *recordingNotifier) Events() []transition.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]transition.Event(nil), n.events...)
}

type memoryStore struct {
	mu      sync.Mutex
	initial state.State
	saved   []state.State
	saveErr error
}

func (s *memoryStore) Load(context.Context) (state.State, error) {
	return s.initial.Clone(), nil
}

func (s *memoryStore) Save(_ context.Context, st state.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, st.Clone())
	return s.saveErr
}

func (s *memoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func targets(entries map[string]state.Target) state.State {
	return state.State{Targets: entries}
}

func TestRunner_Run_TriggersRunOnceAfterEachWait(t *testing.T) {
	timer := &fakeTimer{ch: make(chan time.Time, 2)}
	runCalls := make(chan struct{}, 3)

	r := New(zerolog.Nop(), time.Second,
		WithTimerFactory(func(time.Duration) Timer {
			return timer
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	timer.ch <- time.Now()
	timer.ch <- time.Now()

	if !waitForCalls(runCalls, 3, time.Second) {
		t.Fatalf("expected an immediate run plus one per elapsed wait")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !timer.Stopped() {
		t.Fatalf("expected timer to be stopped")
	}
}

func TestRunner_Run_StopsOnContextCancel(t *testing.T) {
	timer := &fakeTimer{ch: make(chan time.Time, 1)}

	r := New(zerolog.Nop(), time.Second,
		WithTimerFactory(func(time.Duration) Timer {
			return timer
		}),
		WithRunOnce(func(context.Context) error { return nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- r.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !timer.Stopped() {
		t.Fatalf("expected timer to be stopped")
	}
}

func TestRunner_Run_RejectsZeroCheckInterval(t *testing.T) {
	r := New(zerolog.Nop(), 0)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error for zero check interval")
	}
}

func TestRunner_Run_ImmediateFirstRun(t *testing.T) {
	timer := &fakeTimer{ch: make(chan time.Time, 1)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTimerFactory(func(time.Duration) Timer {
			return timer
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	// First cycle runs without waiting for the timer.
	if !waitForCalls(runCalls, 1, time.Second) {
		t.Fatalf("expected immediate first run")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}

func TestRunner_Run_ExitsWhenNoTargets(t *testing.T) {
	store := &memoryStore{initial: targets(map[string]state.Target{})}
	called := false

	r := New(zerolog.Nop(), time.Second,
		WithStateStore(store),
		WithRunOnce(func(context.Context) error {
			called = true
			return nil
		}),
	)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if called {
		t.Fatalf("expected no cycle to run")
	}
}

func TestRunner_Run_LoadsStoreAndNotifies(t *testing.T) {
	store := &memoryStore{initial: targets(map[string]state.Target{
		"AppX": {URL: "https://example.com/beta"},
	})}
	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/beta": availablePage}}
	notifier := &recordingNotifier{sent: make(chan transition.Event, 1)}
	timer := &fakeTimer{ch: make(chan time.Time)}

	r := New(zerolog.Nop(), time.Minute,
		WithStateStore(store),
		WithFetcher(fetcher),
		WithNotifier(notifier),
		WithTimerFactory(func(time.Duration) Timer { return timer }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	select {
	case event := <-notifier.sent:
		if event.Kind != transition.KindOpened || event.Target != "AppX" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an opened notification")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if store.Saves() != 1 {
		t.Fatalf("expected one save, got %d", store.Saves())
	}
	if got := r.State().Targets["AppX"].LastStatus; got != state.StatusAvailable {
		t.Fatalf("expected available, got %q", got)
	}
}

func TestRunOnce_EndToEndWithFileStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(availablePage))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "apps_config.json")
	if err := os.WriteFile(path, []byte(`{"AppX": "`+srv.URL+`/beta"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx := context.Background()
	store := state.NewFileStore(path, zerolog.Nop())
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	notifier := &recordingNotifier{}
	r := New(zerolog.Nop(), time.Minute,
		WithState(loaded),
		WithStateStore(store),
		WithFetcher(page.NewHTTPFetcher(zerolog.Nop(), time.Second)),
		WithNotifier(notifier),
	)

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	events := notifier.Events()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	want := "🚀 TestFlight for *AppX* AVAILABLE!\n" + srv.URL + "/beta"
	if events[0].Message() != want {
		t.Fatalf("unexpected message %q", events[0].Message())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var persisted map[string]map[string]string
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("decode persisted: %v", err)
	}
	entry := persisted["AppX"]
	if entry["url"] != srv.URL+"/beta" || entry["last_state"] != "available" {
		t.Fatalf("unexpected persisted entry %v", entry)
	}

	// A second cycle on the same page is silent.
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("second run once: %v", err)
	}
	if len(notifier.Events()) != 1 {
		t.Fatalf("expected no duplicate notification")
	}
}

func TestRunOnce_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		previous state.Status
		content  string
		want     state.Status
		kind     transition.Kind
	}{
		{name: "none to available", previous: state.StatusNone, content: availablePage, want: state.StatusAvailable, kind: transition.KindOpened},
		{name: "full to available", previous: state.StatusFull, content: availablePage, want: state.StatusAvailable, kind: transition.KindOpened},
		{name: "available to full", previous: state.StatusAvailable, content: fullPage, want: state.StatusFull, kind: transition.KindClosed},
		{name: "full to unknown", previous: state.StatusFull, content: otherPage, want: state.StatusUnknown},
		{name: "unknown to full", previous: state.StatusUnknown, content: fullPage, want: state.StatusFull},
		{name: "available to unknown", previous: state.StatusAvailable, content: otherPage, want: state.StatusUnknown},
		{name: "full unchanged", previous: state.StatusFull, content: fullPage, want: state.StatusFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			r := New(zerolog.Nop(), time.Minute,
				WithState(targets(map[string]state.Target{
					"App": {URL: "https://example.com/app", LastStatus: tt.previous},
				})),
				WithFetcher(&fakeFetcher{pages: map[string]string{"https://example.com/app": tt.content}}),
				WithNotifier(notifier),
			)

			if err := r.RunOnce(context.Background()); err != nil {
				t.Fatalf("run once: %v", err)
			}

			if got := r.State().Targets["App"].LastStatus; got != tt.want {
				t.Fatalf("expected status %q, got %q", tt.want, got)
			}
			events := notifier.Events()
			if tt.kind == "" {
				if len(events) != 0 {
					t.Fatalf("expected no events, got %+v", events)
				}
				return
			}
			if len(events) != 1 || events[0].Kind != tt.kind {
				t.Fatalf("expected one %q event, got %+v", tt.kind, events)
			}
		})
	}
}

func TestRunOnce_FetchFailureLeavesStatus(t *testing.T) {
	tracker := healthcheck.NewTracker()
	notifier := &recordingNotifier{}
	store := &memoryStore{}

	r := New(zerolog.Nop(), time.Minute,
		WithState(targets(map[string]state.Target{
			"App": {URL: "https://example.com/app", LastStatus: state.StatusAvailable},
		})),
		WithStateStore(store),
		WithFetcher(&fakeFetcher{pages: map[string]string{}}),
		WithNotifier(notifier),
		WithTracker(tracker),
	)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if got := r.State().Targets["App"].LastStatus; got != state.StatusAvailable {
		t.Fatalf("expected status to stay available, got %q", got)
	}
	if len(notifier.Events()) != 0 {
		t.Fatalf("expected no events")
	}
	if store.Saves() != 1 {
		t.Fatalf("expected the cycle to save, got %d saves", store.Saves())
	}
	snapshot := tracker.Snapshot()
	if snapshot.TargetsChecked != 1 || snapshot.FetchFailures != 1 {
		t.Fatalf("unexpected tracker snapshot %+v", snapshot)
	}
	if !tracker.Ready() {
		t.Fatalf("expected tracker to be ready")
	}
}

func TestRunOnce_NotifierFailureDoesNotStopCycle(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/a": availablePage,
		"https://example.com/b": availablePage,
	}}
	notifier := &recordingNotifier{err: errors.New("telegram down")}

	r := New(zerolog.Nop(), time.Minute,
		WithState(targets(map[string]state.Target{
			"B": {URL: "https://example.com/b"},
			"A": {URL: "https://example.com/a"},
		})),
		WithFetcher(fetcher),
		WithNotifier(notifier),
	)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	events := notifier.Events()
	if len(events) != 2 || events[0].Target != "A" || events[1].Target != "B" {
		t.Fatalf("expected events for A then B, got %+v", events)
	}
	for name, target := range r.State().Targets {
		if target.LastStatus != state.StatusAvailable {
			t.Fatalf("expected %s to be available, got %q", name, target.LastStatus)
		}
	}

	// Dropped events are not retried on the next cycle.
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run once: %v", err)
	}
	if len(notifier.Events()) != 2 {
		t.Fatalf("expected dropped events to stay dropped")
	}
}

func TestRunOnce_SkipsTargetWithoutURL(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{}}
	r := New(zerolog.Nop(), time.Minute,
		WithState(targets(map[string]state.Target{"Empty": {}})),
		WithFetcher(fetcher),
	)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Fatalf("expected no fetches, got %v", fetcher.calls)
	}
	if got := r.State().Targets["Empty"].LastStatus; got != state.StatusNone {
		t.Fatalf("expected status untouched, got %q", got)
	}
}

func TestRunOnce_SaveErrorIsRuntimeError(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("disk full")}
	r := New(zerolog.Nop(), time.Minute,
		WithState(targets(map[string]state.Target{
			"App": {URL: "https://example.com/app"},
		})),
		WithStateStore(store),
		WithFetcher(&fakeFetcher{pages: map[string]string{"https://example.com/app": fullPage}}),
	)

	err := r.RunOnce(context.Background())
	var runtimeErr *RuntimeError
	if !errors.As(err, &runtimeErr) {
		t.Fatalf("expected RuntimeError, got %v", err)
	}
	if runtimeErr.Op != "save targets" {
		t.Fatalf("unexpected op %q", runtimeErr.Op)
	}
	// The in-memory status is kept even when the save fails.
	if got := r.State().Targets["App"].LastStatus; got != state.StatusFull {
		t.Fatalf("expected full, got %q", got)
	}
}

func TestRunOnce_RequiresFetcher(t *testing.T) {
	r := New(zerolog.Nop(), time.Minute)
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error without a fetcher")
	}
}

func TestRuntimeError_Format(t *testing.T) {
	base := errors.New("boom")
	if got := wrapRuntime("save targets", base).Error(); got != "save targets: boom" {
		t.Fatalf("unexpected error %q", got)
	}
	err := wrapTargetRuntime("notify", "AppX", base)
	if got := err.Error(); got != `notify "AppX": boom` {
		t.Fatalf("unexpected error %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to unwrap")
	}
	if wrapRuntime("noop", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func waitForCalls(ch <-chan struct{}, count int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < count; i++ {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}
