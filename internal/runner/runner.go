package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nholik/testflight-sentinel/internal/detect"
	"github.com/nholik/testflight-sentinel/internal/healthcheck"
	"github.com/nholik/testflight-sentinel/internal/metrics"
	"github.com/nholik/testflight-sentinel/internal/notify"
	"github.com/nholik/testflight-sentinel/internal/page"
	"github.com/nholik/testflight-sentinel/internal/state"
	"github.com/nholik/testflight-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

// Timer is the minimal interface needed for the wait between cycles.
type Timer interface {
	C() <-chan time.Time
	Stop()
}

type timeTimer struct {
	timer *time.Timer
}

func (t timeTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t timeTimer) Stop() {
	t.timer.Stop()
}

// Runner orchestrates the poll loop over all configured targets.
type Runner struct {
	logger        zerolog.Logger
	checkInterval time.Duration
	timerFactory  func(time.Duration) Timer
	runOnce       func(context.Context) error
	fetcher       page.Fetcher
	notifier      notify.Notifier
	stateStore    state.Store
	metrics       *metrics.Metrics
	tracker       *healthcheck.Tracker
	current       state.State
	stateMu       sync.Mutex
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTimerFactory overrides how the inter-cycle timers are created.
func WithTimerFactory(factory func(time.Duration) Timer) Option {
	return func(r *Runner) {
		r.timerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithFetcher sets the page fetcher used by the default RunOnce.
func WithFetcher(fetcher page.Fetcher) Option {
	return func(r *Runner) {
		r.fetcher = fetcher
	}
}

// WithNotifier sets where fired events are delivered.
func WithNotifier(notifier notify.Notifier) Option {
	return func(r *Runner) {
		r.notifier = notifier
	}
}

// WithStateStore sets the store targets are loaded from at startup and saved to after every cycle.
func WithStateStore(store state.Store) Option {
	return func(r *Runner) {
		r.stateStore = store
	}
}

// WithState seeds the target mapping, for runners without a store.
func WithState(initial state.State) Option {
	return func(r *Runner) {
		r.current = initial.Clone()
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracker records cycle completion for health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// New constructs a Runner with the given logger and check interval.
func New(logger zerolog.Logger, checkInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:        logger,
		checkInterval: checkInterval,
		timerFactory: func(d time.Duration) Timer {
			return timeTimer{timer: time.NewTimer(d)}
		},
		current: state.State{Targets: map[string]state.Target{}},
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = notify.NewNoop(logger, "")
	}

	return r
}

// Run loads targets, then runs a cycle, waits the check interval, and repeats
// until the context is canceled. With a store configured and no targets to
// monitor it logs a warning and returns nil without looping.
func (r *Runner) Run(ctx context.Context) error {
	if r.checkInterval <= 0 {
		return errors.New("check interval must be greater than zero")
	}

	if r.stateStore != nil {
		loaded, err := r.stateStore.Load(ctx)
		if err != nil {
			return err
		}
		r.setState(loaded)
		if len(loaded.Targets) == 0 {
			r.logger.Warn().Msg("no apps to monitor")
			return nil
		}
		r.logger.Info().Int("apps", len(loaded.Targets)).Msg("starting testflight checker")
	}

	for {
		if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("run cycle failed")
		}

		timer := r.timerFactory(r.checkInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-timer.C():
		}
	}
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

// State returns a copy of the current target mapping.
func (r *Runner) State() state.State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.current.Clone()
}

func (r *Runner) setState(next state.State) {
	if next.Targets == nil {
		next.Targets = map[string]state.Target{}
	}
	r.stateMu.Lock()
	r.current = next
	r.stateMu.Unlock()
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	if r.fetcher == nil {
		return errors.New("no page fetcher configured")
	}

	start := time.Now()
	snapshot := r.State()
	names := snapshot.Names()

	failures := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		target := snapshot.Targets[name]
		if !r.checkTarget(ctx, name, &target) {
			failures++
		}
		snapshot.Targets[name] = target
	}

	r.setState(snapshot.Clone())
	r.recordStatuses(snapshot)

	if r.stateStore != nil {
		// Statuses classified before a cancellation are still written back.
		if err := r.stateStore.Save(context.WithoutCancel(ctx), snapshot); err != nil {
			r.logger.Error().Err(err).Msg("failed to save targets")
			return wrapRuntime("save targets", err)
		}
		r.logger.Info().Int("apps", len(names)).Msg("configuration saved")
	}

	duration := time.Since(start)
	r.metrics.ObserveCycleDuration(duration)
	r.metrics.SetLastSuccessfulCycleTimestamp(time.Now())
	r.tracker.RecordCycle(duration, len(names), failures)

	return nil
}

// checkTarget runs fetch, classify, evaluate and notify for one target. It
// reports false when the page could not be fetched.
func (r *Runner) checkTarget(ctx context.Context, name string, target *state.Target) bool {
	logger := r.logger.With().Str("app", name).Logger()
	logger.Info().Msg("checking")

	if target.URL == "" {
		logger.Warn().Msg("target has no url, skipping")
		return false
	}

	content, ok := r.fetcher.Fetch(ctx, target.URL)
	if !ok {
		r.metrics.IncFetchErrors()
		return false
	}

	previous := target.LastStatus
	current := detect.Classify(content)
	event := transition.Evaluate(name, target, current)

	if event == nil {
		if previous == current {
			logger.Info().Str("status", string(current)).Msg("no change")
		} else {
			logger.Info().
				Str("previous_status", string(previous)).
				Str("current_status", string(current)).
				Msg("status changed")
		}
		return true
	}

	r.metrics.IncEventsTotal(string(event.Kind))
	switch event.Kind {
	case transition.KindOpened:
		logger.Info().Str("url", event.URL).Msg("slots available")
	case transition.KindClosed:
		logger.Info().Str("url", event.URL).Msg("slots filled")
	}

	if err := r.notifier.Notify(ctx, *event); err != nil {
		r.metrics.IncNotificationsFailed()
		logger.Warn().
			Err(wrapTargetRuntime("notify", name, err)).
			Str("kind", string(event.Kind)).
			Msg("event dropped")
	}
	return true
}

func (r *Runner) recordStatuses(snapshot state.State) {
	if r.metrics == nil {
		return
	}
	counts := map[state.Status]int{
		state.StatusNone:      0,
		state.StatusUnknown:   0,
		state.StatusAvailable: 0,
		state.StatusFull:      0,
	}
	for _, target := range snapshot.Targets {
		counts[target.LastStatus]++
	}
	for status, count := range counts {
		label := string(status)
		if status == state.StatusNone {
			label = "none"
		}
		r.metrics.SetTargetsTotal(label, count)
	}
}
