// Package tracker is the engine orchestrator. It owns the tracking phase
// state machine, drives the sampling loop through the event dispatcher,
// runs the background sweep and submission retry timers, and exposes the
// toggle/retry controls the UI layer calls.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/accesspath/tracking/internal/config"
	"github.com/accesspath/tracking/internal/dispatcher"
	"github.com/accesspath/tracking/internal/geo"
	"github.com/accesspath/tracking/internal/index"
	"github.com/accesspath/tracking/internal/match"
	"github.com/accesspath/tracking/internal/model"
	"github.com/accesspath/tracking/internal/notify"
	"github.com/accesspath/tracking/internal/sampler"
	"github.com/accesspath/tracking/internal/store"
	"github.com/accesspath/tracking/internal/validation"
)

// EventLocationSample carries a model.LocationSample payload through the
// event dispatcher.
const EventLocationSample = "location.sample"

// EventMarkerRefresh requests a marker index refresh at the sample's
// position. Runs on its own single-slot worker so an in-flight fetch never
// stalls the sample pipeline.
const EventMarkerRefresh = "index.refresh"

// LocationSampler is the sampler surface the manager drives.
type LocationSampler interface {
	Start(ctx context.Context) error
	Stop()
	State() sampler.State
	LastKnown() (model.LocationSample, bool)
}

// StatePublisher receives tracking state snapshots on every phase change.
// Implemented by notify.WSBridge; optional.
type StatePublisher interface {
	PublishState(state model.TrackingState) error
}

// Options bundles the manager's collaborators.
type Options struct {
	Config    config.EngineConfig
	Sampler   LocationSampler
	Index     *index.MarkerIndex
	Matcher   *match.Matcher
	Cooldowns *store.CooldownStore
	Locations *store.LocationStore
	Notifier  *notify.Dispatcher
	Validator *validation.Coordinator
	Events    *dispatcher.Dispatcher
	Publisher StatePublisher // may be nil
	Log       *slog.Logger
}

// Manager is the top-level tracking state machine.
type Manager struct {
	cfg       config.EngineConfig
	sampler   LocationSampler
	index     *index.MarkerIndex
	matcher   *match.Matcher
	cooldowns *store.CooldownStore
	locations *store.LocationStore
	notifier  *notify.Dispatcher
	validator *validation.Coordinator
	events    *dispatcher.Dispatcher
	publisher StatePublisher
	log       *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	phase      model.Phase
	appState   model.AppState
	tracking   bool
	lastSample *model.LocationSample
	lastUpdate time.Time
	errCount   int
	runCtx     context.Context
	cancelRun  context.CancelFunc
	runDone    chan struct{}
}

// New creates an uninitialized manager and registers its event handlers.
func New(opts Options) *Manager {
	m := &Manager{
		cfg:       opts.Config,
		sampler:   opts.Sampler,
		index:     opts.Index,
		matcher:   opts.Matcher,
		cooldowns: opts.Cooldowns,
		locations: opts.Locations,
		notifier:  opts.Notifier,
		validator: opts.Validator,
		events:    opts.Events,
		publisher: opts.Publisher,
		log:       opts.Log,
		now:       func() time.Time { return time.Now().UTC() },
		phase:     model.PhaseUninitialized,
		appState:  model.AppStateForeground,
	}

	m.events.Register(EventLocationSample, func(e dispatcher.Event) (any, error) {
		s, ok := e.Payload.(model.LocationSample)
		if !ok {
			return nil, fmt.Errorf("unexpected payload for %s: %T", EventLocationSample, e.Payload)
		}
		m.handleSample(s)
		return nil, nil
	}, dispatcher.Buffered(64))

	m.events.Register(EventMarkerRefresh, func(e dispatcher.Event) (any, error) {
		s, ok := e.Payload.(model.LocationSample)
		if !ok {
			return nil, fmt.Errorf("unexpected payload for %s: %T", EventMarkerRefresh, e.Payload)
		}
		m.refreshIndex(s)
		return nil, nil
	}, dispatcher.Buffered(1))

	return m
}

// EmitSample feeds one location sample into the engine. Wired as the
// sampler's emit callback; never blocks.
func (m *Manager) EmitSample(s model.LocationSample) {
	if _, err := m.events.Dispatch(dispatcher.Event{
		Name:      EventLocationSample,
		Payload:   s,
		Timestamp: m.now(),
	}); err != nil && m.log != nil {
		m.log.Warn("Dropped location sample", "error", err)
	}
}

// Phase returns the current tracking phase.
func (m *Manager) Phase() model.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// GetTrackingState returns the status snapshot exposed to the UI.
func (m *Manager) GetTrackingState() model.TrackingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := model.TrackingState{
		Phase:                 m.phase,
		LastUpdateTime:        m.lastUpdate,
		ConsecutiveErrorCount: m.errCount,
	}
	if m.lastSample != nil {
		cp := *m.lastSample
		state.LastKnownLocation = &cp
	} else if m.locations != nil {
		if fb, ok := m.locations.AsSample(); ok {
			state.LastKnownLocation = &fb
		}
	}
	return state
}

// IsMarkerInCooldown reports whether the marker is currently suppressed.
func (m *Manager) IsMarkerInCooldown(markerID string) bool {
	return m.cooldowns.IsInCooldown(markerID, m.now())
}

// RegisterValidationHandler registers the UI modal callback. One handler at
// a time; re-registration replaces the previous one. The coordinator is
// opened before the handler runs, so Respond works from inside it.
func (m *Manager) RegisterValidationHandler(fn func(model.ValidationRequest)) {
	m.notifier.SetHandler(func(req model.ValidationRequest) {
		m.validator.Open(req)
		if fn != nil {
			fn(req)
		}
	})
}

// Respond forwards the user's answer for the active validation prompt.
func (m *Manager) Respond(ctx context.Context, response model.ValidationResponse) error {
	return m.validator.Respond(ctx, response, m.AppState(), m.now())
}

// Dismiss closes the active validation prompt without an answer.
func (m *Manager) Dismiss() error {
	return m.validator.Dismiss(m.AppState(), m.now())
}

// AppState returns the current host application state.
func (m *Manager) AppState() model.AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appState
}

// Initialize brings tracking up: rehydrates the cooldown store, loads the
// persisted fallback location, acquires location permission and performs
// the first marker refresh. Transient failures are retried with exponential
// backoff; exhausting the retries leaves the phase at Failed and returns
// model.ErrInit. Permission denial is not transient and fails immediately.
// Nothing here crashes the host application.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.phase == model.PhaseInitializing || m.phase == model.PhaseActive || m.phase == model.PhaseSuspended {
		m.mu.Unlock()
		return nil
	}
	m.phase = model.PhaseInitializing
	m.tracking = true
	m.mu.Unlock()
	m.publishState()

	backoff := m.cfg.RetryBackoffBase
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = m.initAttempt(ctx)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, model.ErrPermissionDenied) {
			// Not transient: retrying without user action cannot succeed.
			m.fail(lastErr)
			return fmt.Errorf("%w: %v", model.ErrInit, lastErr)
		}
		if attempt >= m.cfg.MaxRetryAttempts {
			m.fail(lastErr)
			return fmt.Errorf("%w: retries exhausted: %v", model.ErrInit, lastErr)
		}

		m.setPhase(model.PhaseRetrying)
		if m.log != nil {
			m.log.Warn("Tracking init failed, retrying",
				"attempt", attempt+1, "backoff", backoff, "error", lastErr)
		}
		select {
		case <-ctx.Done():
			m.fail(ctx.Err())
			return fmt.Errorf("%w: %v", model.ErrInit, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.phase = model.PhaseActive
	m.errCount = 0
	m.runCtx = runCtx
	m.cancelRun = cancel
	m.runDone = done
	m.mu.Unlock()
	m.publishState()

	go m.run(runCtx, done)
	if m.log != nil {
		m.log.Info("Tracking active")
	}
	return nil
}

// initAttempt performs one initialization pass.
func (m *Manager) initAttempt(ctx context.Context) error {
	if err := m.cooldowns.Rehydrate(); err != nil {
		return err
	}
	if m.locations != nil {
		if err := m.locations.Load(); err != nil {
			return err
		}
	}

	if err := m.sampler.Start(ctx); err != nil {
		return err
	}

	// First refresh needs a position; without one it happens on the first
	// sample instead.
	if lat, lon, ok := m.startPosition(); ok {
		if err := m.index.Refresh(ctx, lat, lon, m.now()); err != nil {
			m.sampler.Stop()
			return err
		}
	}
	return nil
}

func (m *Manager) startPosition() (lat, lon float64, ok bool) {
	if s, found := m.sampler.LastKnown(); found {
		return s.Latitude, s.Longitude, true
	}
	if m.locations != nil {
		if fb, found := m.locations.AsSample(); found {
			return fb.Latitude, fb.Longitude, true
		}
	}
	return 0, 0, false
}

// ToggleTracking flips tracking on or off and returns the new state.
// Stopping cancels the sampling loop and all timers before returning, so
// no orphaned goroutine can fire afterwards. Toggling twice leaves one
// consistent state, never two loops.
func (m *Manager) ToggleTracking(ctx context.Context) bool {
	m.mu.Lock()
	wasTracking := m.tracking
	m.mu.Unlock()

	if wasTracking {
		m.stop()
		return false
	}
	if err := m.Initialize(ctx); err != nil && m.log != nil {
		m.log.Warn("Tracking failed to start", "error", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

// RetryTracking re-runs initialization after a Failed phase. A no-op in
// any other phase.
func (m *Manager) RetryTracking(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != model.PhaseFailed {
		m.mu.Unlock()
		return nil
	}
	m.phase = model.PhaseUninitialized
	m.tracking = false
	m.mu.Unlock()
	return m.Initialize(ctx)
}

// SetAppState observes a host foreground/background transition. With
// background tracking disabled, backgrounding suspends the sampler and
// foregrounding resumes it; cooldown state is untouched either way.
func (m *Manager) SetAppState(ctx context.Context, state model.AppState) {
	m.mu.Lock()
	m.appState = state
	phase := m.phase
	m.mu.Unlock()

	if m.cfg.BackgroundTracking {
		return
	}

	switch {
	case state == model.AppStateBackground && phase == model.PhaseActive:
		m.sampler.Stop()
		m.setPhase(model.PhaseSuspended)
		if m.log != nil {
			m.log.Info("Tracking suspended, app backgrounded")
		}
	case state == model.AppStateForeground && phase == model.PhaseSuspended:
		if err := m.sampler.Start(ctx); err != nil {
			m.fail(err)
			return
		}
		m.setPhase(model.PhaseActive)
		if m.log != nil {
			m.log.Info("Tracking resumed")
		}
	}
}

// Stop shuts tracking down. Idempotent.
func (m *Manager) Stop() {
	m.stop()
}

func (m *Manager) stop() {
	m.mu.Lock()
	cancel := m.cancelRun
	done := m.runDone
	m.runCtx = nil
	m.cancelRun = nil
	m.runDone = nil
	m.tracking = false
	m.phase = model.PhaseUninitialized
	m.lastSample = nil
	m.mu.Unlock()

	m.sampler.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	m.notifier.Reset()
	m.publishState()
	if m.log != nil {
		m.log.Info("Tracking stopped")
	}
}

// run owns the background timers: the cooldown sweep and the failed
// submission retry. Both stop deterministically when the run context is
// cancelled.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			now := m.now()
			if removed, err := m.cooldowns.SweepExpired(now); err != nil {
				if m.log != nil {
					m.log.Warn("Cooldown sweep failed", "error", err)
				}
			} else if removed > 0 && m.log != nil {
				m.log.Debug("Swept expired cooldown entries", "removed", removed)
			}
			m.validator.RetryFailed(ctx)
		}
	}
}

// handleSample is the per-sample pipeline: record the position, queue a
// marker refresh when one is due, run the proximity match and dispatch the
// resulting groups most severe first. The refresh runs on its own worker;
// matching always uses whatever snapshot is current.
func (m *Manager) handleSample(s model.LocationSample) {
	now := m.now()

	m.mu.Lock()
	if m.phase != model.PhaseActive {
		m.mu.Unlock()
		return
	}
	cp := s
	m.lastSample = &cp
	m.lastUpdate = now
	appState := m.appState
	m.mu.Unlock()

	m.persistPosition(s, now)

	if m.index.ShouldRefresh(s.Latitude, s.Longitude, now) {
		// A full queue means a refresh is already pending; skip this one.
		if _, err := m.events.Dispatch(dispatcher.Event{
			Name:      EventMarkerRefresh,
			Payload:   s,
			Timestamp: now,
		}); err != nil && m.log != nil {
			m.log.Debug("Marker refresh already queued", "error", err)
		}
	}

	nearby := m.index.Nearby(s.Latitude, s.Longitude, m.cfg.ProximityThresholdMeters)
	groups := m.matcher.Run(s, nearby, now)
	for _, g := range groups {
		if err := m.notifier.Dispatch(g, appState, now); err != nil && m.log != nil {
			m.log.Warn("Prompt dispatch failed", "obstacleType", g.ObstacleType, "error", err)
		}
	}
}

// refreshIndex performs one queued marker refresh. On failure the previous
// snapshot stays in service and the error counter grows; the next due
// refresh retries.
func (m *Manager) refreshIndex(s model.LocationSample) {
	m.mu.Lock()
	ctx := m.runCtx
	active := m.phase == model.PhaseActive
	m.mu.Unlock()
	if !active || ctx == nil {
		return
	}

	if err := m.index.Refresh(ctx, s.Latitude, s.Longitude, m.now()); err != nil {
		m.mu.Lock()
		m.errCount++
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	m.errCount = 0
	m.mu.Unlock()
}

// persistPosition saves fresh fixes as the durable GPS-failure fallback.
// Writes are throttled to meaningful movement.
func (m *Manager) persistPosition(s model.LocationSample, now time.Time) {
	if s.Stale || m.locations == nil {
		return
	}
	if prev, ok := m.locations.Get(); ok {
		moved := geo.DistanceMeters(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)
		if moved < m.cfg.MinRefreshDistanceMeters {
			return
		}
	}
	if err := m.locations.Save(s.Latitude, s.Longitude, now); err != nil && m.log != nil {
		m.log.Warn("Failed to persist fallback location", "error", err)
	}
}

func (m *Manager) setPhase(p model.Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	m.publishState()
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.phase = model.PhaseFailed
	m.errCount++
	m.mu.Unlock()
	m.publishState()
	if m.log != nil {
		m.log.Error("Tracking failed", "error", err)
	}
}

func (m *Manager) publishState() {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishState(m.GetTrackingState()); err != nil && m.log != nil {
		m.log.Debug("State publish failed", "error", err)
	}
}
