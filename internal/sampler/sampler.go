// Package sampler wraps the platform location source behind a polling state
// machine. It emits one sample per interval and degrades instead of failing:
// permission denial and GPS dropouts produce stale fallback samples or
// silence, never an error that stops the engine.
package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/accesspath/tracking/internal/model"
)

// State is the sampler lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateSampling State = "sampling"
	// StateDegraded means permission was denied. The sampler stays down
	// until the user grants permission and Start is called again.
	StateDegraded State = "degraded"
)

// Provider is the platform location source.
type Provider interface {
	// RequestPermission asks for foreground (and optionally background)
	// location access. Returns model.ErrPermissionDenied when refused.
	RequestPermission(ctx context.Context, background bool) error
	// CurrentLocation returns a fresh fix, blocking up to the context
	// deadline. Returns model.ErrGpsUnavailable when no fix arrives.
	CurrentLocation(ctx context.Context) (model.LocationSample, error)
}

// FallbackSource supplies the persisted position used when GPS fails with
// no fix obtained this session. Implemented by store.LocationStore.
type FallbackSource interface {
	AsSample() (model.LocationSample, bool)
}

// EmitFunc receives every emitted sample. Called from the sampling
// goroutine; implementations must not block.
type EmitFunc func(model.LocationSample)

// Sampler polls the provider on a fixed interval.
type Sampler struct {
	provider   Provider
	fallback   FallbackSource
	emit       EmitFunc
	interval   time.Duration
	fixTimeout time.Duration
	background bool
	log        *slog.Logger

	mu          sync.Mutex
	state       State
	lastKnown   *model.LocationSample
	gpsFailures int
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a stopped sampler.
func New(provider Provider, fallback FallbackSource, emit EmitFunc, interval, fixTimeout time.Duration, background bool, log *slog.Logger) *Sampler {
	return &Sampler{
		provider:   provider,
		fallback:   fallback,
		emit:       emit,
		interval:   interval,
		fixTimeout: fixTimeout,
		background: background,
		log:        log,
		state:      StateStopped,
	}
}

// State returns the current lifecycle state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastKnown returns the most recent fresh fix of this session, if any.
func (s *Sampler) LastKnown() (model.LocationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastKnown == nil {
		return model.LocationSample{}, false
	}
	return *s.lastKnown, true
}

// GpsFailureCount returns how many polls failed to obtain a fix.
func (s *Sampler) GpsFailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpsFailures
}

// Start requests permission and launches the sampling loop. Permission
// denial transitions to StateDegraded and returns model.ErrPermissionDenied;
// the caller surfaces a retry affordance, nothing crashes. Starting an
// already running sampler is a no-op.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateSampling || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.provider.RequestPermission(ctx, s.background); err != nil {
		s.mu.Lock()
		s.state = StateDegraded
		s.mu.Unlock()
		if errors.Is(err, model.ErrPermissionDenied) {
			if s.log != nil {
				s.log.Warn("Location permission denied, sampler degraded")
			}
			return err
		}
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateSampling
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
	return nil
}

// Stop cancels the sampling loop and waits for it to exit. Idempotent.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	if s.state == StateSampling {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Sampler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// First poll immediately, then on the interval.
	s.poll(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll obtains one sample and emits it. GPS failure walks the fallback
// chain: persisted position first (already marked stale by the store),
// then this session's last fresh fix re-emitted as stale. With neither,
// nothing is emitted and proximity checks stay suppressed until a fix
// arrives.
func (s *Sampler) poll(ctx context.Context) {
	fixCtx, cancel := context.WithTimeout(ctx, s.fixTimeout)
	sample, err := s.provider.CurrentLocation(fixCtx)
	cancel()

	if err == nil {
		s.mu.Lock()
		cp := sample
		s.lastKnown = &cp
		s.mu.Unlock()
		s.emit(sample)
		return
	}
	if ctx.Err() != nil {
		// Loop shutdown, not a GPS failure.
		return
	}

	s.mu.Lock()
	s.gpsFailures++
	last := s.lastKnown
	s.mu.Unlock()
	if s.log != nil {
		s.log.Warn("No GPS fix, falling back", "error", err)
	}

	if s.fallback != nil {
		if fb, ok := s.fallback.AsSample(); ok {
			s.emit(fb)
			return
		}
	}
	if last != nil {
		stale := *last
		stale.Stale = true
		s.emit(stale)
	}
}
