// Package monitor snapshots engine health (phase, queue depths, failure
// counters) and periodically exports it to InfluxDB.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/accesspath/tracking/internal/influx"
	"github.com/accesspath/tracking/internal/model"
	"github.com/accesspath/tracking/internal/sampler"
)

// StateSource exposes the tracking snapshot. Implemented by tracker.Manager.
type StateSource interface {
	GetTrackingState() model.TrackingState
}

// CooldownSource exposes the cooldown map size. Implemented by store.CooldownStore.
type CooldownSource interface {
	Len() int
}

// IndexSource exposes marker snapshot stats. Implemented by index.MarkerIndex.
type IndexSource interface {
	Len() int
	LastRefresh() time.Time
	FailedRefreshCount() int
}

// ValidatorSource exposes the retry queue depth. Implemented by validation.Coordinator.
type ValidatorSource interface {
	RetryQueueLen() int
}

// PromptSource exposes dispatch counters. Implemented by notify.Dispatcher.
type PromptSource interface {
	Stats() (dispatched, droppedSameType, replacedPending int)
}

// SamplerSource exposes sampler health. Implemented by sampler.Sampler.
type SamplerSource interface {
	State() sampler.State
	GpsFailureCount() int
}

// Dependencies holds all collaborators the monitor reads from.
type Dependencies struct {
	State     StateSource
	Cooldowns CooldownSource
	Index     IndexSource
	Validator ValidatorSource
	Prompts   PromptSource
	Sampler   SamplerSource
	Influx    *influx.Manager // may be nil
}

// EngineStatus is one health snapshot.
type EngineStatus struct {
	Time                  time.Time     `json:"time"`
	Phase                 model.Phase   `json:"phase"`
	SamplerState          sampler.State `json:"samplerState"`
	LastUpdateTime        time.Time     `json:"lastUpdateTime"`
	ConsecutiveErrorCount int           `json:"consecutiveErrorCount"`
	CooldownEntries       int           `json:"cooldownEntries"`
	MarkerCount           int           `json:"markerCount"`
	LastMarkerRefresh     time.Time     `json:"lastMarkerRefresh"`
	FailedRefreshes       int           `json:"failedRefreshes"`
	SubmitRetryQueue      int           `json:"submitRetryQueue"`
	PromptsDispatched     int           `json:"promptsDispatched"`
	PromptsDroppedSame    int           `json:"promptsDroppedSame"`
	PendingReplaced       int           `json:"pendingReplaced"`
	GpsFailures           int           `json:"gpsFailures"`
}

// Service manages status monitoring.
type Service struct {
	deps      Dependencies
	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the periodic export loop is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status captures the current engine health snapshot.
func (s *Service) Status() EngineStatus {
	state := s.deps.State.GetTrackingState()
	dispatched, droppedSame, replaced := s.deps.Prompts.Stats()

	return EngineStatus{
		Time:                  time.Now().UTC(),
		Phase:                 state.Phase,
		SamplerState:          s.deps.Sampler.State(),
		LastUpdateTime:        state.LastUpdateTime,
		ConsecutiveErrorCount: state.ConsecutiveErrorCount,
		CooldownEntries:       s.deps.Cooldowns.Len(),
		MarkerCount:           s.deps.Index.Len(),
		LastMarkerRefresh:     s.deps.Index.LastRefresh(),
		FailedRefreshes:       s.deps.Index.FailedRefreshCount(),
		SubmitRetryQueue:      s.deps.Validator.RetryQueueLen(),
		PromptsDispatched:     dispatched,
		PromptsDroppedSame:    droppedSame,
		PendingReplaced:       replaced,
		GpsFailures:           s.deps.Sampler.GpsFailureCount(),
	}
}

// StatusJSON renders the snapshot for diagnostic dumps.
func (s *Service) StatusJSON() (string, error) {
	b, err := json.MarshalIndent(s.Status(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Start launches the periodic export loop. No-op when already running or
// when no Influx manager is configured.
func (s *Service) Start(interval time.Duration) {
	s.mu.Lock()
	if s.isRunning || s.deps.Influx == nil {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.export()
			}
		}
	}()
}

// Stop halts the export loop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
}

func (s *Service) export() {
	status := s.Status()
	point := influxdb2.NewPointWithMeasurement("engine_status").
		AddTag("phase", string(status.Phase)).
		AddTag("samplerState", string(status.SamplerState)).
		AddField("cooldownEntries", status.CooldownEntries).
		AddField("markerCount", status.MarkerCount).
		AddField("failedRefreshes", status.FailedRefreshes).
		AddField("submitRetryQueue", status.SubmitRetryQueue).
		AddField("promptsDispatched", status.PromptsDispatched).
		AddField("promptsDroppedSame", status.PromptsDroppedSame).
		AddField("pendingReplaced", status.PendingReplaced).
		AddField("gpsFailures", status.GpsFailures).
		AddField("consecutiveErrors", status.ConsecutiveErrorCount).
		SetTime(status.Time)

	if err := s.deps.Influx.WritePoint(context.Background(), "engine_performance", point); err != nil {
		s.deps.Influx.Logger.Warn().Err(err).Msg("Failed to export engine status")
	}
}
