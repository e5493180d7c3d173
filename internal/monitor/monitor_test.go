package monitor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesspath/tracking/internal/model"
	"github.com/accesspath/tracking/internal/sampler"
)

type stubState struct{ state model.TrackingState }

func (s stubState) GetTrackingState() model.TrackingState { return s.state }

type stubCooldowns int

func (s stubCooldowns) Len() int { return int(s) }

type stubIndex struct {
	count     int
	refreshed time.Time
	failed    int
}

func (s stubIndex) Len() int                { return s.count }
func (s stubIndex) LastRefresh() time.Time  { return s.refreshed }
func (s stubIndex) FailedRefreshCount() int { return s.failed }

type stubValidator int

func (s stubValidator) RetryQueueLen() int { return int(s) }

type stubPrompts struct{ dispatched, dropped, replaced int }

func (s stubPrompts) Stats() (int, int, int) { return s.dispatched, s.dropped, s.replaced }

type stubSampler struct {
	state    sampler.State
	failures int
}

func (s stubSampler) State() sampler.State { return s.state }
func (s stubSampler) GpsFailureCount() int { return s.failures }

func newService() *Service {
	return NewService(Dependencies{
		State: stubState{state: model.TrackingState{
			Phase:                 model.PhaseActive,
			LastUpdateTime:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			ConsecutiveErrorCount: 2,
		}},
		Cooldowns: stubCooldowns(3),
		Index:     stubIndex{count: 17, refreshed: time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC), failed: 1},
		Validator: stubValidator(4),
		Prompts:   stubPrompts{dispatched: 9, dropped: 2, replaced: 1},
		Sampler:   stubSampler{state: sampler.StateSampling, failures: 5},
	})
}

func TestStatus(t *testing.T) {
	status := newService().Status()

	assert.Equal(t, model.PhaseActive, status.Phase)
	assert.Equal(t, sampler.StateSampling, status.SamplerState)
	assert.Equal(t, 2, status.ConsecutiveErrorCount)
	assert.Equal(t, 3, status.CooldownEntries)
	assert.Equal(t, 17, status.MarkerCount)
	assert.Equal(t, 1, status.FailedRefreshes)
	assert.Equal(t, 4, status.SubmitRetryQueue)
	assert.Equal(t, 9, status.PromptsDispatched)
	assert.Equal(t, 2, status.PromptsDroppedSame)
	assert.Equal(t, 1, status.PendingReplaced)
	assert.Equal(t, 5, status.GpsFailures)
	assert.False(t, status.Time.IsZero())
}

func TestStatusJSON(t *testing.T) {
	out, err := newService().StatusJSON()
	require.NoError(t, err)

	var decoded EngineStatus
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, model.PhaseActive, decoded.Phase)
	assert.Equal(t, 17, decoded.MarkerCount)
}

func TestStartWithoutInfluxIsNoOp(t *testing.T) {
	s := newService()
	s.Start(time.Millisecond)
	assert.False(t, s.IsRunning())
}

func TestStopWithoutStart(t *testing.T) {
	s := newService()
	s.Stop()
	assert.False(t, s.IsRunning())
}
