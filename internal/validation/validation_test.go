package validation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesspath/tracking/internal/model"
)

type stubSubmitter struct {
	mu        sync.Mutex
	submitted []string
	failIDs   map[string]error
}

func (s *stubSubmitter) SubmitValidation(ctx context.Context, markerID string, response model.ValidationResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failIDs[markerID]; ok {
		return err
	}
	s.submitted = append(s.submitted, markerID)
	return nil
}

type recordedSubmission struct {
	obstacleType model.ObstacleType
	response     model.ValidationResponse
	markerIDs    []string
	err          error
}

type stubRecorder struct {
	records []recordedSubmission
}

func (r *stubRecorder) Record(ot model.ObstacleType, resp model.ValidationResponse, ids []string, at time.Time, submitErr error) error {
	r.records = append(r.records, recordedSubmission{ot, resp, ids, submitErr})
	return nil
}

type stubCompleter struct {
	completions int
}

func (c *stubCompleter) Complete(appState model.AppState, now time.Time) error {
	c.completions++
	return nil
}

var (
	valNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	valReq = model.ValidationRequest{
		MarkerIDs:    []string{"m1", "m2"},
		ObstacleType: model.ObstacleStairs,
		MarkerCount:  2,
	}
)

func TestRespondSubmitsAndCloses(t *testing.T) {
	sub := &stubSubmitter{}
	rec := &stubRecorder{}
	comp := &stubCompleter{}
	c := New(sub, rec, comp, nil)

	c.Open(valReq)
	assert.Equal(t, StatusPending, c.Status())

	require.NoError(t, c.Respond(context.Background(), model.ResponseConfirmed, model.AppStateForeground, valNow))

	assert.Equal(t, []string{"m1", "m2"}, sub.submitted, "one submit per marker in the group")
	assert.Equal(t, StatusClosed, c.Status())
	_, active := c.Active()
	assert.False(t, active)
	assert.Equal(t, 1, comp.completions, "closing must promote the next pending prompt")

	require.Len(t, rec.records, 1)
	assert.Equal(t, model.ResponseConfirmed, rec.records[0].response)
	assert.NoError(t, rec.records[0].err)
}

func TestRespondExactlyOnce(t *testing.T) {
	sub := &stubSubmitter{}
	comp := &stubCompleter{}
	c := New(sub, nil, comp, nil)

	c.Open(valReq)
	require.NoError(t, c.Respond(context.Background(), model.ResponseDenied, model.AppStateForeground, valNow))

	err := c.Respond(context.Background(), model.ResponseDenied, model.AppStateForeground, valNow)
	assert.ErrorIs(t, err, ErrNoActiveRequest)
	assert.Equal(t, 1, comp.completions)
}

type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSubmitter) SubmitValidation(ctx context.Context, markerID string, response model.ValidationResponse) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestRespondWhileSubmitInFlight(t *testing.T) {
	sub := &blockingSubmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	comp := &stubCompleter{}
	c := New(sub, nil, comp, nil)

	c.Open(valReq)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Respond(context.Background(), model.ResponseConfirmed, model.AppStateForeground, valNow)
	}()
	<-sub.entered

	// Second response while the first submit is still on the wire.
	err := c.Respond(context.Background(), model.ResponseDenied, model.AppStateForeground, valNow)
	assert.ErrorIs(t, err, ErrAlreadyResponded, "must not double-submit")

	close(sub.release)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, comp.completions)
}

func TestRespondWithoutOpen(t *testing.T) {
	c := New(&stubSubmitter{}, nil, &stubCompleter{}, nil)
	err := c.Respond(context.Background(), model.ResponseConfirmed, model.AppStateForeground, valNow)
	assert.ErrorIs(t, err, ErrNoActiveRequest)
}

func TestRespondSubmitFailureStillCloses(t *testing.T) {
	sub := &stubSubmitter{failIDs: map[string]error{
		"m1": model.ErrSubmit,
		"m2": model.ErrSubmit,
	}}
	rec := &stubRecorder{}
	comp := &stubCompleter{}
	c := New(sub, rec, comp, nil)

	c.Open(valReq)
	// User feedback is never blocked on network success.
	require.NoError(t, c.Respond(context.Background(), model.ResponseConfirmed, model.AppStateForeground, valNow))

	assert.Equal(t, StatusClosed, c.Status())
	assert.Equal(t, 1, comp.completions)

	require.Len(t, rec.records, 1)
	assert.Error(t, rec.records[0].err, "the failure is recorded for diagnostics")
	assert.Equal(t, 2, c.RetryQueueLen(), "failed markers await retry")
}

func TestRespondPartialFailureQueuesOnlyFailed(t *testing.T) {
	sub := &stubSubmitter{failIDs: map[string]error{"m2": model.ErrSubmit}}
	c := New(sub, nil, &stubCompleter{}, nil)

	c.Open(valReq)
	require.NoError(t, c.Respond(context.Background(), model.ResponseUnsure, model.AppStateForeground, valNow))

	assert.Equal(t, []string{"m1"}, sub.submitted)
	assert.Equal(t, 1, c.RetryQueueLen())
}

func TestDismissClosesWithoutSubmit(t *testing.T) {
	sub := &stubSubmitter{}
	rec := &stubRecorder{}
	comp := &stubCompleter{}
	c := New(sub, rec, comp, nil)

	c.Open(valReq)
	require.NoError(t, c.Dismiss(model.AppStateForeground, valNow))

	assert.Empty(t, sub.submitted)
	assert.Empty(t, rec.records)
	assert.Equal(t, StatusClosed, c.Status())
	assert.Equal(t, 1, comp.completions)

	err := c.Dismiss(model.AppStateForeground, valNow)
	assert.ErrorIs(t, err, ErrNoActiveRequest)
}

func TestRetryFailed(t *testing.T) {
	sub := &stubSubmitter{failIDs: map[string]error{"m1": model.ErrSubmit, "m2": model.ErrSubmit}}
	c := New(sub, nil, &stubCompleter{}, nil)

	c.Open(valReq)
	require.NoError(t, c.Respond(context.Background(), model.ResponseConfirmed, model.AppStateForeground, valNow))
	require.Equal(t, 2, c.RetryQueueLen())

	// Backend still down: everything goes back to the queue.
	assert.Zero(t, c.RetryFailed(context.Background()))
	assert.Equal(t, 2, c.RetryQueueLen())

	// Backend recovers partially.
	sub.mu.Lock()
	delete(sub.failIDs, "m1")
	sub.mu.Unlock()
	assert.Equal(t, 1, c.RetryFailed(context.Background()))
	assert.Equal(t, 1, c.RetryQueueLen())

	// Fully recovered.
	sub.mu.Lock()
	delete(sub.failIDs, "m2")
	sub.mu.Unlock()
	assert.Equal(t, 1, c.RetryFailed(context.Background()))
	assert.Zero(t, c.RetryQueueLen())
}

func TestOpenReplacesLiveRequest(t *testing.T) {
	c := New(&stubSubmitter{}, nil, &stubCompleter{}, nil)

	c.Open(valReq)
	other := model.ValidationRequest{MarkerIDs: []string{"x"}, ObstacleType: model.ObstacleConstruction, MarkerCount: 1}
	c.Open(other)

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, model.ObstacleConstruction, active.ObstacleType)
	assert.Equal(t, StatusPending, c.Status())
}
