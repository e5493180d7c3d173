// Package validation manages the lifecycle of the active validation prompt:
// shown, answered or dismissed, submitted to the backend, closed. The user
// gets feedback immediately; backend submission failures are recorded and
// retried, never surfaced as blocking errors.
package validation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/accesspath/tracking/internal/model"
	"github.com/accesspath/tracking/internal/queue"
)

// Status is the lifecycle state of the active request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnswered  Status = "answered"
	StatusSubmitted Status = "submitted"
	StatusDismissed Status = "dismissed"
	StatusClosed    Status = "closed"
)

var (
	// ErrNoActiveRequest means Respond or Dismiss was called with no prompt open.
	ErrNoActiveRequest = errors.New("no active validation request")
	// ErrAlreadyResponded guards the exactly-once response contract. Hitting
	// it is a programming error in the caller, not a user action.
	ErrAlreadyResponded = errors.New("validation request already responded to")
)

// Submitter records a validation outcome on the backend. Implemented by
// api.Client.
type Submitter interface {
	SubmitValidation(ctx context.Context, markerID string, response model.ValidationResponse) error
}

// Recorder logs submission outcomes for diagnostics. Implemented by
// store.SubmissionLog.
type Recorder interface {
	Record(obstacleType model.ObstacleType, response model.ValidationResponse, markerIDs []string, at time.Time, submitErr error) error
}

// Completer is told when the active request closes, so the next pending
// prompt can be promoted. Implemented by notify.Dispatcher.
type Completer interface {
	Complete(appState model.AppState, now time.Time) error
}

// retrySubmit is one failed backend submission awaiting retry.
type retrySubmit struct {
	MarkerID string
	Response model.ValidationResponse
}

// Coordinator owns at most one active request at a time.
type Coordinator struct {
	submitter Submitter
	recorder  Recorder // may be nil
	completer Completer
	log       *slog.Logger

	mu      sync.Mutex
	active  *model.ValidationRequest
	status  Status
	retries *queue.Queue[retrySubmit]
}

// New creates a coordinator with an empty retry queue.
func New(submitter Submitter, recorder Recorder, completer Completer, log *slog.Logger) *Coordinator {
	return &Coordinator{
		submitter: submitter,
		recorder:  recorder,
		completer: completer,
		log:       log,
		status:    StatusClosed,
		retries:   queue.New[retrySubmit](),
	}
}

// Open activates a request. Called from the dispatcher's modal handler;
// the dispatcher already guarantees at most one active prompt, so an Open
// over a live request indicates a wiring bug and replaces it with a log.
func (c *Coordinator) Open(req model.ValidationRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.log != nil {
		c.log.Error("Validation request opened over a live one, replacing",
			"previous", c.active.ObstacleType, "new", req.ObstacleType)
	}
	c.active = &req
	c.status = StatusPending
}

// Active returns the open request, if any.
func (c *Coordinator) Active() (model.ValidationRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return model.ValidationRequest{}, false
	}
	return *c.active, true
}

// Status returns the lifecycle state of the last or current request.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RetryQueueLen returns how many failed submissions await retry.
func (c *Coordinator) RetryQueueLen() int {
	return c.retries.Len()
}

// Respond records the user's answer and submits it to the backend. The
// request transitions to Closed whether or not submission succeeds; the
// user is never blocked on the network. Exactly one response per request:
// a second call returns ErrAlreadyResponded.
func (c *Coordinator) Respond(ctx context.Context, response model.ValidationResponse, appState model.AppState, now time.Time) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoActiveRequest
	}
	if c.status != StatusPending {
		c.mu.Unlock()
		return ErrAlreadyResponded
	}
	req := *c.active
	c.status = StatusAnswered
	c.mu.Unlock()

	submitErr := c.submit(ctx, req, response)
	if submitErr == nil {
		c.mu.Lock()
		c.status = StatusSubmitted
		c.mu.Unlock()
	}

	if c.recorder != nil {
		if err := c.recorder.Record(req.ObstacleType, response, req.MarkerIDs, now, submitErr); err != nil && c.log != nil {
			c.log.Warn("Failed to record submission", "error", err)
		}
	}

	c.mu.Lock()
	c.status = StatusClosed
	c.active = nil
	c.mu.Unlock()
	return c.completer.Complete(appState, now)
}

// Dismiss closes the request without contacting the backend.
func (c *Coordinator) Dismiss(appState model.AppState, now time.Time) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoActiveRequest
	}
	if c.status != StatusPending {
		c.mu.Unlock()
		return ErrAlreadyResponded
	}
	c.status = StatusDismissed
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debug("Validation prompt dismissed")
	}

	c.mu.Lock()
	c.status = StatusClosed
	c.active = nil
	c.mu.Unlock()
	return c.completer.Complete(appState, now)
}

// submit sends the response for every marker in the request. Failed markers
// are queued for retry; the first error is returned for the diagnostic log.
func (c *Coordinator) submit(ctx context.Context, req model.ValidationRequest, response model.ValidationResponse) error {
	var firstErr error
	for _, id := range req.MarkerIDs {
		if err := c.submitter.SubmitValidation(ctx, id, response); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.retries.Push(retrySubmit{MarkerID: id, Response: response})
			if c.log != nil {
				c.log.Warn("Validation submit failed, queued for retry", "markerId", id, "error", err)
			}
		}
	}
	return firstErr
}

// RetryFailed re-attempts every queued failed submission and returns how
// many succeeded. Entries that fail again go back to the queue.
func (c *Coordinator) RetryFailed(ctx context.Context) int {
	pending := c.retries.GetAndEmpty()
	succeeded := 0
	for _, p := range pending {
		if err := c.submitter.SubmitValidation(ctx, p.MarkerID, p.Response); err != nil {
			c.retries.Push(p)
			continue
		}
		succeeded++
	}
	if succeeded > 0 && c.log != nil {
		c.log.Info("Retried failed validation submissions", "succeeded", succeeded, "remaining", c.retries.Len())
	}
	return succeeded
}
