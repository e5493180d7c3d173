// Package notify turns proximity match groups into user-facing prompts.
// It enforces the single-prompt rule: at most one validation prompt is
// active, one more may wait in the pending slot, everything else is
// dropped or replaced.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/accesspath/tracking/internal/match"
	"github.com/accesspath/tracking/internal/model"
)

// CooldownTrigger starts suppression for a marker. Implemented by
// store.CooldownStore.
type CooldownTrigger interface {
	Trigger(markerID string, now time.Time) error
}

// Notifier delivers an OS-level notification while the app is backgrounded.
type Notifier interface {
	Notify(req model.ValidationRequest) error
}

// Handler is the in-app modal callback. Exactly one may be registered;
// re-registration replaces the previous one.
type Handler func(model.ValidationRequest)

// Dispatcher owns prompt delivery and the cooldown trigger.
type Dispatcher struct {
	cooldowns CooldownTrigger
	notifier  Notifier // may be nil
	log       *slog.Logger

	mu      sync.Mutex
	handler Handler
	active  *model.ValidationRequest
	pending *model.ValidationRequest

	dispatched      int
	droppedSameType int
	replacedPending int
}

// New creates a dispatcher. notifier may be nil when no OS notification
// channel exists.
func New(cooldowns CooldownTrigger, notifier Notifier, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cooldowns: cooldowns,
		notifier:  notifier,
		log:       log,
	}
}

// SetHandler registers the in-app modal callback, replacing any previous
// registration.
func (d *Dispatcher) SetHandler(h Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// ClearHandler removes the registered callback.
func (d *Dispatcher) ClearHandler() {
	d.mu.Lock()
	d.handler = nil
	d.mu.Unlock()
}

// Active returns the currently shown prompt, if any.
func (d *Dispatcher) Active() (model.ValidationRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return model.ValidationRequest{}, false
	}
	return *d.active, true
}

// Pending returns the queued prompt, if any.
func (d *Dispatcher) Pending() (model.ValidationRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return model.ValidationRequest{}, false
	}
	return *d.pending, true
}

// Stats returns dispatch counters for the status monitor.
func (d *Dispatcher) Stats() (dispatched, droppedSameType, replacedPending int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatched, d.droppedSameType, d.replacedPending
}

// Dispatch shows a prompt for the match group, or queues or drops it.
// While a prompt is active: a group of the same obstacle type is dropped
// silently, a group of a different type takes the single pending slot,
// replacing whatever waited there. On actual delivery every marker in the
// group enters cooldown immediately, so an unanswered prompt cannot
// re-fire.
func (d *Dispatcher) Dispatch(g match.Group, appState model.AppState, now time.Time) error {
	if len(g.Matches) == 0 {
		return nil
	}
	req := buildRequest(g, now)

	d.mu.Lock()
	if d.active != nil {
		if d.active.ObstacleType == req.ObstacleType {
			d.droppedSameType++
			d.mu.Unlock()
			return nil
		}
		if d.pending != nil {
			d.replacedPending++
		}
		d.pending = &req
		d.mu.Unlock()
		return nil
	}
	d.active = &req
	handler := d.handler
	d.mu.Unlock()

	return d.deliver(req, handler, appState, now)
}

// Complete closes the active prompt and promotes the pending one, if any.
// Called by the validation coordinator when a request reaches Closed.
func (d *Dispatcher) Complete(appState model.AppState, now time.Time) error {
	d.mu.Lock()
	d.active = nil
	if d.pending == nil {
		d.mu.Unlock()
		return nil
	}
	req := *d.pending
	d.pending = nil
	d.active = &req
	handler := d.handler
	d.mu.Unlock()

	return d.deliver(req, handler, appState, now)
}

// Reset drops the active and pending prompts without delivery. Used when
// tracking stops.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.active = nil
	d.pending = nil
	d.mu.Unlock()
}

func (d *Dispatcher) deliver(req model.ValidationRequest, handler Handler, appState model.AppState, now time.Time) error {
	delivered := false

	if appState == model.AppStateBackground && d.notifier != nil {
		if err := d.notifier.Notify(req); err != nil {
			if d.log != nil {
				d.log.Warn("OS notification failed", "error", err)
			}
		} else {
			delivered = true
		}
	}
	if handler != nil {
		handler(req)
		delivered = true
	}

	if !delivered {
		d.mu.Lock()
		d.active = nil
		d.mu.Unlock()
		return fmt.Errorf("%w: no delivery target registered", model.ErrDispatch)
	}

	for _, id := range req.MarkerIDs {
		if err := d.cooldowns.Trigger(id, now); err != nil && d.log != nil {
			d.log.Warn("Failed to trigger cooldown", "markerId", id, "error", err)
		}
	}

	d.mu.Lock()
	d.dispatched++
	d.mu.Unlock()
	if d.log != nil {
		d.log.Info("Validation prompt dispatched",
			"obstacleType", req.ObstacleType, "markers", req.MarkerCount)
	}
	return nil
}

// buildRequest labels the prompt with the age of the freshest report in the
// group, judged by UpdatedAt so re-confirmed markers read as recent.
func buildRequest(g match.Group, now time.Time) model.ValidationRequest {
	var newest time.Time
	for _, m := range g.Matches {
		if m.Marker.UpdatedAt.After(newest) {
			newest = m.Marker.UpdatedAt
		}
	}
	return model.ValidationRequest{
		MarkerIDs:    g.MarkerIDs(),
		ObstacleType: g.ObstacleType,
		MarkerCount:  len(g.Matches),
		TimeAgoLabel: timeAgoLabel(newest, now),
	}
}
