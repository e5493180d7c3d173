// Package model holds the domain types shared by the tracking engine:
// hazard markers, location samples, cooldown entries, validation prompts
// and the tracking state machine.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// DatabaseModels lists every struct persisted through the store. Passed to
// gorm's AutoMigrate on startup.
var DatabaseModels = []interface{}{
	&CooldownEntry{},
	&PersistedLocation{},
	&ValidationSubmission{},
}

// Marker is a geotagged hazard owned by the backend. The engine holds
// read-only cached copies scoped to the current search radius.
type Marker struct {
	ID            string       `json:"id"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	ObstacleType  ObstacleType `json:"obstacleType"`
	ObstacleScore int          `json:"obstacleScore"` // 1-5
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// LocationSample is one position fix emitted by the sampler. Immutable;
// only the most recent is retained.
type LocationSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters"`
	CapturedAt     time.Time `json:"capturedAt"`
	// Stale marks a fallback position (persisted or last-known) used
	// because no fresh GPS fix was available.
	Stale bool `json:"stale,omitempty"`
}

// CooldownEntry suppresses repeat notifications for one marker.
// One row per marker; re-triggering after expiry overwrites the row.
type CooldownEntry struct {
	MarkerID    string    `json:"markerId" gorm:"primaryKey;size:64"`
	TriggeredAt time.Time `json:"triggeredAt"`
	ExpiresAt   time.Time `json:"expiresAt" gorm:"index:idx_cooldown_expires"`
}

func (*CooldownEntry) TableName() string {
	return "cooldown_entries"
}

// Expired reports whether the entry no longer suppresses notifications.
func (e *CooldownEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// PersistedLocation is the single durable fallback position used when GPS
// fails across restarts. Exactly one row (ID 1) is kept.
type PersistedLocation struct {
	ID        uint      `gorm:"primaryKey"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SavedAt   time.Time `json:"savedAt"`
}

func (*PersistedLocation) TableName() string {
	return "persisted_locations"
}

// ValidationSubmission is the diagnostic log of validation outcomes sent
// (or attempted) to the backend.
type ValidationSubmission struct {
	ID           uint           `gorm:"primaryKey"`
	ObstacleType ObstacleType   `json:"obstacleType" gorm:"size:32"`
	Response     string         `json:"response" gorm:"size:16"`
	MarkerIDs    datatypes.JSON `json:"markerIds"`
	SubmittedAt  time.Time      `json:"submittedAt"`
	Succeeded    bool           `json:"succeeded"`
	Error        string         `json:"error,omitempty" gorm:"size:255"`
}

func (*ValidationSubmission) TableName() string {
	return "validation_submissions"
}

// ValidationResponse is the user's answer to a validation prompt.
type ValidationResponse string

const (
	ResponseConfirmed ValidationResponse = "confirmed"
	ResponseDenied    ValidationResponse = "denied"
	ResponseUnsure    ValidationResponse = "unsure"
)

// ValidationRequest is an ephemeral prompt asking the user to confirm one
// obstacle type covering one or more nearby markers. At most one request is
// active at a time.
type ValidationRequest struct {
	MarkerIDs    []string     `json:"markerIds"`
	ObstacleType ObstacleType `json:"obstacleType"`
	MarkerCount  int          `json:"markerCount"`
	TimeAgoLabel string       `json:"timeAgoLabel"`
}

// Phase is the tracking manager's lifecycle state.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseActive        Phase = "active"
	PhaseSuspended     Phase = "suspended"
	PhaseRetrying      Phase = "retrying"
	PhaseFailed        Phase = "failed"
)

// TrackingState is the engine status exposed to the UI layer. Owned and
// mutated exclusively by the tracking manager's event loop.
type TrackingState struct {
	Phase                 Phase           `json:"phase"`
	LastKnownLocation     *LocationSample `json:"lastKnownLocation,omitempty"`
	LastUpdateTime        time.Time       `json:"lastUpdateTime"`
	ConsecutiveErrorCount int             `json:"consecutiveErrorCount"`
}

// AppState mirrors the host application's foreground/background state.
type AppState string

const (
	AppStateForeground AppState = "foreground"
	AppStateBackground AppState = "background"
)
