// Package index caches the hazard markers around the user's position. The
// cache is replaced wholesale on refresh; proximity checks always see either
// the previous complete snapshot or the new one, never a mix.
package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/accesspath/tracking/internal/geo"
	"github.com/accesspath/tracking/internal/model"
)

// Fetcher retrieves markers around a position. Implemented by api.Client.
type Fetcher interface {
	FetchMarkers(ctx context.Context, lat, lon, radiusMeters float64) ([]model.Marker, error)
}

// MarkerIndex holds the current marker snapshot.
type MarkerIndex struct {
	fetcher      Fetcher
	radiusMeters float64
	fetchTimeout time.Duration
	minMoveM     float64
	interval     time.Duration
	log          *slog.Logger

	mu            sync.RWMutex
	markers       []model.Marker
	refreshedAt   time.Time
	refreshedLat  float64
	refreshedLon  float64
	hasRefreshed  bool
	failedRefresh int
}

// New creates a marker index. radiusMeters is the fetch radius, minMoveMeters
// and interval gate ShouldRefresh.
func New(fetcher Fetcher, radiusMeters float64, fetchTimeout time.Duration, minMoveMeters float64, interval time.Duration, log *slog.Logger) *MarkerIndex {
	return &MarkerIndex{
		fetcher:      fetcher,
		radiusMeters: radiusMeters,
		fetchTimeout: fetchTimeout,
		minMoveM:     minMoveMeters,
		interval:     interval,
		log:          log,
	}
}

// ShouldRefresh reports whether a refresh is due at the given position and
// time: never refreshed yet, the interval elapsed, or the user moved at
// least the minimum distance since the last successful refresh.
func (x *MarkerIndex) ShouldRefresh(lat, lon float64, now time.Time) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.hasRefreshed {
		return true
	}
	if now.Sub(x.refreshedAt) >= x.interval {
		return true
	}
	return geo.DistanceMeters(x.refreshedLat, x.refreshedLon, lat, lon) >= x.minMoveM
}

// Refresh fetches markers around the position and atomically replaces the
// snapshot. On any fetch error the previous snapshot is retained untouched
// and the error is returned; stale markers beat no markers.
func (x *MarkerIndex) Refresh(ctx context.Context, lat, lon float64, now time.Time) error {
	if !geo.ValidCoordinates(lat, lon) {
		return geo.ErrInvalidCoordinates
	}

	ctx, cancel := context.WithTimeout(ctx, x.fetchTimeout)
	defer cancel()

	fetched, err := x.fetcher.FetchMarkers(ctx, lat, lon, x.radiusMeters)
	if err != nil {
		x.mu.Lock()
		x.failedRefresh++
		x.mu.Unlock()
		if x.log != nil {
			x.log.Warn("Marker refresh failed, keeping previous snapshot", "error", err)
		}
		return err
	}

	// The backend can return markers slightly outside the requested radius;
	// drop those plus anything with junk coordinates.
	markers := make([]model.Marker, 0, len(fetched))
	for _, m := range fetched {
		if m.ID == "" || !geo.ValidCoordinates(m.Latitude, m.Longitude) {
			continue
		}
		if geo.DistanceMeters(lat, lon, m.Latitude, m.Longitude) > x.radiusMeters {
			continue
		}
		markers = append(markers, m)
	}

	x.mu.Lock()
	x.markers = markers
	x.refreshedAt = now
	x.refreshedLat = lat
	x.refreshedLon = lon
	x.hasRefreshed = true
	x.mu.Unlock()

	if x.log != nil {
		x.log.Debug("Marker snapshot refreshed", "count", len(markers))
	}
	return nil
}

// Snapshot returns a copy of the current marker set.
func (x *MarkerIndex) Snapshot() []model.Marker {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.Marker, len(x.markers))
	copy(out, x.markers)
	return out
}

// Nearby returns the markers within radiusMeters of the position, using an
// envelope prefilter before the exact distance check.
func (x *MarkerIndex) Nearby(lat, lon, radiusMeters float64) []model.Marker {
	env, err := geo.SearchEnvelope(lat, lon, radiusMeters)
	if err != nil {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []model.Marker
	for _, m := range x.markers {
		if !geo.EnvelopeContains(env, m.Latitude, m.Longitude) {
			continue
		}
		if geo.DistanceMeters(lat, lon, m.Latitude, m.Longitude) <= radiusMeters {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the snapshot size.
func (x *MarkerIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.markers)
}

// LastRefresh returns when the snapshot was last replaced, or a zero time
// if no refresh has succeeded yet.
func (x *MarkerIndex) LastRefresh() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.refreshedAt
}

// FailedRefreshCount returns how many refresh attempts have failed.
func (x *MarkerIndex) FailedRefreshCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.failedRefresh
}
