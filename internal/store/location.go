package store

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/accesspath/tracking/internal/model"
)

// persistedLocationID is the fixed primary key of the single fallback row.
const persistedLocationID = 1

// LocationStore persists the GPS-failure fallback position. A single row is
// overwritten on every save.
type LocationStore struct {
	mu     sync.RWMutex
	cached *model.PersistedLocation
	db     *gorm.DB // nil in memory-only mode
}

// NewLocationStore creates a location store. db may be nil for memory-only
// operation.
func NewLocationStore(db *gorm.DB) *LocationStore {
	return &LocationStore{db: db}
}

// Load reads the persisted location from the database into the cache.
// No row is not an error; Get simply reports absence.
func (s *LocationStore) Load() error {
	if s.db == nil {
		return nil
	}

	var row model.PersistedLocation
	err := s.db.First(&row, persistedLocationID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return fmt.Errorf("failed to load persisted location: %w", err)
	}

	s.mu.Lock()
	s.cached = &row
	s.mu.Unlock()
	return nil
}

// Save overwrites the persisted location.
func (s *LocationStore) Save(lat, lon float64, at time.Time) error {
	row := model.PersistedLocation{
		ID:        persistedLocationID,
		Latitude:  lat,
		Longitude: lon,
		SavedAt:   at,
	}

	s.mu.Lock()
	s.cached = &row
	s.mu.Unlock()

	if s.db != nil {
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to persist location: %w", err)
		}
	}
	return nil
}

// Get returns the cached persisted location, if any.
func (s *LocationStore) Get() (model.PersistedLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return model.PersistedLocation{}, false
	}
	return *s.cached, true
}

// AsSample converts the persisted location to a stale LocationSample for
// use as a GPS-failure fallback. Reports false when nothing is persisted.
func (s *LocationStore) AsSample() (model.LocationSample, bool) {
	loc, ok := s.Get()
	if !ok {
		return model.LocationSample{}, false
	}
	return model.LocationSample{
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		CapturedAt: loc.SavedAt,
		Stale:      true,
	}, true
}
