package store

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/accesspath/tracking/internal/model"
)

// CooldownStore suppresses repeat notifications per marker. Reads hit an
// in-memory map; every mutation is written through to the database so a
// restart cannot defeat suppression. Safe for concurrent readers, writes
// serialize on the mutex.
type CooldownStore struct {
	mu       sync.RWMutex
	entries  map[string]model.CooldownEntry
	db       *gorm.DB // nil in memory-only mode
	duration time.Duration
}

// NewCooldownStore creates a store with the given cooldown duration.
// db may be nil for memory-only operation (tests, degraded startup).
func NewCooldownStore(db *gorm.DB, duration time.Duration) *CooldownStore {
	return &CooldownStore{
		entries:  make(map[string]model.CooldownEntry),
		db:       db,
		duration: duration,
	}
}

// Duration returns the configured cooldown window.
func (s *CooldownStore) Duration() time.Duration {
	return s.duration
}

// Rehydrate loads all persisted entries into memory. Must complete before
// the first proximity check after process start.
func (s *CooldownStore) Rehydrate() error {
	if s.db == nil {
		return nil
	}

	var rows []model.CooldownEntry
	if err := s.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load cooldown entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]model.CooldownEntry, len(rows))
	for _, e := range rows {
		s.entries[e.MarkerID] = e
	}
	return nil
}

// IsInCooldown reports whether the marker is suppressed at the given time.
func (s *CooldownStore) IsInCooldown(markerID string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[markerID]
	if !ok {
		return false
	}
	return now.Before(e.ExpiresAt)
}

// Trigger upserts a cooldown entry starting at now. Overwrites any previous
// entry for the marker.
func (s *CooldownStore) Trigger(markerID string, now time.Time) error {
	entry := model.CooldownEntry{
		MarkerID:    markerID,
		TriggeredAt: now,
		ExpiresAt:   now.Add(s.duration),
	}

	s.mu.Lock()
	s.entries[markerID] = entry
	s.mu.Unlock()

	if s.db != nil {
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "marker_id"}},
			UpdateAll: true,
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("failed to persist cooldown entry: %w", err)
		}
	}
	return nil
}

// SweepExpired removes every entry with expiresAt <= now and returns how
// many were purged. Entries still in their window are never touched.
func (s *CooldownStore) SweepExpired(now time.Time) (int, error) {
	s.mu.Lock()
	removed := 0
	for id, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	s.mu.Unlock()

	if s.db != nil {
		err := s.db.Where("expires_at <= ?", now).Delete(&model.CooldownEntry{}).Error
		if err != nil {
			return removed, fmt.Errorf("failed to sweep cooldown entries: %w", err)
		}
	}
	return removed, nil
}

// ResetAll clears every entry. Explicit user/debug action.
func (s *CooldownStore) ResetAll() error {
	s.mu.Lock()
	s.entries = make(map[string]model.CooldownEntry)
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Where("1 = 1").Delete(&model.CooldownEntry{}).Error; err != nil {
			return fmt.Errorf("failed to reset cooldown entries: %w", err)
		}
	}
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (s *CooldownStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of all current entries, for the status monitor.
func (s *CooldownStore) Entries() []model.CooldownEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CooldownEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}
