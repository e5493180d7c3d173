package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenMemoryDB()
	require.NoError(t, err)
	return db
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCooldownStore_TriggerAndIsInCooldown(t *testing.T) {
	s := NewCooldownStore(newTestDB(t), 10*time.Minute)

	assert.False(t, s.IsInCooldown("m1", testNow))

	require.NoError(t, s.Trigger("m1", testNow))

	assert.True(t, s.IsInCooldown("m1", testNow))
	assert.True(t, s.IsInCooldown("m1", testNow.Add(3*time.Minute)))
	assert.True(t, s.IsInCooldown("m1", testNow.Add(10*time.Minute-time.Second)))
	// Window boundary: expiry instant is no longer suppressed.
	assert.False(t, s.IsInCooldown("m1", testNow.Add(10*time.Minute)))
	assert.False(t, s.IsInCooldown("m1", testNow.Add(11*time.Minute)))
}

func TestCooldownStore_TriggerSetsExpiry(t *testing.T) {
	s := NewCooldownStore(newTestDB(t), 10*time.Minute)

	require.NoError(t, s.Trigger("m1", testNow))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].MarkerID)
	assert.Equal(t, testNow, entries[0].TriggeredAt)
	// expiresAt = triggeredAt + cooldownDuration (600000 ms by default).
	assert.Equal(t, testNow.Add(600000*time.Millisecond), entries[0].ExpiresAt)
}

func TestCooldownStore_RetriggerOverwrites(t *testing.T) {
	s := NewCooldownStore(newTestDB(t), 10*time.Minute)

	require.NoError(t, s.Trigger("m1", testNow))
	later := testNow.Add(11 * time.Minute)
	require.NoError(t, s.Trigger("m1", later))

	require.Equal(t, 1, s.Len(), "re-trigger overwrites, never appends")
	entries := s.Entries()
	assert.Equal(t, later, entries[0].TriggeredAt)
	assert.True(t, s.IsInCooldown("m1", later.Add(5*time.Minute)))
}

func TestCooldownStore_RehydrateSurvivesRestart(t *testing.T) {
	db := newTestDB(t)

	s1 := NewCooldownStore(db, 10*time.Minute)
	require.NoError(t, s1.Trigger("m1", testNow))
	require.NoError(t, s1.Trigger("m2", testNow.Add(time.Minute)))

	// New store over the same database simulates a process restart.
	s2 := NewCooldownStore(db, 10*time.Minute)
	assert.False(t, s2.IsInCooldown("m1", testNow.Add(2*time.Minute)), "before rehydrate nothing is loaded")

	require.NoError(t, s2.Rehydrate())

	assert.Equal(t, 2, s2.Len())
	assert.True(t, s2.IsInCooldown("m1", testNow.Add(2*time.Minute)), "restart must not defeat suppression")
	assert.True(t, s2.IsInCooldown("m2", testNow.Add(2*time.Minute)))
}

func TestCooldownStore_SweepExpired(t *testing.T) {
	db := newTestDB(t)
	s := NewCooldownStore(db, 10*time.Minute)

	require.NoError(t, s.Trigger("old", testNow))
	require.NoError(t, s.Trigger("fresh", testNow.Add(8*time.Minute)))

	sweepAt := testNow.Add(12 * time.Minute)
	removed, err := s.SweepExpired(sweepAt)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.IsInCooldown("fresh", sweepAt))

	// The database agrees after a rehydrate.
	s2 := NewCooldownStore(db, 10*time.Minute)
	require.NoError(t, s2.Rehydrate())
	assert.Equal(t, 1, s2.Len())
}

func TestCooldownStore_SweepNeverRemovesLiveEntries(t *testing.T) {
	s := NewCooldownStore(newTestDB(t), 10*time.Minute)

	require.NoError(t, s.Trigger("m1", testNow))

	for _, offset := range []time.Duration{0, time.Minute, 9 * time.Minute, 10*time.Minute - time.Millisecond} {
		removed, err := s.SweepExpired(testNow.Add(offset))
		require.NoError(t, err)
		assert.Zero(t, removed, "sweep at +%s must not remove a live entry", offset)
	}
	assert.Equal(t, 1, s.Len())

	// Exactly at expiry the entry goes.
	removed, err := s.SweepExpired(testNow.Add(10 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestCooldownStore_ResetAll(t *testing.T) {
	db := newTestDB(t)
	s := NewCooldownStore(db, 10*time.Minute)

	require.NoError(t, s.Trigger("m1", testNow))
	require.NoError(t, s.Trigger("m2", testNow))

	require.NoError(t, s.ResetAll())

	assert.Zero(t, s.Len())
	assert.False(t, s.IsInCooldown("m1", testNow))

	s2 := NewCooldownStore(db, 10*time.Minute)
	require.NoError(t, s2.Rehydrate())
	assert.Zero(t, s2.Len(), "reset must also clear persisted entries")
}

func TestCooldownStore_MemoryOnly(t *testing.T) {
	s := NewCooldownStore(nil, 10*time.Minute)

	require.NoError(t, s.Rehydrate())
	require.NoError(t, s.Trigger("m1", testNow))
	assert.True(t, s.IsInCooldown("m1", testNow))

	removed, err := s.SweepExpired(testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	require.NoError(t, s.ResetAll())
}
