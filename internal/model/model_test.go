package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownEntry_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := CooldownEntry{
		MarkerID:    "m1",
		TriggeredAt: now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}

	assert.False(t, entry.Expired(now))
	assert.False(t, entry.Expired(now.Add(10*time.Minute-time.Second)))
	// Boundary: now == expiresAt counts as expired.
	assert.True(t, entry.Expired(now.Add(10*time.Minute)))
	assert.True(t, entry.Expired(now.Add(time.Hour)))
}

func TestObstacleType_SeverityWeight(t *testing.T) {
	tests := []struct {
		obstacleType ObstacleType
		want         int
	}{
		{ObstacleStairs, 1000},
		{ObstacleInPath, 1000},
		{ObstacleSteepIncline, 900},
		{ObstacleConstruction, 900},
		{ObstacleNarrowPath, 800},
		{ObstacleMissingRamp, 800},
		{ObstacleUnevenSurface, 700},
		{ObstacleMissingCrosswalk, 700},
		{ObstacleOther, 600},
		{ObstaclePoorLighting, 500},
		{ObstacleType("SOMETHING_NEW"), 600},
	}

	for _, tt := range tests {
		t.Run(string(tt.obstacleType), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.obstacleType.SeverityWeight())
		})
	}
}

func TestObstacleType_Known(t *testing.T) {
	assert.True(t, ObstacleStairs.Known())
	assert.True(t, ObstacleOther.Known())
	assert.False(t, ObstacleType("POTHOLE").Known())
}
