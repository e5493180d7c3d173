package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesspath/tracking/internal/model"
)

func TestSubmissionLog_RecordAndRecent(t *testing.T) {
	l := NewSubmissionLog(newTestDB(t))

	require.NoError(t, l.Record(model.ObstacleStairs, model.ResponseConfirmed, []string{"m1", "m2"}, testNow, nil))
	require.NoError(t, l.Record(model.ObstacleConstruction, model.ResponseDenied, []string{"m3"}, testNow.Add(time.Minute), errors.New("network down")))

	rows, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Newest first.
	assert.Equal(t, model.ObstacleConstruction, rows[0].ObstacleType)
	assert.False(t, rows[0].Succeeded)
	assert.Equal(t, "network down", rows[0].Error)

	assert.Equal(t, model.ObstacleStairs, rows[1].ObstacleType)
	assert.True(t, rows[1].Succeeded)
	assert.Empty(t, rows[1].Error)

	var ids []string
	require.NoError(t, json.Unmarshal(rows[1].MarkerIDs, &ids))
	assert.Equal(t, []string{"m1", "m2"}, ids)
}

func TestSubmissionLog_RecentLimit(t *testing.T) {
	l := NewSubmissionLog(newTestDB(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(model.ObstacleStairs, model.ResponseUnsure, []string{"m"}, testNow, nil))
	}

	rows, err := l.Recent(3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestSubmissionLog_FailureCount(t *testing.T) {
	l := NewSubmissionLog(newTestDB(t))

	n, err := l.FailureCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, l.Record(model.ObstacleStairs, model.ResponseConfirmed, []string{"m1"}, testNow, nil))
	require.NoError(t, l.Record(model.ObstacleStairs, model.ResponseConfirmed, []string{"m1"}, testNow, errors.New("timeout")))
	require.NoError(t, l.Record(model.ObstacleStairs, model.ResponseConfirmed, []string{"m1"}, testNow, errors.New("timeout")))

	n, err = l.FailureCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSubmissionLog_MemoryOnly(t *testing.T) {
	l := NewSubmissionLog(nil)

	require.NoError(t, l.Record(model.ObstacleStairs, model.ResponseConfirmed, []string{"m1"}, testNow, nil))

	rows, err := l.Recent(10)
	require.NoError(t, err)
	assert.Nil(t, rows)

	n, err := l.FailureCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}
