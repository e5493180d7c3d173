package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/accesspath/tracking/internal/model"
)

// SubmissionLog records every validation submit attempt for diagnostics.
// Failures here are never surfaced to the user; the prompt flow already
// completed by the time these rows are written.
type SubmissionLog struct {
	db *gorm.DB // nil in memory-only mode
}

// NewSubmissionLog creates a submission log.
func NewSubmissionLog(db *gorm.DB) *SubmissionLog {
	return &SubmissionLog{db: db}
}

// Record writes one submission outcome.
func (l *SubmissionLog) Record(obstacleType model.ObstacleType, response model.ValidationResponse, markerIDs []string, at time.Time, submitErr error) error {
	if l.db == nil {
		return nil
	}

	ids, err := json.Marshal(markerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal marker ids: %w", err)
	}

	row := model.ValidationSubmission{
		ObstacleType: obstacleType,
		Response:     string(response),
		MarkerIDs:    datatypes.JSON(ids),
		SubmittedAt:  at,
		Succeeded:    submitErr == nil,
	}
	if submitErr != nil {
		row.Error = submitErr.Error()
	}

	if err := l.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// Recent returns the most recent submissions, newest first.
func (l *SubmissionLog) Recent(limit int) ([]model.ValidationSubmission, error) {
	if l.db == nil {
		return nil, nil
	}

	var rows []model.ValidationSubmission
	err := l.db.Order("id desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	return rows, nil
}

// FailureCount returns how many submissions failed.
func (l *SubmissionLog) FailureCount() (int64, error) {
	if l.db == nil {
		return 0, nil
	}

	var n int64
	err := l.db.Model(&model.ValidationSubmission{}).Where("succeeded = ?", false).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count failed submissions: %w", err)
	}
	return n, nil
}
