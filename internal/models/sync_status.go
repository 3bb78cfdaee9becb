package models

import (
	"time"

	"gorm.io/gorm"
)

// Sync types.
const (
	SyncTypeTranscript = "transcript"
	SyncTypeMetrics    = "metrics"
	SyncTypeCombined   = "combined"
)

// Sync lifecycle states.
const (
	SyncStatusPending    = "pending"
	SyncStatusInProgress = "in_progress"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
)

// SyncStatus is the ledger row for one sync attempt, kept independent of the
// call data itself so partial failures and retries stay observable.
type SyncStatus struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`

	SyncType string `json:"syncType" gorm:"size:50;index:idx_sync_type_status;not null"`
	RoomID   string `json:"roomId" gorm:"size:255;index:idx_room_id_type;not null"`
	CallRef  *uint  `json:"callRef,omitempty"`

	Status      string     `json:"status" gorm:"size:50;index:idx_sync_type_status;not null"`
	StartedAt   time.Time  `json:"startedAt" gorm:"not null"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ErrorCount int    `json:"errorCount" gorm:"default:0"`
	LastError  string `json:"lastError,omitempty" gorm:"type:text"`

	RecordsProcessed int   `json:"recordsProcessed" gorm:"default:0"`
	ProcessingTimeMS int64 `json:"processingTimeMs"`

	RetryCount  int        `json:"retryCount" gorm:"default:0"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	MaxRetries  int        `json:"maxRetries" gorm:"default:3"`
}

func (SyncStatus) TableName() string {
	return "sync_status"
}

// MarkInProgress transitions the attempt to in_progress.
func (s *SyncStatus) MarkInProgress() {
	s.Status = SyncStatusInProgress
}

// MarkCompleted finishes the attempt successfully.
func (s *SyncStatus) MarkCompleted(now time.Time, records int) {
	s.Status = SyncStatusCompleted
	s.CompletedAt = &now
	s.RecordsProcessed = records
	s.ProcessingTimeMS = now.Sub(s.StartedAt).Milliseconds()
	s.NextRetryAt = nil
}

// MarkFailed records the failure and schedules the next retry with
// exponential backoff (base * 2^retries), leaving NextRetryAt nil once the
// retry budget is exhausted.
func (s *SyncStatus) MarkFailed(now time.Time, errText string, backoffBase time.Duration) {
	s.Status = SyncStatusFailed
	s.CompletedAt = &now
	s.ErrorCount++
	s.LastError = errText
	s.ProcessingTimeMS = now.Sub(s.StartedAt).Milliseconds()

	if s.RetryCount < s.MaxRetries {
		next := now.Add(backoffBase << uint(s.RetryCount))
		s.NextRetryAt = &next
		s.RetryCount++
	} else {
		s.NextRetryAt = nil
	}
}

// RetryExhausted reports whether the attempt budget is spent.
func (s *SyncStatus) RetryExhausted() bool {
	return s.RetryCount >= s.MaxRetries && s.Status == SyncStatusFailed
}

// LatestSyncStatus returns the most recent ledger row for a room and type,
// (nil, nil) when none exists.
func LatestSyncStatus(db *gorm.DB, roomID, syncType string) (*SyncStatus, error) {
	var status SyncStatus
	err := db.Where("room_id = ? AND sync_type = ?", roomID, syncType).
		Order("id DESC").First(&status).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// RecentSyncStatuses lists the latest ledger rows for the admin API.
func RecentSyncStatuses(db *gorm.DB, limit int) ([]SyncStatus, error) {
	if limit <= 0 {
		limit = 50
	}
	var statuses []SyncStatus
	err := db.Order("id DESC").Limit(limit).Find(&statuses).Error
	return statuses, err
}
