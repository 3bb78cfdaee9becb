package models

import "time"

// TranscriptSegment is one projected transcript turn. HistoryID comes from the
// ephemeral turn list and deduplicates re-synced turns per call.
type TranscriptSegment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	CallRef   uint      `json:"callRef" gorm:"uniqueIndex:idx_call_history;not null"`

	HistoryID int64     `json:"historyId" gorm:"uniqueIndex:idx_call_history;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
	Speaker   string    `json:"speaker" gorm:"size:50;index"` // user, agent, llm
	Message   string    `json:"message" gorm:"type:text"`
}

func (TranscriptSegment) TableName() string {
	return "transcript_segments"
}
