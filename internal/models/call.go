package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Call is the durable projection of one voice-call session.
type Call struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`

	CallID   string `json:"callId" gorm:"size:255;uniqueIndex"`
	RoomName string `json:"roomName" gorm:"size:255;index"`

	AgentName   string `json:"agentName,omitempty" gorm:"size:255"`
	PhoneNumber string `json:"phoneNumber,omitempty" gorm:"size:20;index"`
	CallerName  string `json:"callerName,omitempty" gorm:"size:255"`

	Status      string     `json:"status" gorm:"size:50;index"` // active, completed, failed, rejected, unavailable, timeout
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	DurationSec int64      `json:"durationSec,omitempty"`

	// Sync tracking
	SyncedFromEphemeral bool       `json:"syncedFromEphemeral" gorm:"default:false"`
	LastSyncTime        *time.Time `json:"lastSyncTime,omitempty"`
	SyncSource          string     `json:"syncSource,omitempty" gorm:"size:50"` // auto_sync, manual_sync

	Metrics       *CallMetrics        `json:"metrics,omitempty" gorm:"foreignKey:CallRef"`
	MetricsDetail []CallMetricsDetail `json:"-" gorm:"foreignKey:CallRef"`
	Transcripts   []TranscriptSegment `json:"-" gorm:"foreignKey:CallRef"`
}

func (Call) TableName() string {
	return "calls"
}

// GetCallByCallID looks a call up by its external identifier. Returns
// (nil, nil) when absent.
func GetCallByCallID(db *gorm.DB, callID string) (*Call, error) {
	var call Call
	err := db.Where("call_id = ?", callID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// CallMetrics holds per-call aggregates, recomputed from detail events at
// sync time. One row per call.
type CallMetrics struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
	CallRef   uint      `json:"callRef" gorm:"uniqueIndex;not null"`

	// LLM
	LLMCalls       int64   `json:"llmCalls" gorm:"default:0"`
	AvgTTFT        float64 `json:"avgTtft"`
	MinTTFT        float64 `json:"minTtft"`
	MaxTTFT        float64 `json:"maxTtft"`
	TotalTokensIn  int64   `json:"totalTokensIn" gorm:"default:0"`
	TotalTokensOut int64   `json:"totalTokensOut" gorm:"default:0"`

	// TTS
	TTSCalls           int64   `json:"ttsCalls" gorm:"default:0"`
	AvgTTSTTFB         float64 `json:"avgTtsTtfb"`
	TotalAudioDuration float64 `json:"totalAudioDuration"`
	TotalCharacters    int64   `json:"totalCharacters" gorm:"default:0"`

	// ASR
	ASRCalls            int64 `json:"asrCalls" gorm:"default:0"`
	TotalWordsProcessed int64 `json:"totalWordsProcessed" gorm:"default:0"`

	// EOU
	EOUEvents   int64   `json:"eouEvents" gorm:"default:0"`
	AvgEOUDelay float64 `json:"avgEouDelay"`
	MinEOUDelay float64 `json:"minEouDelay"`
	MaxEOUDelay float64 `json:"maxEouDelay"`

	// User experience
	UserTurns      int64   `json:"userTurns" gorm:"default:0"`
	AvgUserLatency float64 `json:"avgUserLatency"`
	MinUserLatency float64 `json:"minUserLatency"`
	MaxUserLatency float64 `json:"maxUserLatency"`

	TotalInteractions int64 `json:"totalInteractions" gorm:"default:0"`

	AdditionalMetrics JSON `json:"additionalMetrics,omitempty" gorm:"type:json"`
}

func (CallMetrics) TableName() string {
	return "call_metrics"
}

// CallMetricsDetail is one individual metric event. The unique index on
// (call_ref, metric_type, sequence_number) is the idempotency guard: re-running
// a sync re-inserts nothing.
type CallMetricsDetail struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	CallRef   uint      `json:"callRef" gorm:"uniqueIndex:idx_call_stage_seq;not null"`

	MetricType     string    `json:"metricType" gorm:"size:20;uniqueIndex:idx_call_stage_seq;index;not null"` // llm, tts, asr, eou, user_latency
	SequenceNumber int64     `json:"sequenceNumber" gorm:"uniqueIndex:idx_call_stage_seq;not null"`
	EventTimestamp time.Time `json:"eventTimestamp" gorm:"index;not null"`

	DurationMS float64 `json:"durationMs"`
	Success    bool    `json:"success" gorm:"default:true"`

	EventDetails JSON `json:"eventDetails,omitempty" gorm:"type:json"`
}

func (CallMetricsDetail) TableName() string {
	return "call_metrics_detail"
}
