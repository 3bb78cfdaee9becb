package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

func TestGetCallByCallID(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &Call{})

	missing, err := GetCallByCallID(db, "room1_100")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.Create(&Call{CallID: "room1_100", RoomName: "room1", Status: "completed"}).Error)

	found, err := GetCallByCallID(db, "room1_100")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "room1", found.RoomName)
}

func TestMetricsDetailIdempotencyGuard(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &Call{}, &CallMetricsDetail{})

	call := Call{CallID: "room1_100", Status: "completed"}
	require.NoError(t, db.Create(&call).Error)

	row := CallMetricsDetail{
		CallRef:        call.ID,
		MetricType:     "llm",
		SequenceNumber: 1,
		EventTimestamp: time.Now(),
		DurationMS:     200,
		Success:        true,
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.RowsAffected)

	// replaying the same (call, stage, sequence) inserts nothing
	replay := CallMetricsDetail{
		CallRef:        call.ID,
		MetricType:     "llm",
		SequenceNumber: 1,
		EventTimestamp: time.Now(),
		DurationMS:     999,
	}
	res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&replay)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)

	// a different sequence for the same stage still lands
	next := CallMetricsDetail{
		CallRef:        call.ID,
		MetricType:     "llm",
		SequenceNumber: 2,
		EventTimestamp: time.Now(),
	}
	res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&next)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.RowsAffected)

	var count int64
	require.NoError(t, db.Model(&CallMetricsDetail{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestTranscriptSegmentDedupe(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &Call{}, &TranscriptSegment{})

	call := Call{CallID: "room1_100", Status: "completed"}
	require.NoError(t, db.Create(&call).Error)

	seg := TranscriptSegment{CallRef: call.ID, HistoryID: 7, Speaker: "user", Message: "hello"}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seg)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.RowsAffected)

	dup := TranscriptSegment{CallRef: call.ID, HistoryID: 7, Speaker: "user", Message: "hello again"}
	res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&dup)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)
}
