package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/vaani-labs/voicemetrics/internal/models"
	"github.com/vaani-labs/voicemetrics/pkg/store"
	"github.com/vaani-labs/voicemetrics/pkg/telemetry"
)

func setupSyncDB(t *testing.T) *gorm.DB {
	t.Helper()
	silentLogger := glog.New(
		log.New(io.Discard, "", log.LstdFlags),
		glog.Config{LogLevel: glog.Silent, IgnoreRecordNotFoundError: true},
	)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silentLogger})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Call{},
		&models.CallMetrics{},
		&models.CallMetricsDetail{},
		&models.TranscriptSegment{},
		&models.SyncStatus{},
	))
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB, st store.EphemeralStore) (*Engine, *time.Time) {
	t.Helper()
	eng := NewEngine(db, st, Config{
		Source:       "manual_sync",
		MaxRetries:   3,
		RetryBackoff: time.Minute,
		DBTimeout:    5 * time.Second,
	})
	clock := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return clock }
	return eng, &clock
}

func fixtureSession(callID string) *telemetry.CallSession {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	at := func(s int) time.Time { return start.Add(time.Duration(s) * time.Second) }

	return &telemetry.CallSession{
		CallID:      callID,
		RoomName:    "room1",
		AgentName:   "test-agent",
		Participant: telemetry.ParticipantInfo{PhoneNumber: "+15550100", CallerName: "Alice"},
		StartTime:   start,
		EndTime:     &end,
		Status:      telemetry.StatusCompleted,
		LLMCalls:    2,
		TTSCalls:    1,
		LLMEvents: []telemetry.MetricEvent{
			{Stage: telemetry.StageLLM, Timestamp: at(5), Sequence: 1, LLM: &telemetry.LLMMetric{TTFT: 0.2, TokensIn: 10, TokensOut: 40}},
			{Stage: telemetry.StageLLM, Timestamp: at(20), Sequence: 2, LLM: &telemetry.LLMMetric{TTFT: 0.4, TokensIn: 20, TokensOut: 60}},
		},
		TTSEvents: []telemetry.MetricEvent{
			{Stage: telemetry.StageTTS, Timestamp: at(6), Sequence: 1, TTS: &telemetry.TTSMetric{TTFB: 0.15, Duration: 2.5, Characters: 42}},
		},
		EOUEvents: []telemetry.MetricEvent{
			{Stage: telemetry.StageEOU, Timestamp: at(4), Sequence: 1, EOU: &telemetry.EOUMetric{Delay: 1.1}},
		},
		UserLatencies: []telemetry.UserLatencySample{
			{Participant: "caller", Latency: 0.8, Timestamp: at(6), Sequence: 1},
			{Participant: "caller", Latency: 1.2, Timestamp: at(21), Sequence: 2},
		},
		LastWrite: end,
	}
}

func putSession(t *testing.T, st store.EphemeralStore, sess *telemetry.CallSession) {
	t.Helper()
	data, err := sess.Marshal()
	require.NoError(t, err)
	require.NoError(t, st.Put(context.Background(), store.CallKey(sess.CallID), data, 0))
}

func putTurns(t *testing.T, st store.EphemeralStore, roomID string, turns ...telemetry.TranscriptTurn) {
	t.Helper()
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		require.NoError(t, err)
		require.NoError(t, st.AppendToList(context.Background(), store.TranscriptKey(roomID), data, 0, 0))
	}
}

func TestSyncOneProjectsCall(t *testing.T) {
	db := setupSyncDB(t)
	st := store.NewMemoryStore()
	eng, _ := newTestEngine(t, db, st)
	ctx := context.Background()

	const callID = "room1_1748779200"
	putSession(t, st, fixtureSession(callID))
	putTurns(t, st, callID,
		telemetry.TranscriptTurn{HistoryID: 1, Timestamp: 1748779205000, Speaker: "user", Message: "hello"},
		telemetry.TranscriptTurn{HistoryID: 2, Timestamp: 1748779207000, Speaker: "agent", Message: "hi there"},
	)

	res := eng.SyncOne(ctx, callID)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.False(t, res.Skipped)
	// 1 call + 6 detail rows + 2 transcript segments
	assert.Equal(t, 9, res.RecordsCreated)

	call, err := models.GetCallByCallID(db, callID)
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "room1", call.RoomName)
	assert.Equal(t, "+15550100", call.PhoneNumber)
	assert.Equal(t, "completed", call.Status)
	assert.Equal(t, int64(60), call.DurationSec)
	assert.True(t, call.SyncedFromEphemeral)
	assert.Equal(t, "manual_sync", call.SyncSource)
	require.NotNil(t, call.LastSyncTime)

	var details int64
	require.NoError(t, db.Model(&models.CallMetricsDetail{}).Where("call_ref = ?", call.ID).Count(&details).Error)
	assert.Equal(t, int64(6), details)

	var latencyRows int64
	require.NoError(t, db.Model(&models.CallMetricsDetail{}).
		Where("call_ref = ? AND metric_type = ?", call.ID, MetricTypeUserLatency).Count(&latencyRows).Error)
	assert.Equal(t, int64(2), latencyRows)

	var agg models.CallMetrics
	require.NoError(t, db.Where("call_ref = ?", call.ID).First(&agg).Error)
	assert.Equal(t, int64(2), agg.LLMCalls)
	assert.InDelta(t, 0.3, agg.AvgTTFT, 1e-9)
	assert.InDelta(t, 0.2, agg.MinTTFT, 1e-9)
	assert.InDelta(t, 0.4, agg.MaxTTFT, 1e-9)
	assert.Equal(t, int64(30), agg.TotalTokensIn)
	assert.Equal(t, int64(100), agg.TotalTokensOut)
	assert.InDelta(t, 0.15, agg.AvgTTSTTFB, 1e-9)
	assert.Equal(t, int64(42), agg.TotalCharacters)
	assert.InDelta(t, 1.1, agg.AvgEOUDelay, 1e-9)
	assert.Equal(t, int64(2), agg.UserTurns)
	assert.InDelta(t, 1.0, agg.AvgUserLatency, 1e-9)
	assert.Equal(t, int64(3), agg.TotalInteractions)

	var segments int64
	require.NoError(t, db.Model(&models.TranscriptSegment{}).Where("call_ref = ?", call.ID).Count(&segments).Error)
	assert.Equal(t, int64(2), segments)

	ledger, err := models.LatestSyncStatus(db, callID, models.SyncTypeCombined)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Equal(t, models.SyncStatusCompleted, ledger.Status)
	assert.Equal(t, 9, ledger.RecordsProcessed)
	require.NotNil(t, ledger.CallRef)
	assert.Equal(t, call.ID, *ledger.CallRef)
}

func TestSyncOneIdempotent(t *testing.T) {
	db := setupSyncDB(t)
	st := store.NewMemoryStore()
	eng, clock := newTestEngine(t, db, st)
	ctx := context.Background()

	const callID = "room1_1748779200"
	sess := fixtureSession(callID)
	putSession(t, st, sess)
	putTurns(t, st, callID,
		telemetry.TranscriptTurn{HistoryID: 1, Timestamp: 1748779205000, Speaker: "user", Message: "hello"},
	)

	first := eng.SyncOne(ctx, callID)
	require.True(t, first.Success)
	require.Equal(t, 8, first.RecordsCreated)

	// nothing new: watermark check short-circuits
	second := eng.SyncOne(ctx, callID)
	assert.True(t, second.Success)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.RecordsCreated)

	// a fresh write forces reprojection, but the conflict guards let nothing
	// duplicate through
	*clock = clock.Add(time.Hour)
	sess.LastWrite = *clock
	putSession(t, st, sess)

	third := eng.SyncOne(ctx, callID)
	require.True(t, third.Success, "errors: %v", third.Errors)
	assert.False(t, third.Skipped)
	assert.Zero(t, third.RecordsCreated)

	var details, segments, calls int64
	require.NoError(t, db.Model(&models.CallMetricsDetail{}).Count(&details).Error)
	require.NoError(t, db.Model(&models.TranscriptSegment{}).Count(&segments).Error)
	require.NoError(t, db.Model(&models.Call{}).Count(&calls).Error)
	assert.Equal(t, int64(6), details)
	assert.Equal(t, int64(1), segments)
	assert.Equal(t, int64(1), calls)
}

func TestSyncAllPartialFailure(t *testing.T) {
	db := setupSyncDB(t)
	st := store.NewMemoryStore()
	eng, _ := newTestEngine(t, db, st)
	ctx := context.Background()

	putSession(t, st, fixtureSession("room1_100"))
	require.NoError(t, st.Put(ctx, store.CallKey("room2_200"), []byte(`{"callId": broken`), 0))

	report, err := eng.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.Failed)

	good, err := models.GetCallByCallID(db, "room1_100")
	require.NoError(t, err)
	assert.NotNil(t, good)

	ledger, err := models.LatestSyncStatus(db, "room2_200", models.SyncTypeCombined)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Equal(t, models.SyncStatusFailed, ledger.Status)
	assert.Contains(t, ledger.LastError, "malformed")
	assert.Equal(t, 1, ledger.RetryCount)
	require.NotNil(t, ledger.NextRetryAt)
}

func TestSyncAllDiscoversTranscriptOnlyCandidate(t *testing.T) {
	db := setupSyncDB(t)
	st := store.NewMemoryStore()
	eng, _ := newTestEngine(t, db, st)
	ctx := context.Background()

	putTurns(t, st, "room9_900",
		telemetry.TranscriptTurn{HistoryID: 1, Timestamp: 1748779205000, Speaker: "user", Message: "anyone there?"},
		telemetry.TranscriptTurn{HistoryID: 2, Timestamp: 1748779206000, Speaker: "agent", Message: "yes"},
	)

	report, err := eng.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
	// 1 call + 2 segments
	assert.Equal(t, 3, report.RecordsCreated)

	call, err := models.GetCallByCallID(db, "room9_900")
	require.NoError(t, err)
	require.NotNil(t, call)

	var segments int64
	require.NoError(t, db.Model(&models.TranscriptSegment{}).Where("call_ref = ?", call.ID).Count(&segments).Error)
	assert.Equal(t, int64(2), segments)
}

func TestSyncOneRetryBackoffGating(t *testing.T) {
	db := setupSyncDB(t)
	st := store.NewMemoryStore()
	eng, clock := newTestEngine(t, db, st)
	ctx := context.Background()

	const callID = "room1_100"
	require.NoError(t, st.Put(ctx, store.CallKey(callID), []byte(`not json`), 0))

	res := eng.SyncOne(ctx, callID)
	assert.False(t, res.Success)

	// backoff window still open: no new attempt
	res = eng.SyncOne(ctx, callID)
	assert.True(t, res.Skipped)

	var attempts int64
	require.NoError(t, db.Model(&models.SyncStatus{}).Where("room_id = ?", callID).Count(&attempts).Error)
	assert.Equal(t, int64(1), attempts)

	// data repaired and the window passed: the retry succeeds
	putSession(t, st, fixtureSession(callID))
	*clock = clock.Add(2 * time.Minute)

	res = eng.SyncOne(ctx, callID)
	require.True(t, res.Success, "errors: %v", res.Errors)

	ledger, err := models.LatestSyncStatus(db, callID, models.SyncTypeCombined)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, ledger.Status)
}

// unstableStore simulates an ephemeral store whose reads fail while key
// discovery still works, the shape of a Redis node refusing data commands.
type unstableStore struct {
	*store.MemoryStore
	getErr error
}

func (s *unstableStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestSyncAllAbortsAfterConsecutiveTransientFailures(t *testing.T) {
	db := setupSyncDB(t)
	st := &unstableStore{MemoryStore: store.NewMemoryStore(), getErr: errors.New("connection refused")}
	eng, _ := newTestEngine(t, db, st)
	ctx := context.Background()

	for _, callID := range []string{"room_a_1", "room_b_2", "room_c_3", "room_d_4"} {
		require.NoError(t, st.MemoryStore.Put(ctx, store.CallKey(callID), []byte(`{}`), 0))
	}

	report, err := eng.SyncAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive transient failures")
	// the pass stops at the third straight failure, the fourth candidate is
	// never attempted
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Failed)
	assert.Zero(t, report.Successful)
}

func TestSyncOneTransientFailureThenRecovery(t *testing.T) {
	db := setupSyncDB(t)
	st := &unstableStore{MemoryStore: store.NewMemoryStore(), getErr: errors.New("connection refused")}
	eng, clock := newTestEngine(t, db, st)
	ctx := context.Background()

	const callID = "room1_100"
	putSession(t, st.MemoryStore, fixtureSession(callID))

	res := eng.SyncOne(ctx, callID)
	assert.False(t, res.Success)

	ledger, err := models.LatestSyncStatus(db, callID, models.SyncTypeCombined)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Equal(t, models.SyncStatusFailed, ledger.Status)
	assert.Contains(t, ledger.LastError, "transient")
	assert.Equal(t, 1, ledger.RetryCount)
	require.NotNil(t, ledger.NextRetryAt)

	// store recovers and the backoff window passes
	st.getErr = nil
	*clock = clock.Add(2 * time.Minute)

	res = eng.SyncOne(ctx, callID)
	require.True(t, res.Success, "errors: %v", res.Errors)

	ledger, err = models.LatestSyncStatus(db, callID, models.SyncTypeCombined)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, ledger.Status)
}

func TestForceSyncOneBypassesBackoffWindow(t *testing.T) {
	db := setupSyncDB(t)
	st := store.NewMemoryStore()
	eng, _ := newTestEngine(t, db, st)
	ctx := context.Background()

	const callID = "room1_100"
	require.NoError(t, st.Put(ctx, store.CallKey(callID), []byte(`not json`), 0))

	res := eng.SyncOne(ctx, callID)
	assert.False(t, res.Success)
	res = eng.SyncOne(ctx, callID)
	assert.True(t, res.Skipped)

	// data repaired, the window has not passed, force attempts anyway
	putSession(t, st, fixtureSession(callID))

	res = eng.ForceSyncOne(ctx, callID)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.False(t, res.Skipped)

	ledger, err := models.LatestSyncStatus(db, callID, models.SyncTypeCombined)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, ledger.Status)
}

func TestSyncAllEmptyStore(t *testing.T) {
	db := setupSyncDB(t)
	eng, _ := newTestEngine(t, db, store.NewMemoryStore())

	report, err := eng.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Zero(t, report.Failed)
}

func TestSyncAllStopsWhenCancelled(t *testing.T) {
	db := setupSyncDB(t)
	st := store.NewMemoryStore()
	eng, _ := newTestEngine(t, db, st)

	putSession(t, st, fixtureSession("room1_100"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := eng.SyncAll(ctx)
	assert.Error(t, err)
	assert.Zero(t, report.Total)
}
