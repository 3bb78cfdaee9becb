package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaani-labs/voicemetrics/pkg/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewRecorder(st, RecorderConfig{AgentName: "test-agent"}), st
}

func storedSession(t *testing.T, st *store.MemoryStore, callID string) *CallSession {
	t.Helper()
	raw, err := st.Get(context.Background(), store.CallKey(callID))
	require.NoError(t, err)
	sess, err := UnmarshalSession(raw)
	require.NoError(t, err)
	return sess
}

func TestStartCallAssignsDistinctIDs(t *testing.T) {
	r, st := newTestRecorder(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	ctx := context.Background()
	first := r.StartCall(ctx, "room1", ParticipantInfo{PhoneNumber: "+15550100"})
	second := r.StartCall(ctx, "room1", ParticipantInfo{})

	assert.Equal(t, "room1_1748779200", first)
	assert.Equal(t, "room1_1748779200-1", second)
	assert.Equal(t, 2, r.ActiveCalls())

	sess := storedSession(t, st, first)
	assert.Equal(t, "room1", sess.RoomName)
	assert.Equal(t, "test-agent", sess.AgentName)
	assert.Equal(t, "+15550100", sess.Participant.PhoneNumber)
	assert.Equal(t, StatusActive, sess.Status)
}

func TestStartCallNeverReusesEndedCallID(t *testing.T) {
	r, st := newTestRecorder(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	ctx := context.Background()

	first := r.StartCall(ctx, "room1", ParticipantInfo{})
	r.RecordEvent(ctx, first, NewLLMEvent(0.2, 1, 1))
	r.EndCall(ctx, first, StatusFailed)

	// a retried call in the same second must not take over the ended id
	second := r.StartCall(ctx, "room1", ParticipantInfo{})
	assert.Equal(t, "room1_1748779200", first)
	assert.Equal(t, "room1_1748779200-1", second)

	ended := storedSession(t, st, first)
	assert.Equal(t, StatusFailed, ended.Status)
	require.NotNil(t, ended.EndTime)
	assert.Len(t, ended.LLMEvents, 1)

	fresh := storedSession(t, st, second)
	assert.Equal(t, StatusActive, fresh.Status)
	assert.Empty(t, fresh.LLMEvents)
}

func TestRecordEventSequencesPerStage(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	callID := r.StartCall(ctx, "room1", ParticipantInfo{})

	r.RecordEvent(ctx, callID, NewLLMEvent(0.2, 10, 20))
	r.RecordEvent(ctx, callID, NewTTSEvent(0.1, 1.5, 42))
	r.RecordEvent(ctx, callID, NewLLMEvent(0.3, 5, 15))
	r.RecordEvent(ctx, callID, NewASREvent(2.0, 12))

	sess := storedSession(t, st, callID)
	require.Len(t, sess.LLMEvents, 2)
	assert.Equal(t, int64(1), sess.LLMEvents[0].Sequence)
	assert.Equal(t, int64(2), sess.LLMEvents[1].Sequence)
	require.Len(t, sess.TTSEvents, 1)
	assert.Equal(t, int64(1), sess.TTSEvents[0].Sequence)
	require.Len(t, sess.ASREvents, 1)
	assert.Equal(t, int64(2), sess.LLMCalls)
	assert.Equal(t, int64(1), sess.TTSCalls)
	assert.Equal(t, int64(1), sess.ASRCalls)
	assert.False(t, sess.LLMEvents[0].Timestamp.IsZero())
}

func TestEOUDelayRangeFilter(t *testing.T) {
	tests := []struct {
		name     string
		delay    float64
		accepted bool
	}{
		{"negative", -0.5, false},
		{"zero boundary", 0.0, true},
		{"typical", 1.2, true},
		{"upper boundary", 30.0, true},
		{"just above", 30.1, false},
		{"raw unix timestamp", 1_700_000_000.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, st := newTestRecorder(t)
			ctx := context.Background()
			callID := r.StartCall(ctx, "room1", ParticipantInfo{})

			r.RecordEvent(ctx, callID, NewEOUEvent(tt.delay))

			sess := storedSession(t, st, callID)
			if tt.accepted {
				assert.Len(t, sess.EOUEvents, 1)
			} else {
				assert.Empty(t, sess.EOUEvents)
			}
		})
	}
}

func TestMalformedEventDropped(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	callID := r.StartCall(ctx, "room1", ParticipantInfo{})

	r.RecordEvent(ctx, callID, MetricEvent{Stage: StageLLM})
	r.RecordEvent(ctx, callID, MetricEvent{Stage: "video", LLM: &LLMMetric{}})

	sess := storedSession(t, st, callID)
	assert.Empty(t, sess.LLMEvents)
	assert.Equal(t, int64(0), sess.LLMCalls)
}

func TestEventsAfterEndDropped(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	callID := r.StartCall(ctx, "room1", ParticipantInfo{})
	r.RecordEvent(ctx, callID, NewLLMEvent(0.2, 1, 1))
	r.EndCall(ctx, callID, StatusCompleted)

	r.RecordEvent(ctx, callID, NewLLMEvent(0.3, 1, 1))
	r.RecordUserLatency(ctx, callID, "caller", 1.0)

	sess := storedSession(t, st, callID)
	assert.Len(t, sess.LLMEvents, 1)
	assert.Empty(t, sess.UserLatencies)
	assert.Equal(t, 0, r.ActiveCalls())
}

func TestEndCallFinalizesSnapshot(t *testing.T) {
	r, st := newTestRecorder(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	ctx := context.Background()
	callID := r.StartCall(ctx, "room1", ParticipantInfo{})
	now = now.Add(90 * time.Second)
	r.EndCall(ctx, callID, StatusFailed)

	sess := storedSession(t, st, callID)
	require.NotNil(t, sess.EndTime)
	assert.Equal(t, StatusFailed, sess.Status)
	assert.Equal(t, 90*time.Second, sess.Duration(now))

	completed, err := st.RangeList(ctx, store.CompletedListKey())
	require.NoError(t, err)
	require.Len(t, completed, 1)
	final, err := UnmarshalSession(completed[0])
	require.NoError(t, err)
	assert.Equal(t, callID, final.CallID)
	assert.Equal(t, StatusFailed, final.Status)
}

func TestRecordUserLatency(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	callID := r.StartCall(ctx, "room1", ParticipantInfo{})

	r.RecordUserLatency(ctx, callID, "caller", 0.8)
	r.RecordUserLatency(ctx, callID, "caller", 1.4)

	sess := storedSession(t, st, callID)
	require.Len(t, sess.UserLatencies, 2)
	assert.Equal(t, int64(1), sess.UserLatencies[0].Sequence)
	assert.Equal(t, int64(2), sess.UserLatencies[1].Sequence)
	assert.Equal(t, 0.8, sess.UserLatencies[0].Latency)
	assert.Equal(t, "caller", sess.UserLatencies[0].Participant)
}

func TestLiveStatsAggregation(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()
	a := r.StartCall(ctx, "room1", ParticipantInfo{})
	b := r.StartCall(ctx, "room2", ParticipantInfo{})

	r.RecordEvent(ctx, a, NewLLMEvent(0.2, 1, 1))
	r.RecordEvent(ctx, b, NewLLMEvent(0.4, 1, 1))
	r.RecordUserLatency(ctx, a, "caller", 1.0)
	r.RecordUserLatency(ctx, b, "caller", 3.0)

	stats := r.LiveStats()
	assert.Equal(t, 2, stats.ActiveCalls)
	assert.Equal(t, int64(2), stats.LLMCalls)
	assert.InDelta(t, 0.3, stats.AvgTTFT, 1e-9)
	assert.Equal(t, 2, stats.UserTurns)
	assert.InDelta(t, 2.0, stats.AvgUserLatency, 1e-9)
}
