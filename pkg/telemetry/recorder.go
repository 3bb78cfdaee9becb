package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaani-labs/voicemetrics/pkg/logger"
	"github.com/vaani-labs/voicemetrics/pkg/metrics"
	"github.com/vaani-labs/voicemetrics/pkg/store"
)

// RecorderConfig tunes TTL discipline and threshold logging.
type RecorderConfig struct {
	AgentName        string
	CallTTL          time.Duration // live + recently-ended call snapshot keys
	CompletedTTL     time.Duration // completed-call list
	CompletedMaxLen  int64
	LatencyWarnAbove float64 // seconds; 0 disables the warning
}

// Recorder owns one mutable CallSession per active call. It is the only
// writer of in-process call state; access is serialized by an internal mutex
// so genuinely concurrent pipeline callbacks stay safe. Every mutation is
// mirrored to the ephemeral store so a crash does not lose flushed data.
type Recorder struct {
	mu     sync.Mutex
	cfg    RecorderConfig
	store  store.EphemeralStore
	active map[string]*CallSession
	now    func() time.Time
}

func NewRecorder(st store.EphemeralStore, cfg RecorderConfig) *Recorder {
	if cfg.CallTTL <= 0 {
		cfg.CallTTL = 7 * 24 * time.Hour
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = 30 * 24 * time.Hour
	}
	if cfg.CompletedMaxLen <= 0 {
		cfg.CompletedMaxLen = 10000
	}
	return &Recorder{
		cfg:    cfg,
		store:  st,
		active: make(map[string]*CallSession),
		now:    time.Now,
	}
}

// StartCall begins tracking a call and returns its fresh call id
// (room + start timestamp, suffixed if two starts land in the same second).
func (r *Recorder) StartCall(ctx context.Context, roomName string, info ParticipantInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	callID := fmt.Sprintf("%s_%d", roomName, now.Unix())
	for n := 1; r.callIDInUse(ctx, callID); n++ {
		callID = fmt.Sprintf("%s_%d-%d", roomName, now.Unix(), n)
	}

	sess := &CallSession{
		CallID:      callID,
		RoomName:    roomName,
		AgentName:   r.cfg.AgentName,
		Participant: info,
		StartTime:   now,
		Status:      StatusActive,
		LastWrite:   now,
	}
	r.active[callID] = sess
	r.persist(ctx, sess)

	logger.Info("started tracking call",
		zap.String("callId", callID),
		zap.String("room", roomName))
	return callID
}

// callIDInUse reports whether an id identifies a live session or an ended one
// whose snapshot still sits in the ephemeral store awaiting sync. Ended calls
// leave the active map, so the map alone cannot stop a retried call in the
// same second from reusing the previous attempt's id and overwriting its
// snapshot.
func (r *Recorder) callIDInUse(ctx context.Context, callID string) bool {
	if _, ok := r.active[callID]; ok {
		return true
	}
	_, err := r.store.Get(ctx, store.CallKey(callID))
	return err == nil
}

// RecordEvent appends a stage event to a live call. Unknown or already ended
// calls, malformed events and out-of-range EOU delays are dropped and logged,
// never errors: they are noise from the upstream pipeline.
func (r *Recorder) RecordEvent(ctx context.Context, callID string, ev MetricEvent) {
	if err := ev.Validate(); err != nil {
		logger.Warn("dropping malformed stage event",
			zap.String("callId", callID), zap.Error(err))
		return
	}
	if ev.Stage == StageEOU && (ev.EOU.Delay < MinEOUDelay || ev.EOU.Delay > MaxEOUDelay) {
		logger.Debug("dropping eou delay outside accepted range",
			zap.String("callId", callID), zap.Float64("delay", ev.EOU.Delay))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.active[callID]
	if !ok || sess.Ended() {
		logger.Debug("dropping event for unknown or ended call",
			zap.String("callId", callID), zap.String("stage", string(ev.Stage)))
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	switch ev.Stage {
	case StageLLM:
		sess.LLMCalls++
		ev.Sequence = sess.LLMCalls
		sess.LLMEvents = append(sess.LLMEvents, ev)
	case StageTTS:
		sess.TTSCalls++
		ev.Sequence = sess.TTSCalls
		sess.TTSEvents = append(sess.TTSEvents, ev)
	case StageASR:
		sess.ASRCalls++
		ev.Sequence = sess.ASRCalls
		sess.ASREvents = append(sess.ASREvents, ev)
	case StageEOU:
		ev.Sequence = int64(len(sess.EOUEvents)) + 1
		sess.EOUEvents = append(sess.EOUEvents, ev)
	}
	sess.LastWrite = r.now()
	r.persist(ctx, sess)
}

// RecordUserLatency appends a derived user-experienced latency sample.
func (r *Recorder) RecordUserLatency(ctx context.Context, callID, participantID string, latency float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.active[callID]
	if !ok || sess.Ended() {
		logger.Debug("dropping latency sample for unknown or ended call",
			zap.String("callId", callID))
		return
	}

	sample := UserLatencySample{
		Participant: participantID,
		Latency:     latency,
		Timestamp:   r.now(),
		Sequence:    int64(len(sess.UserLatencies)) + 1,
	}
	sess.UserLatencies = append(sess.UserLatencies, sample)
	sess.LastWrite = r.now()
	r.persist(ctx, sess)
	metrics.LatencySamples.Inc()

	if r.cfg.LatencyWarnAbove > 0 && latency > r.cfg.LatencyWarnAbove {
		logger.Warn("user latency above threshold",
			zap.String("callId", callID),
			zap.String("participant", participantID),
			zap.Float64("latency", latency))
	} else {
		logger.Info("user latency sample",
			zap.String("callId", callID),
			zap.Float64("latency", latency))
	}
}

// EndCall sets the terminal status exactly once, writes the final snapshot
// and the completed-call list entry, then releases in-process state. From
// here the ephemeral store is the record of truth until sync.
func (r *Recorder) EndCall(ctx context.Context, callID string, status CallStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.active[callID]
	if !ok {
		logger.Debug("end for unknown call", zap.String("callId", callID))
		return
	}

	now := r.now()
	sess.EndTime = &now
	sess.Status = status
	sess.LastWrite = now
	r.persist(ctx, sess)

	if data, err := sess.Marshal(); err == nil {
		if err := r.store.AppendToList(ctx, store.CompletedListKey(), data, r.cfg.CompletedMaxLen, r.cfg.CompletedTTL); err != nil {
			logger.Warn("failed to append completed call", zap.String("callId", callID), zap.Error(err))
		}
	}

	delete(r.active, callID)

	logger.Info("ended call",
		zap.String("callId", callID),
		zap.String("status", string(status)),
		zap.Duration("duration", sess.Duration(now)))
}

// persist mirrors the session snapshot to the ephemeral store. Store failures
// are logged and swallowed: the in-memory record stays authoritative while the
// call is live.
func (r *Recorder) persist(ctx context.Context, sess *CallSession) {
	data, err := sess.Marshal()
	if err != nil {
		logger.Error("failed to marshal call session", zap.String("callId", sess.CallID), zap.Error(err))
		return
	}
	if err := r.store.Put(ctx, store.CallKey(sess.CallID), data, r.cfg.CallTTL); err != nil {
		logger.Warn("failed to mirror call session",
			zap.String("callId", sess.CallID), zap.Error(err))
	}
}

// ActiveCalls returns the number of live sessions.
func (r *Recorder) ActiveCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Session returns a snapshot copy of a live session.
func (r *Recorder) Session(callID string) (CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.active[callID]
	if !ok {
		return CallSession{}, false
	}
	return *sess, true
}

// LiveStats are the on-demand aggregates served to dashboards.
type LiveStats struct {
	AgentName   string `json:"agentName"`
	ActiveCalls int    `json:"activeCalls"`

	LLMCalls int64 `json:"llmCalls"`
	TTSCalls int64 `json:"ttsCalls"`
	ASRCalls int64 `json:"asrCalls"`

	AvgTTFT    float64 `json:"avgTtftSeconds"`
	MedianTTFT float64 `json:"medianTtftSeconds"`
	P95TTFT    float64 `json:"p95TtftSeconds"`

	AvgTTFB    float64 `json:"avgTtfbSeconds"`
	MedianTTFB float64 `json:"medianTtfbSeconds"`

	AvgEOUDelay    float64 `json:"avgEouDelaySeconds"`
	MedianEOUDelay float64 `json:"medianEouDelaySeconds"`

	UserTurns         int     `json:"userTurns"`
	AvgUserLatency    float64 `json:"avgUserLatencySeconds"`
	MedianUserLatency float64 `json:"medianUserLatencySeconds"`
	P95UserLatency    float64 `json:"p95UserLatencySeconds"`
}

// LiveStats computes aggregates over all in-memory sessions.
func (r *Recorder) LiveStats() LiveStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := LiveStats{
		AgentName:   r.cfg.AgentName,
		ActiveCalls: len(r.active),
	}
	var ttft, ttfb, eou, latencies []float64
	for _, sess := range r.active {
		stats.LLMCalls += sess.LLMCalls
		stats.TTSCalls += sess.TTSCalls
		stats.ASRCalls += sess.ASRCalls
		ttft = append(ttft, sess.TTFTSamples()...)
		ttfb = append(ttfb, sess.TTFBSamples()...)
		eou = append(eou, sess.EOUSamples()...)
		latencies = append(latencies, sess.LatencySamples()...)
	}

	stats.AvgTTFT = Mean(ttft)
	stats.MedianTTFT = Median(ttft)
	stats.P95TTFT = Percentile(ttft, 0.95)
	stats.AvgTTFB = Mean(ttfb)
	stats.MedianTTFB = Median(ttfb)
	stats.AvgEOUDelay = Mean(eou)
	stats.MedianEOUDelay = Median(eou)
	stats.UserTurns = len(latencies)
	stats.AvgUserLatency = Mean(latencies)
	stats.MedianUserLatency = Median(latencies)
	stats.P95UserLatency = Percentile(latencies, 0.95)
	return stats
}
