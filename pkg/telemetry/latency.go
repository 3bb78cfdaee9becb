package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaani-labs/voicemetrics/pkg/logger"
)

// LatencySink receives derived user-latency samples. *Recorder implements it.
type LatencySink interface {
	RecordUserLatency(ctx context.Context, callID, participantID string, latency float64)
}

// LatencyCorrelator pairs "user stopped speaking" with the later "agent
// started speaking" event for the same participant of one call, producing the
// user-experienced latency. The two events arrive from independent pipeline
// callbacks in either order relative to other participants' turns; state is
// scoped per participant so concurrent speakers never cross-contaminate.
//
// Known limitation, kept deliberately: a new user utterance before the agent
// responds overwrites the pending timestamp, so the first turn's latency is
// never recorded. Only the most recent unanswered utterance matters.
type LatencyCorrelator struct {
	mu      sync.Mutex
	callID  string
	sink    LatencySink
	pending map[string]time.Time
	now     func() time.Time
}

func NewLatencyCorrelator(callID string, sink LatencySink) *LatencyCorrelator {
	return &LatencyCorrelator{
		callID:  callID,
		sink:    sink,
		pending: make(map[string]time.Time),
		now:     time.Now,
	}
}

// OnUserSpeechEnd marks the moment a participant finished talking.
func (c *LatencyCorrelator) OnUserSpeechEnd(participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[participantID] = c.now()
	logger.Debug("user speech ended",
		zap.String("callId", c.callID),
		zap.String("participant", participantID))
}

// OnAgentSpeechStart consumes the pending speech-end timestamp for the
// participant, if any, and emits one latency sample. Without a pending
// timestamp the event does not correspond to a tracked user turn and is
// dropped.
func (c *LatencyCorrelator) OnAgentSpeechStart(ctx context.Context, participantID string) {
	c.mu.Lock()
	tEnd, ok := c.pending[participantID]
	if ok {
		delete(c.pending, participantID)
	}
	now := c.now()
	c.mu.Unlock()

	if !ok {
		logger.Debug("agent speech start without pending user turn",
			zap.String("callId", c.callID),
			zap.String("participant", participantID))
		return
	}
	c.sink.RecordUserLatency(ctx, c.callID, participantID, now.Sub(tEnd).Seconds())
}

// Correlators manages one LatencyCorrelator per active call.
type Correlators struct {
	mu   sync.Mutex
	sink LatencySink
	m    map[string]*LatencyCorrelator
}

func NewCorrelators(sink LatencySink) *Correlators {
	return &Correlators{sink: sink, m: make(map[string]*LatencyCorrelator)}
}

// ForCall returns the call's correlator, creating it on first use.
func (cs *Correlators) ForCall(callID string) *LatencyCorrelator {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.m[callID]
	if !ok {
		c = NewLatencyCorrelator(callID, cs.sink)
		cs.m[callID] = c
	}
	return c
}

// Drop releases correlator state when a call ends.
func (cs *Correlators) Drop(callID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.m, callID)
}
