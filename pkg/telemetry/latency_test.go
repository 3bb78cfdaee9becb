package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedSample struct {
	callID      string
	participant string
	latency     float64
}

type captureSink struct {
	samples []capturedSample
}

func (s *captureSink) RecordUserLatency(_ context.Context, callID, participantID string, latency float64) {
	s.samples = append(s.samples, capturedSample{callID, participantID, latency})
}

func newTestCorrelator(sink LatencySink) (*LatencyCorrelator, *time.Time) {
	c := NewLatencyCorrelator("room1_100", sink)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLatencyPairedExactlyOnce(t *testing.T) {
	sink := &captureSink{}
	c, now := newTestCorrelator(sink)
	ctx := context.Background()

	c.OnUserSpeechEnd("caller")
	*now = now.Add(800 * time.Millisecond)
	c.OnAgentSpeechStart(ctx, "caller")

	require.Len(t, sink.samples, 1)
	assert.Equal(t, "room1_100", sink.samples[0].callID)
	assert.Equal(t, "caller", sink.samples[0].participant)
	assert.InDelta(t, 0.8, sink.samples[0].latency, 1e-9)

	// the pending timestamp was consumed; a second agent turn pairs nothing
	*now = now.Add(time.Second)
	c.OnAgentSpeechStart(ctx, "caller")
	assert.Len(t, sink.samples, 1)
}

func TestAgentStartWithoutUserTurn(t *testing.T) {
	sink := &captureSink{}
	c, _ := newTestCorrelator(sink)

	c.OnAgentSpeechStart(context.Background(), "caller")
	assert.Empty(t, sink.samples)
}

func TestNewUtteranceOverwritesPending(t *testing.T) {
	sink := &captureSink{}
	c, now := newTestCorrelator(sink)
	ctx := context.Background()

	c.OnUserSpeechEnd("caller")
	*now = now.Add(2 * time.Second)
	c.OnUserSpeechEnd("caller")
	*now = now.Add(500 * time.Millisecond)
	c.OnAgentSpeechStart(ctx, "caller")

	// only the most recent utterance is measured
	require.Len(t, sink.samples, 1)
	assert.InDelta(t, 0.5, sink.samples[0].latency, 1e-9)
}

func TestParticipantsDoNotCrossContaminate(t *testing.T) {
	sink := &captureSink{}
	c, now := newTestCorrelator(sink)
	ctx := context.Background()

	c.OnUserSpeechEnd("alice")
	*now = now.Add(time.Second)
	c.OnUserSpeechEnd("bob")
	*now = now.Add(time.Second)

	c.OnAgentSpeechStart(ctx, "bob")
	require.Len(t, sink.samples, 1)
	assert.Equal(t, "bob", sink.samples[0].participant)
	assert.InDelta(t, 1.0, sink.samples[0].latency, 1e-9)

	*now = now.Add(time.Second)
	c.OnAgentSpeechStart(ctx, "alice")
	require.Len(t, sink.samples, 2)
	assert.Equal(t, "alice", sink.samples[1].participant)
	assert.InDelta(t, 3.0, sink.samples[1].latency, 1e-9)
}

func TestCorrelatorsRegistry(t *testing.T) {
	sink := &captureSink{}
	cs := NewCorrelators(sink)

	a := cs.ForCall("room1_100")
	assert.Same(t, a, cs.ForCall("room1_100"))
	assert.NotSame(t, a, cs.ForCall("room2_100"))

	cs.Drop("room1_100")
	assert.NotSame(t, a, cs.ForCall("room1_100"))
}
