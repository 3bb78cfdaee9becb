package telemetry

import (
	"encoding/json"
	"time"
)

// CallStatus is the terminal (or live) state of a call.
type CallStatus string

const (
	StatusActive      CallStatus = "active"
	StatusCompleted   CallStatus = "completed"
	StatusFailed      CallStatus = "failed"
	StatusRejected    CallStatus = "rejected"
	StatusUnavailable CallStatus = "unavailable"
	StatusTimeout     CallStatus = "timeout"
)

// ParticipantInfo is what the call-dispatch collaborator knows about the
// remote party at call start.
type ParticipantInfo struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
	CallerName  string `json:"callerName,omitempty"`
}

// CallSession is the mutable per-call record the recorder owns while a call is
// live and the snapshot the ephemeral store holds afterwards. LastWrite lets
// the reconciliation engine skip candidates whose durable projection is
// already current.
type CallSession struct {
	CallID      string          `json:"callId"`
	RoomName    string          `json:"roomName"`
	AgentName   string          `json:"agentName"`
	Participant ParticipantInfo `json:"participant"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Status    CallStatus `json:"status"`

	LLMCalls int64 `json:"llmCalls"`
	TTSCalls int64 `json:"ttsCalls"`
	ASRCalls int64 `json:"asrCalls"`

	LLMEvents []MetricEvent `json:"llmEvents,omitempty"`
	TTSEvents []MetricEvent `json:"ttsEvents,omitempty"`
	ASREvents []MetricEvent `json:"asrEvents,omitempty"`
	EOUEvents []MetricEvent `json:"eouEvents,omitempty"`

	UserLatencies []UserLatencySample `json:"userLatencies,omitempty"`

	LastWrite time.Time `json:"lastWrite"`
}

// Ended reports whether the terminal status has been set.
func (s *CallSession) Ended() bool {
	return s.EndTime != nil
}

// Duration returns the call length so far (or final length once ended).
func (s *CallSession) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime)
}

// Events returns all stage event lists keyed by stage, for projection.
func (s *CallSession) Events() map[Stage][]MetricEvent {
	return map[Stage][]MetricEvent{
		StageLLM: s.LLMEvents,
		StageTTS: s.TTSEvents,
		StageASR: s.ASREvents,
		StageEOU: s.EOUEvents,
	}
}

// TTFTSamples extracts the LLM time-to-first-token series.
func (s *CallSession) TTFTSamples() []float64 {
	out := make([]float64, 0, len(s.LLMEvents))
	for _, e := range s.LLMEvents {
		if e.LLM != nil {
			out = append(out, e.LLM.TTFT)
		}
	}
	return out
}

// TTFBSamples extracts the TTS time-to-first-byte series.
func (s *CallSession) TTFBSamples() []float64 {
	out := make([]float64, 0, len(s.TTSEvents))
	for _, e := range s.TTSEvents {
		if e.TTS != nil {
			out = append(out, e.TTS.TTFB)
		}
	}
	return out
}

// EOUSamples extracts the end-of-utterance delay series.
func (s *CallSession) EOUSamples() []float64 {
	out := make([]float64, 0, len(s.EOUEvents))
	for _, e := range s.EOUEvents {
		if e.EOU != nil {
			out = append(out, e.EOU.Delay)
		}
	}
	return out
}

// LatencySamples extracts the user-experienced latency series.
func (s *CallSession) LatencySamples() []float64 {
	out := make([]float64, 0, len(s.UserLatencies))
	for _, l := range s.UserLatencies {
		out = append(out, l.Latency)
	}
	return out
}

// Marshal serializes the session snapshot for the ephemeral store.
func (s *CallSession) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSession decodes a stored snapshot.
func UnmarshalSession(data []byte) (*CallSession, error) {
	var sess CallSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// TranscriptTurn is one transcript entry as the agent process writes it into
// the room's transcript list. HistoryID orders and deduplicates turns.
type TranscriptTurn struct {
	HistoryID int64  `json:"history_id"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Speaker   string `json:"speaker"`
	Message   string `json:"message"`
}

// Time converts the millisecond timestamp.
func (t TranscriptTurn) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}
