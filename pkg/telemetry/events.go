package telemetry

import (
	"fmt"
	"time"
)

// Stage identifies which pipeline component produced a metric event. The
// discriminant is set at the emission point; nothing downstream infers the
// stage from payload shape.
type Stage string

const (
	StageLLM Stage = "llm"
	StageTTS Stage = "tts"
	StageASR Stage = "asr"
	StageEOU Stage = "eou"
)

// EOU delays outside this window are noise from the upstream pipeline (raw
// timestamps occasionally surface as delays) and are discarded.
const (
	MinEOUDelay = 0.0
	MaxEOUDelay = 30.0
)

// LLMMetric carries language-model timing for one inference.
type LLMMetric struct {
	TTFT      float64 `json:"ttft"` // time to first token, seconds
	TokensIn  int     `json:"tokensIn"`
	TokensOut int     `json:"tokensOut"`
}

// TTSMetric carries speech-synthesis timing for one request.
type TTSMetric struct {
	TTFB       float64 `json:"ttfb"`     // time to first byte, seconds
	Duration   float64 `json:"duration"` // synthesized audio, seconds
	Characters int     `json:"characters"`
}

// ASRMetric carries speech-recognition figures for one utterance.
type ASRMetric struct {
	Duration float64 `json:"duration"` // recognized audio, seconds
	Words    int     `json:"words"`
}

// EOUMetric carries the end-of-utterance detection delay.
type EOUMetric struct {
	Delay float64 `json:"delay"` // seconds
}

// MetricEvent is the tagged variant for a single pipeline stage event. Exactly
// one payload pointer matches the Stage tag. Sequence is assigned by the
// recorder, monotonically per stage, and is the idempotency key when the event
// is later projected to durable storage.
type MetricEvent struct {
	Stage     Stage      `json:"stage"`
	Timestamp time.Time  `json:"timestamp"`
	Sequence  int64      `json:"sequence"`
	LLM       *LLMMetric `json:"llm,omitempty"`
	TTS       *TTSMetric `json:"tts,omitempty"`
	ASR       *ASRMetric `json:"asr,omitempty"`
	EOU       *EOUMetric `json:"eou,omitempty"`
}

func NewLLMEvent(ttft float64, tokensIn, tokensOut int) MetricEvent {
	return MetricEvent{Stage: StageLLM, LLM: &LLMMetric{TTFT: ttft, TokensIn: tokensIn, TokensOut: tokensOut}}
}

func NewTTSEvent(ttfb, duration float64, characters int) MetricEvent {
	return MetricEvent{Stage: StageTTS, TTS: &TTSMetric{TTFB: ttfb, Duration: duration, Characters: characters}}
}

func NewASREvent(duration float64, words int) MetricEvent {
	return MetricEvent{Stage: StageASR, ASR: &ASRMetric{Duration: duration, Words: words}}
}

func NewEOUEvent(delay float64) MetricEvent {
	return MetricEvent{Stage: StageEOU, EOU: &EOUMetric{Delay: delay}}
}

// Validate checks that the payload matches the stage tag.
func (e MetricEvent) Validate() error {
	switch e.Stage {
	case StageLLM:
		if e.LLM == nil {
			return fmt.Errorf("llm event without llm payload")
		}
	case StageTTS:
		if e.TTS == nil {
			return fmt.Errorf("tts event without tts payload")
		}
	case StageASR:
		if e.ASR == nil {
			return fmt.Errorf("asr event without asr payload")
		}
	case StageEOU:
		if e.EOU == nil {
			return fmt.Errorf("eou event without eou payload")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

// DurationMS returns the event's primary latency figure in milliseconds, the
// value projected into the durable detail row.
func (e MetricEvent) DurationMS() float64 {
	switch e.Stage {
	case StageLLM:
		if e.LLM != nil {
			return e.LLM.TTFT * 1000
		}
	case StageTTS:
		if e.TTS != nil {
			return e.TTS.TTFB * 1000
		}
	case StageASR:
		if e.ASR != nil {
			return e.ASR.Duration * 1000
		}
	case StageEOU:
		if e.EOU != nil {
			return e.EOU.Delay * 1000
		}
	}
	return 0
}

// UserLatencySample is one derived user-experienced latency: the gap between a
// participant's utterance ending and the agent's audible reply starting. Never
// emitted directly; always produced by the latency correlator.
type UserLatencySample struct {
	Participant string    `json:"participant"`
	Latency     float64   `json:"latency"` // seconds
	Timestamp   time.Time `json:"timestamp"`
	Sequence    int64     `json:"sequence"`
}
