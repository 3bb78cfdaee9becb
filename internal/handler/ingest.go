package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vaani-labs/voicemetrics/pkg/metrics"
	"github.com/vaani-labs/voicemetrics/pkg/response"
	"github.com/vaani-labs/voicemetrics/pkg/telemetry"
)

func (h *Handlers) registerEventRoutes(r *gin.RouterGroup) {
	events := r.Group("/events")
	events.POST("/lifecycle", h.HandleLifecycleEvent)
	events.POST("/stage", h.HandleStageEvent)
	events.POST("/speech", h.HandleSpeechEvent)
}

type lifecycleRequest struct {
	Action   string `json:"action" binding:"required,oneof=start end"`
	CallID   string `json:"callId"`
	RoomName string `json:"roomName"`
	Status   string `json:"status"`

	Participant telemetry.ParticipantInfo `json:"participant"`
}

// HandleLifecycleEvent starts or ends call tracking. Start returns the
// assigned call id, which the agent process passes back on every later event.
func (h *Handlers) HandleLifecycleEvent(c *gin.Context) {
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid lifecycle event", err.Error())
		return
	}

	switch req.Action {
	case "start":
		if req.RoomName == "" {
			response.Fail(c, "roomName is required to start a call", nil)
			return
		}
		callID := h.recorder.StartCall(c.Request.Context(), req.RoomName, req.Participant)
		response.Success(c, "call tracking started", gin.H{"callId": callID})
	case "end":
		if req.CallID == "" {
			response.Fail(c, "callId is required to end a call", nil)
			return
		}
		status := telemetry.CallStatus(req.Status)
		if status == "" {
			status = telemetry.StatusCompleted
		}
		h.recorder.EndCall(c.Request.Context(), req.CallID, status)
		h.correlators.Drop(req.CallID)
		response.Success(c, "call tracking ended", nil)
	}
}

type stageEventRequest struct {
	CallID    string     `json:"callId" binding:"required"`
	Stage     string     `json:"stage" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`

	TTFT      float64 `json:"ttft"`
	TokensIn  int     `json:"tokensIn"`
	TokensOut int     `json:"tokensOut"`

	TTFB       float64 `json:"ttfb"`
	Duration   float64 `json:"duration"`
	Characters int     `json:"characters"`

	Words int `json:"words"`

	Delay float64 `json:"delay"`
}

// HandleStageEvent records one pipeline stage measurement. Accepted events are
// acknowledged immediately; events the recorder filters out (unknown call,
// out-of-range delay) are acknowledged too, since the producer can do nothing
// about them.
func (h *Handlers) HandleStageEvent(c *gin.Context) {
	var req stageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.EventsDropped.WithLabelValues("bad_request").Inc()
		response.Fail(c, "invalid stage event", err.Error())
		return
	}

	var ev telemetry.MetricEvent
	switch telemetry.Stage(req.Stage) {
	case telemetry.StageLLM:
		ev = telemetry.NewLLMEvent(req.TTFT, req.TokensIn, req.TokensOut)
	case telemetry.StageTTS:
		ev = telemetry.NewTTSEvent(req.TTFB, req.Duration, req.Characters)
	case telemetry.StageASR:
		ev = telemetry.NewASREvent(req.Duration, req.Words)
	case telemetry.StageEOU:
		ev = telemetry.NewEOUEvent(req.Delay)
	default:
		metrics.EventsDropped.WithLabelValues("unknown_stage").Inc()
		response.Fail(c, "unknown stage", gin.H{"stage": req.Stage})
		return
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}

	h.recorder.RecordEvent(c.Request.Context(), req.CallID, ev)
	metrics.EventsRecorded.WithLabelValues(req.Stage).Inc()
	response.Success(c, "event recorded", nil)
}

type speechEventRequest struct {
	CallID      string `json:"callId" binding:"required"`
	Participant string `json:"participant" binding:"required"`
	Event       string `json:"event" binding:"required,oneof=user_speech_end agent_speech_start"`
}

// HandleSpeechEvent feeds the latency correlator for a call.
func (h *Handlers) HandleSpeechEvent(c *gin.Context) {
	var req speechEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid speech event", err.Error())
		return
	}

	correlator := h.correlators.ForCall(req.CallID)
	switch req.Event {
	case "user_speech_end":
		correlator.OnUserSpeechEnd(req.Participant)
	case "agent_speech_start":
		correlator.OnAgentSpeechStart(c.Request.Context(), req.Participant)
	}
	response.Success(c, "speech event recorded", nil)
}
