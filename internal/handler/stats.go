package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vaani-labs/voicemetrics/internal/models"
	"github.com/vaani-labs/voicemetrics/pkg/response"
	"github.com/vaani-labs/voicemetrics/pkg/store"
	"github.com/vaani-labs/voicemetrics/pkg/telemetry"
)

const liveStatsCacheKey = "stats:live"

func (h *Handlers) registerStatsRoutes(r *gin.RouterGroup) {
	stats := r.Group("/stats")
	stats.GET("/live", h.GetLiveStats)

	calls := r.Group("/calls")
	calls.GET("", h.ListCalls)
	calls.GET("/:callId", h.GetCall)
}

type liveStatsPayload struct {
	telemetry.LiveStats
	// Degraded means the ephemeral store is unreachable: stats still cover the
	// in-memory sessions, but nothing is being mirrored for sync.
	Degraded    bool      `json:"degraded"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// GetLiveStats serves dashboard aggregates over the in-memory sessions. The
// result is briefly cached; dashboards poll faster than the numbers move.
func (h *Handlers) GetLiveStats(c *gin.Context) {
	if cached, ok := h.statsCache.Get(liveStatsCacheKey); ok {
		response.Success(c, "live stats", cached)
		return
	}

	_, storeErr := h.store.ListKeys(c.Request.Context(), store.CallKeyPattern)
	payload := liveStatsPayload{
		LiveStats:   h.recorder.LiveStats(),
		Degraded:    storeErr != nil,
		GeneratedAt: time.Now(),
	}
	h.statsCache.Set(liveStatsCacheKey, payload, 0)
	response.Success(c, "live stats", payload)
}

// GetCall returns a single call: the live in-memory session while the call is
// active, the durable projection afterwards.
func (h *Handlers) GetCall(c *gin.Context) {
	callID := c.Param("callId")

	if sess, ok := h.recorder.Session(callID); ok {
		response.Success(c, "live call", gin.H{"live": true, "session": sess})
		return
	}

	var call models.Call
	err := h.db.Preload("Metrics").Preload("Transcripts").
		Where("call_id = ?", callID).First(&call).Error
	if err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "call not found", gin.H{"callId": callID})
		return
	}
	response.Success(c, "call", gin.H{"live": false, "call": call})
}

// ListCalls pages through durable calls, newest first.
func (h *Handlers) ListCalls(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	query := h.db.Model(&models.Call{}).Order("start_time DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to count calls", nil)
		return
	}

	var calls []models.Call
	if err := query.Limit(limit).Offset(offset).Find(&calls).Error; err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to list calls", nil)
		return
	}
	response.Success(c, "calls", gin.H{"total": total, "calls": calls})
}
