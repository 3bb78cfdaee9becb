package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vaani-labs/voicemetrics/internal/models"
	"github.com/vaani-labs/voicemetrics/pkg/reconcile"
	"github.com/vaani-labs/voicemetrics/pkg/response"
)

func (h *Handlers) registerSyncRoutes(r *gin.RouterGroup) {
	sync := r.Group("/sync")
	sync.POST("/run", h.RunSync)
	sync.POST("/calls/:callId", h.SyncCall)
	sync.GET("/status", h.GetSyncStatus)
}

// RunSync triggers a full reconciliation pass and waits for it. Manual runs
// share the engine with the scheduler, so they are just as idempotent.
func (h *Handlers) RunSync(c *gin.Context) {
	report, err := h.engine.SyncAll(c.Request.Context())
	if err != nil {
		response.FailWithStatus(c, http.StatusBadGateway, "sync pass aborted", gin.H{
			"report": report,
			"error":  err.Error(),
		})
		return
	}
	response.Success(c, "sync pass finished", report)
}

// SyncCall syncs one candidate on demand. A candidate sitting in its retry
// backoff window is reported as deferred, not failed; force=true attempts it
// anyway, ignoring the window and a spent retry budget.
func (h *Handlers) SyncCall(c *gin.Context) {
	callID := c.Param("callId")
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	var res reconcile.Result
	if force {
		res = h.engine.ForceSyncOne(c.Request.Context(), callID)
	} else {
		res = h.engine.SyncOne(c.Request.Context(), callID)
	}
	switch {
	case res.Success:
		response.Success(c, "call synced", res)
	case res.Skipped:
		response.FailWithStatus(c, http.StatusConflict, "sync deferred until retry window passes, use force=true to override", res)
	default:
		response.FailWithStatus(c, http.StatusBadGateway, "sync failed", res)
	}
}

// GetSyncStatus lists recent ledger rows, optionally narrowed to one room.
func (h *Handlers) GetSyncStatus(c *gin.Context) {
	if roomID := c.Query("roomId"); roomID != "" {
		status, err := models.LatestSyncStatus(h.db, roomID, models.SyncTypeCombined)
		if err != nil {
			response.FailWithStatus(c, http.StatusInternalServerError, "failed to read sync ledger", nil)
			return
		}
		if status == nil {
			response.FailWithStatus(c, http.StatusNotFound, "no sync attempts for room", gin.H{"roomId": roomID})
			return
		}
		response.Success(c, "sync status", status)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	statuses, err := models.RecentSyncStatuses(h.db, limit)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to read sync ledger", nil)
		return
	}
	response.Success(c, "sync statuses", statuses)
}
