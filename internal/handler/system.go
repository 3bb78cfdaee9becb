package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vaani-labs/voicemetrics/pkg/store"
)

// HealthCheck reports liveness of the durable and ephemeral stores. The
// ephemeral store being down degrades but does not fail the check: the call
// plane keeps recording in memory.
func (h *Handlers) HealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	storeStatus := "ok"
	if _, err := h.store.ListKeys(c.Request.Context(), store.CallKeyPattern); err != nil {
		storeStatus = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "ephemeralStore": storeStatus})
}
