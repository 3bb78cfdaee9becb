package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vaani-labs/voicemetrics/pkg/cache"
	"github.com/vaani-labs/voicemetrics/pkg/config"
	"github.com/vaani-labs/voicemetrics/pkg/reconcile"
	"github.com/vaani-labs/voicemetrics/pkg/store"
	"github.com/vaani-labs/voicemetrics/pkg/telemetry"
)

// Handlers wires the ingest, dashboard and sync admin endpoints.
type Handlers struct {
	db          *gorm.DB
	store       store.EphemeralStore
	recorder    *telemetry.Recorder
	correlators *telemetry.Correlators
	engine      *reconcile.Engine
	statsCache  cache.Cache
}

func NewHandlers(db *gorm.DB, st store.EphemeralStore, recorder *telemetry.Recorder, engine *reconcile.Engine) *Handlers {
	return &Handlers{
		db:          db,
		store:       st,
		recorder:    recorder,
		correlators: telemetry.NewCorrelators(recorder),
		engine:      engine,
		statsCache:  cache.NewLocal(config.GlobalConfig.StatsCacheTTL),
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)

	r := engine.Group(config.GlobalConfig.APIPrefix)

	h.registerEventRoutes(r)
	h.registerStatsRoutes(r)
	h.registerSyncRoutes(r)
}
