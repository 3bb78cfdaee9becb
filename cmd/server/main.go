package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vaani-labs/voicemetrics/cmd/bootstrap"
	handlers "github.com/vaani-labs/voicemetrics/internal/handler"
	"github.com/vaani-labs/voicemetrics/pkg/config"
	"github.com/vaani-labs/voicemetrics/pkg/logger"
	"github.com/vaani-labs/voicemetrics/pkg/metrics"
	"github.com/vaani-labs/voicemetrics/pkg/middleware"
	"github.com/vaani-labs/voicemetrics/pkg/reconcile"
	"github.com/vaani-labs/voicemetrics/pkg/store"
	"github.com/vaani-labs/voicemetrics/pkg/telemetry"
)

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	initSQL := flag.String("init-sql", "", "path to database init .sql script (optional)")
	flag.Parse()

	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 2. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}

	// 3. Load Log Configuration
	if err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 4. Print Configuration
	bootstrap.LogConfigInfo()

	// 5. Load Data Source
	db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{
		InitSQLPath: *initSQL,
		AutoMigrate: true,
	})
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}

	// 6. Connect Ephemeral Store
	// When Redis is unreachable the call plane still records in memory; data
	// then lives only until restart and the sync daemon sees nothing.
	var st store.EphemeralStore
	redisStore := store.NewRedisStore(config.GlobalConfig.Redis, config.GlobalConfig.StoreTimeout)
	if err := redisStore.Ping(context.Background()); err != nil {
		logger.Warn("redis unreachable, falling back to in-memory store", zap.Error(err))
		redisStore.Close()
		st = store.NewMemoryStore()
	} else {
		st = redisStore
	}
	defer st.Close()

	// 7. Build Recorder and Reconciliation Engine
	recorder := telemetry.NewRecorder(st, telemetry.RecorderConfig{
		AgentName:        config.GlobalConfig.ServerName,
		CallTTL:          config.GlobalConfig.CallTTL,
		CompletedTTL:     config.GlobalConfig.CompletedTTL,
		CompletedMaxLen:  config.GlobalConfig.CompletedMaxLen,
		LatencyWarnAbove: config.GlobalConfig.LatencyWarnAbove,
	})
	metrics.RegisterActiveCalls(func() float64 {
		return float64(recorder.ActiveCalls())
	})

	engine := reconcile.NewEngine(db, st, reconcile.Config{
		Source:       "manual_sync",
		MaxRetries:   config.GlobalConfig.SyncMaxRetries,
		RetryBackoff: config.GlobalConfig.SyncRetryBase,
		DBTimeout:    config.GlobalConfig.DBTimeout,
	})

	// 8. Initialize Gin Routing
	if config.GlobalConfig.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(logger.Lg))
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	handlers.NewHandlers(db, st, recorder, engine).Register(r)
	metrics.Route(r, config.GlobalConfig.APIPrefix+config.GlobalConfig.MonitorPrefix)

	// 9. Start HTTP Server
	addr := config.GlobalConfig.Addr
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server run failed", zap.Error(err))
	}
}
