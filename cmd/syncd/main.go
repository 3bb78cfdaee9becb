package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vaani-labs/voicemetrics/cmd/bootstrap"
	"github.com/vaani-labs/voicemetrics/internal/task"
	"github.com/vaani-labs/voicemetrics/pkg/config"
	"github.com/vaani-labs/voicemetrics/pkg/logger"
	"github.com/vaani-labs/voicemetrics/pkg/reconcile"
	"github.com/vaani-labs/voicemetrics/pkg/store"
)

// syncd is the background reconciliation daemon. It shares nothing with the
// call plane except the ephemeral store and the durable database, so it can
// run on a different host and restart freely.
func main() {
	mode := flag.String("mode", "", "running environment (development, test, production)")
	flag.Parse()

	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	if err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	bootstrap.LogConfigInfo()

	db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{AutoMigrate: true})
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}

	st := store.NewRedisStore(config.GlobalConfig.Redis, config.GlobalConfig.StoreTimeout)
	if err := st.Ping(context.Background()); err != nil {
		logger.Error("redis unreachable, nothing to sync", zap.Error(err))
		return
	}
	defer st.Close()

	engine := reconcile.NewEngine(db, st, reconcile.Config{
		Source:       "auto_sync",
		MaxRetries:   config.GlobalConfig.SyncMaxRetries,
		RetryBackoff: config.GlobalConfig.SyncRetryBase,
		DBTimeout:    config.GlobalConfig.DBTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := task.StartSyncRunner(ctx, engine, config.GlobalConfig.SyncInterval)

	<-ctx.Done()
	logger.Info("shutdown signal received, waiting for in-flight sync to finish")
	<-runner.Stop().Done()
	logger.Info("sync daemon stopped")
}
