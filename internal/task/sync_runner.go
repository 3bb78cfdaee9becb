package task

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vaani-labs/voicemetrics/pkg/logger"
	"github.com/vaani-labs/voicemetrics/pkg/reconcile"
)

// StartSyncRunner runs a full reconciliation pass immediately and then on a
// fixed schedule. Cancelling ctx lets an in-flight candidate finish and stops
// the pass before the next one; Stop on the returned cron prevents further
// passes.
func StartSyncRunner(ctx context.Context, engine *reconcile.Engine, interval time.Duration) *cron.Cron {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	run := func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := engine.SyncAll(ctx); err != nil {
			logger.Error("scheduled sync pass aborted", zap.Error(err))
		}
	}

	logger.Info("executing sync pass at startup")
	run()

	c := cron.New()
	schedule := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(schedule, run); err != nil {
		logger.Error("failed to schedule sync runner", zap.Error(err))
		return c
	}
	c.Start()

	logger.Info("sync runner started", zap.String("schedule", schedule))
	return c
}
