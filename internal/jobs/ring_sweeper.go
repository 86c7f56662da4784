package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"peercall-backend/pkg/logger"
)

// Sweeper is the part of the call service the job needs: reconcile ringing
// calls whose persisted deadline has passed. In-process timers handle the
// common case; the sweep catches calls orphaned by a crash or restart.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// RingSweeper periodically reclaims expired ringing calls.
type RingSweeper struct {
	sweeper   Sweeper
	interval  time.Duration
	batchSize int
}

// NewRingSweeper creates a ring sweeper job.
func NewRingSweeper(sweeper Sweeper, interval time.Duration, batchSize int) *RingSweeper {
	return &RingSweeper{
		sweeper:   sweeper,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run sweeps on a ticker until ctx is canceled. One sweep runs immediately
// on start so calls orphaned before the restart are reclaimed right away.
func (j *RingSweeper) Run(ctx context.Context) {
	logger.Info("Ring sweeper started",
		zap.Duration("interval", j.interval),
		zap.Int("batch_size", j.batchSize))

	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Ring sweeper stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *RingSweeper) sweep(ctx context.Context) {
	reclaimed, err := j.sweeper.SweepExpired(ctx, time.Now(), j.batchSize)
	if err != nil {
		logger.Error("Ring sweep failed", zap.Error(err))
		return
	}
	if reclaimed > 0 {
		logger.Info("Ring sweep reclaimed expired calls", zap.Int("count", reclaimed))
	}
}
