package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	s.calls.Add(1)
	return 0, nil
}

func TestRingSweeper_SweepsImmediatelyOnStart(t *testing.T) {
	sweeper := &countingSweeper{}
	job := NewRingSweeper(sweeper, time.Hour, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRingSweeper_SweepsOnTicker(t *testing.T) {
	sweeper := &countingSweeper{}
	job := NewRingSweeper(sweeper, 20*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
