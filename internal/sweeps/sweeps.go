// Package sweeps schedules the periodic background passes (automation
// replay, reminder processing, day-offset registration reminders) on a
// shared cron runner. Every sweep runs under a distributed lock so multiple
// worker processes share a schedule without double-processing a tick.
package sweeps

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/hubwire/comms-core/internal/pkg/distlock"
	"github.com/hubwire/comms-core/internal/pkg/logger"
)

// Sweep is one recurring background pass.
type Sweep struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Runner owns the cron schedule and the per-sweep locks.
type Runner struct {
	cron  *cron.Cron
	redis *redis.Client
	db    *sql.DB
}

// NewRunner creates a sweep runner. redisClient may be nil; locks then fall
// back to PostgreSQL advisory locks.
func NewRunner(redisClient *redis.Client, db *sql.DB) *Runner {
	return &Runner{
		cron:  cron.New(),
		redis: redisClient,
		db:    db,
	}
}

// Register adds a sweep to the schedule. The lock lease is sized to the
// sweep interval by the lock itself.
func (r *Runner) Register(s Sweep) {
	lock := distlock.NewLock(r.redis, r.db, s.Name, s.Every)

	r.cron.Schedule(cron.Every(s.Every), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.Every)
		defer cancel()

		acquired, err := lock.Acquire(ctx)
		if err != nil {
			logger.Error("sweep lock error", "sweep", s.Name, "error", err.Error())
			return
		}
		if !acquired {
			logger.Debug("sweep skipped, lock held elsewhere", "sweep", s.Name)
			return
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("sweep lock release failed", "sweep", s.Name, "error", err.Error())
			}
		}()

		start := time.Now()
		if err := s.Run(ctx); err != nil {
			logger.Error("sweep failed", "sweep", s.Name, "error", err.Error())
			return
		}
		logger.Debug("sweep finished", "sweep", s.Name,
			"duration_ms", time.Since(start).Milliseconds())
	}))
}

// Start begins running the schedule in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for in-flight sweeps to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
