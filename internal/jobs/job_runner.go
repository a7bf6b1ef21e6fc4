package jobs

import (
	"context"
	"fmt"
	"time"

	"cark-backend/internal/config"
	"cark-backend/internal/logger"
	"cark-backend/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	services *Services
	locker   Locker
	config   *config.Config
	now      func() time.Time
}

// Services holds all service dependencies needed by jobs
type Services struct {
	SelfDrive service.SelfDriveService
}

// NewJobRunner creates a new job runner. A nil locker runs every job without
// coordination between replicas.
func NewJobRunner(services *Services, locker Locker, cfg *config.Config) *JobRunner {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &JobRunner{
		services: services,
		locker:   locker,
		config:   cfg,
		now:      time.Now,
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

func (jr *JobRunner) lockTTL() time.Duration {
	if jr.config == nil {
		return 4 * time.Minute
	}
	return jr.config.LockTTL()
}

// runWithRecovery wraps job execution with the job lock and panic recovery.
// It returns false when another replica holds the lock.
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (ran bool, err error) {
	log := logger.WithJob(jobName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.lockTTL())
	defer cancel()

	release, acquired, err := jr.locker.Acquire(ctx, "cark:jobs:"+jobName, jr.lockTTL())
	if err != nil {
		log.Error("Failed to acquire job lock", "error", err)
		return false, err
	}
	if !acquired {
		log.Info("Job lock held elsewhere, skipping")
		return false, nil
	}
	defer release()

	log.Info("Starting job")
	start := time.Now()
	if err := jobFunc(ctx); err != nil {
		log.Error("Job failed", "error", err, "duration", time.Since(start))
		return true, err
	}
	log.Info("Job completed", "duration", time.Since(start))
	return true, nil
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.CancelExpiredDeposits()
}
