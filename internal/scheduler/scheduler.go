package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"cark-backend/internal/jobs"
	"cark-backend/internal/logger"
)

// Scheduler runs the job runner's sweeps on their cron specs
type Scheduler struct {
	cron    *cron.Cron
	jobs    *jobs.JobRunner
	entries map[string]cron.EntryID
}

type scheduledJob struct {
	name string
	spec string
	run  func()
}

// NewScheduler registers every job with a valid spec. Jobs whose spec does
// not parse are logged and left out.
func NewScheduler(jobRunner *jobs.JobRunner) *Scheduler {
	// UTC with seconds precision
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
		jobs:    jobRunner,
		entries: make(map[string]cron.EntryID),
	}
	for _, job := range s.schedule() {
		s.register(job)
	}
	logger.Info("Cron jobs registered", "count", len(s.entries))
	return s
}

func (s *Scheduler) schedule() []scheduledJob {
	cfg := s.jobs.Config().Scheduler
	return []scheduledJob{
		{name: jobs.CancelExpiredDepositsJob, spec: cfg.CancelExpiredDeposits, run: s.jobs.CancelExpiredDeposits},
	}
}

func (s *Scheduler) register(job scheduledJob) {
	id, err := s.cron.AddFunc(job.spec, job.run)
	if err != nil {
		logger.Error("Failed to register cron job", "job", job.name, "spec", job.spec, "error", err)
		return
	}
	s.entries[job.name] = id
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for name, id := range s.entries {
		logger.Info("Cron job scheduled", "job", name, "next", s.cron.Entry(id).Next)
	}
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Cron scheduler stopped")
}

// JobCount returns the number of registered jobs
func (s *Scheduler) JobCount() int {
	return len(s.entries)
}
