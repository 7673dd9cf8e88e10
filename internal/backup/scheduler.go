package backup

import (
	"context"
	"log/slog"
	"time"

	"github.com/AlexZinkM/paygate/internal/logging"
)

// Job is one periodic maintenance task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs its jobs in order on every tick until its context ends.
type Scheduler struct {
	interval time.Duration
	jobs     []Job
	log      *slog.Logger
}

// NewScheduler creates a scheduler. A non-positive interval defaults to six hours.
func NewScheduler(interval time.Duration, log *slog.Logger, jobs ...Job) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Scheduler{interval: interval, jobs: jobs, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job once. A failing job is logged and does not stop the rest.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.log.Error("scheduled job failed", "job", job.Name, "error", err.Error())
			continue
		}
		s.log.Debug("scheduled job finished", "job", job.Name, "elapsed", time.Since(start).String())
	}
}
