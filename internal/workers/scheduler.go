package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/util"
)

// Job is a schedulable unit of work. Errors are logged, not fatal; the
// next tick runs regardless.
type Job func(ctx context.Context) error

// Scheduler drives the recurring jobs from cron expressions. Overlapping
// runs of the same job are skipped rather than queued: a slow mailbox
// pass must not stack behind itself.
type Scheduler struct {
	cron *cron.Cron
	cfg  *config.SchedulerConfig
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func NewScheduler(cfg *config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cronParser)),
		cfg:  cfg,
	}
}

// Register adds the pipeline and scan jobs under their configured
// schedules. Invalid expressions are a configuration error and fail
// startup.
func (s *Scheduler) Register(ctx context.Context, process, scan Job) error {
	if err := s.add(ctx, "process", s.cfg.ProcessSchedule, process); err != nil {
		return err
	}
	return s.add(ctx, "scan", s.cfg.ScanSchedule, scan)
}

func (s *Scheduler) add(ctx context.Context, name, schedule string, job Job) error {
	if schedule == "" || job == nil {
		util.Info("job not scheduled", "job", name)
		return nil
	}

	var running sync.Mutex
	_, err := s.cron.AddFunc(schedule, func() {
		if !running.TryLock() {
			util.Warn("previous run still in progress, skipping", "job", name)
			return
		}
		defer running.Unlock()

		util.Info("scheduled job firing", "job", name)
		if err := job(ctx); err != nil {
			util.Error("scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
	}
	util.Info("job scheduled", "job", name, "schedule", schedule)
	return nil
}

// Run starts the cron ticker and blocks until ctx is cancelled, then
// waits for in-flight jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
