package tasks

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"medfinder/internal/config"
	"medfinder/internal/utils/logger"
)

type registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// Scheduler handles periodic task scheduling
type Scheduler struct {
	scheduler *asynq.Scheduler
	usage     config.UsageConfig
	logger    *logger.Logger
}

// NewScheduler creates a new task scheduler
func NewScheduler(redis config.RedisConfig, usage config.UsageConfig, logger *logger.Logger) *Scheduler {
	return &Scheduler{
		scheduler: asynq.NewScheduler(redisOpt(redis), &asynq.SchedulerOpts{}),
		usage:     usage,
		logger:    logger,
	}
}

// Start registers periodic tasks and blocks running the scheduler.
func (s *Scheduler) Start() error {
	n, err := registerTasks(s.scheduler, s.usage, s.logger)
	if err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}
	if n == 0 {
		s.logger.Info("no periodic tasks enabled")
	}

	s.logger.Info("starting task scheduler")
	return s.scheduler.Run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
	s.logger.Info("task scheduler stopped")
}

// registerTasks registers all periodic tasks and returns how many it added.
// The usage sweep is only scheduled when a stale-reservation TTL is set.
func registerTasks(r registrar, usage config.UsageConfig, log *logger.Logger) (int, error) {
	if usage.StaleReservationTTL <= 0 {
		return 0, nil
	}

	next, err := NextRun(usage.SweepSpec, time.Now())
	if err != nil {
		return 0, err
	}
	entryID, err := r.Register(usage.SweepSpec, asynq.NewTask(TaskTypeUsageSweep, nil), usageSweepOptions()...)
	if err != nil {
		return 0, fmt.Errorf("failed to register %s: %w", TaskTypeUsageSweep, err)
	}

	log.Info("registered %s %s %s, next run %s", TaskTypeUsageSweep, usage.SweepSpec, entryID, next.Format(time.RFC3339))
	return 1, nil
}
