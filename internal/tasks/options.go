package tasks

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

func billingTrackOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(RetryMax),
		asynq.Timeout(TimeoutShort),
	}
}

func usageSweepOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueLow),
		asynq.MaxRetry(RetryDefault),
		asynq.Timeout(TimeoutMedium),
		// One sweep at a time even if a run overlaps the next tick.
		asynq.Unique(TimeoutMedium),
	}
}

// NextRun validates a standard five-field cron expression and returns the
// next activation after now.
func NextRun(expr string, now time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron spec %q: %w", expr, err)
	}
	return schedule.Next(now), nil
}
