package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"medfinder/internal/billing"
	"medfinder/internal/events"
	"medfinder/internal/utils/logger"
)

type Sweeper interface {
	SweepStale(ctx context.Context, ttl time.Duration) (int64, error)
}

// TaskHandler processes queued tasks.
type TaskHandler struct {
	reporter billing.Reporter
	sweeper  Sweeper
	ttl      time.Duration
	bus      *events.EventBus
	logger   *logger.Logger
}

// NewTaskHandler creates a new TaskHandler. A zero ttl turns sweeps into
// no-ops.
func NewTaskHandler(reporter billing.Reporter, sweeper Sweeper, ttl time.Duration, bus *events.EventBus) *TaskHandler {
	if bus == nil {
		bus = events.Default()
	}
	return &TaskHandler{
		reporter: reporter,
		sweeper:  sweeper,
		ttl:      ttl,
		bus:      bus,
		logger:   logger.New("task_handler"),
	}
}

// HandleBillingTrack reports one paid message. Provider errors are returned
// so asynq retries them; a malformed payload is dropped.
func (h *TaskHandler) HandleBillingTrack(ctx context.Context, t *asynq.Task) error {
	var p billing.TrackPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskTypeBillingTrack, err, asynq.SkipRetry)
	}
	if p.CustomerID == "" {
		return fmt.Errorf("%s payload has no customer: %w", TaskTypeBillingTrack, asynq.SkipRetry)
	}

	if err := h.reporter.Track(ctx, p.CustomerID, p.Value, p.Properties); err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		if lastAttempt(ctx) {
			h.bus.Emit(events.BillingTrackFailed, p)
		}
		return h.logger.Error("Billing report for %s failed (attempt %d)", err, p.CustomerID, retried+1)
	}

	h.logger.Debug("Reported %.0f message(s) for %s", p.Value, p.CustomerID)
	return nil
}

// HandleUsageSweep releases reservations older than the configured TTL.
func (h *TaskHandler) HandleUsageSweep(ctx context.Context, _ *asynq.Task) error {
	if h.ttl <= 0 || h.sweeper == nil {
		return nil
	}
	n, err := h.sweeper.SweepStale(ctx, h.ttl)
	if err != nil {
		return h.logger.Error("Usage sweep failed", err)
	}
	if n > 0 {
		h.logger.Warn("Released stale reservations on %d usage record(s)", n)
	}
	return nil
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}
