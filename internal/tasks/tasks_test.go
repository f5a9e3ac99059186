package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"medfinder/internal/billing"
	"medfinder/internal/config"
	"medfinder/internal/events"
	"medfinder/internal/utils/logger"
)

type fakeReporter struct {
	calls []billing.TrackPayload
	err   error
}

func (f *fakeReporter) Track(_ context.Context, customerID string, value float64, props map[string]interface{}) error {
	f.calls = append(f.calls, billing.TrackPayload{CustomerID: customerID, Value: value, Properties: props})
	return f.err
}

type fakeSweeper struct {
	ttl time.Duration
	n   int64
	err error
}

func (f *fakeSweeper) SweepStale(_ context.Context, ttl time.Duration) (int64, error) {
	f.ttl = ttl
	return f.n, f.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: QueueCritical}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeRegistrar struct {
	specs []string
	types []string
}

func (f *fakeRegistrar) Register(spec string, task *asynq.Task, _ ...asynq.Option) (string, error) {
	f.specs = append(f.specs, spec)
	f.types = append(f.types, task.Type())
	return "entry-1", nil
}

func TestEnqueueBillingTrackRoundTrip(t *testing.T) {
	q := &fakeEnqueuer{}
	client := &TaskClient{client: q, logger: logger.New("TEST")}

	p := billing.TrackPayload{CustomerID: "u1", Value: 1, Properties: map[string]interface{}{"responseId": "r1"}}
	if err := client.EnqueueBillingTrack(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(q.tasks) != 1 || q.tasks[0].Type() != TaskTypeBillingTrack {
		t.Fatalf("tasks = %v", q.tasks)
	}

	reporter := &fakeReporter{}
	h := NewTaskHandler(reporter, nil, 0, events.NewEventBus())
	if err := h.HandleBillingTrack(context.Background(), q.tasks[0]); err != nil {
		t.Fatal(err)
	}
	if len(reporter.calls) != 1 || reporter.calls[0].CustomerID != "u1" || reporter.calls[0].Properties["responseId"] != "r1" {
		t.Errorf("calls = %+v", reporter.calls)
	}
}

func TestEnqueueBillingTrackError(t *testing.T) {
	boom := errors.New("redis down")
	client := &TaskClient{client: &fakeEnqueuer{err: boom}, logger: logger.New("TEST")}
	if err := client.EnqueueBillingTrack(context.Background(), billing.TrackPayload{CustomerID: "u1"}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestHandleBillingTrackErrors(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("503")}
	h := NewTaskHandler(reporter, nil, 0, events.NewEventBus())

	payload, _ := json.Marshal(billing.TrackPayload{CustomerID: "u1", Value: 1})
	if err := h.HandleBillingTrack(context.Background(), asynq.NewTask(TaskTypeBillingTrack, payload)); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Errorf("provider failure must be retried, err = %v", err)
	}

	bad := asynq.NewTask(TaskTypeBillingTrack, []byte("{"))
	if err := h.HandleBillingTrack(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload err = %v", err)
	}

	empty, _ := json.Marshal(billing.TrackPayload{})
	if err := h.HandleBillingTrack(context.Background(), asynq.NewTask(TaskTypeBillingTrack, empty)); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("empty customer err = %v", err)
	}
	if len(reporter.calls) != 1 {
		t.Errorf("reporter called %d times", len(reporter.calls))
	}
}

func TestHandleUsageSweep(t *testing.T) {
	sw := &fakeSweeper{n: 2}
	h := NewTaskHandler(&fakeReporter{}, sw, 10*time.Minute, nil)
	if err := h.HandleUsageSweep(context.Background(), asynq.NewTask(TaskTypeUsageSweep, nil)); err != nil {
		t.Fatal(err)
	}
	if sw.ttl != 10*time.Minute {
		t.Errorf("ttl = %v", sw.ttl)
	}

	disabled := &fakeSweeper{}
	h = NewTaskHandler(&fakeReporter{}, disabled, 0, nil)
	_ = h.HandleUsageSweep(context.Background(), nil)
	if disabled.ttl != 0 {
		t.Error("sweep ran with zero ttl")
	}

	failing := &fakeSweeper{err: errors.New("db")}
	h = NewTaskHandler(&fakeReporter{}, failing, time.Minute, nil)
	if err := h.HandleUsageSweep(context.Background(), nil); err == nil {
		t.Error("expected sweep error")
	}
}

func TestRegisterTasks(t *testing.T) {
	log := logger.New("TEST")

	r := &fakeRegistrar{}
	n, err := registerTasks(r, config.UsageConfig{SweepSpec: "*/15 * * * *"}, log)
	if err != nil || n != 0 || len(r.specs) != 0 {
		t.Errorf("disabled sweep registered: n=%d err=%v", n, err)
	}

	n, err = registerTasks(r, config.UsageConfig{StaleReservationTTL: time.Hour, SweepSpec: "*/15 * * * *"}, log)
	if err != nil || n != 1 || r.types[0] != TaskTypeUsageSweep {
		t.Errorf("n=%d err=%v types=%v", n, err, r.types)
	}

	if _, err := registerTasks(&fakeRegistrar{}, config.UsageConfig{StaleReservationTTL: time.Hour, SweepSpec: "every minute"}, log); err == nil {
		t.Error("invalid cron spec accepted")
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)
	next, err := NextRun("*/15 * * * *", now)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}
