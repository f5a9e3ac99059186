package billing

import (
	"context"

	"medfinder/internal/events"
	console "medfinder/internal/utils/logger"
)

var log = console.New("BILLING")

// TrackPayload is one usage report.
type TrackPayload struct {
	CustomerID string                 `json:"customerId"`
	Value      float64                `json:"value"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Tracker reports paid usage. Track never returns an error: a failed report
// is logged and announced on the event bus, and the generation that
// produced it still succeeds.
type Tracker interface {
	Track(ctx context.Context, p TrackPayload)
}

type Reporter interface {
	Track(ctx context.Context, customerID string, value float64, properties map[string]interface{}) error
}

// SyncTracker calls the provider inline.
type SyncTracker struct {
	reporter Reporter
	bus      *events.EventBus
}

func NewSyncTracker(reporter Reporter, bus *events.EventBus) *SyncTracker {
	if bus == nil {
		bus = events.Default()
	}
	return &SyncTracker{reporter: reporter, bus: bus}
}

func (t *SyncTracker) Track(ctx context.Context, p TrackPayload) {
	if err := t.reporter.Track(ctx, p.CustomerID, p.Value, p.Properties); err != nil {
		_ = log.Error("Failed to track usage for %s", err, p.CustomerID)
		t.bus.Emit(events.BillingTrackFailed, p)
	}
}

// Enqueuer hands a payload to the background worker.
type Enqueuer interface {
	EnqueueBillingTrack(ctx context.Context, p TrackPayload) error
}

// QueueTracker enqueues reports for the worker, which retries them. If the
// enqueue itself fails it falls back to an inline call.
type QueueTracker struct {
	queue    Enqueuer
	fallback Tracker
}

func NewQueueTracker(queue Enqueuer, fallback Tracker) *QueueTracker {
	return &QueueTracker{queue: queue, fallback: fallback}
}

func (t *QueueTracker) Track(ctx context.Context, p TrackPayload) {
	if err := t.queue.EnqueueBillingTrack(ctx, p); err != nil {
		log.Warn("Failed to enqueue usage report for %s, tracking inline: %v", p.CustomerID, err)
		if t.fallback != nil {
			t.fallback.Track(ctx, p)
		}
	}
}

// NopTracker drops reports. It stands in when billing is not configured.
type NopTracker struct{}

func (NopTracker) Track(context.Context, TrackPayload) {}
