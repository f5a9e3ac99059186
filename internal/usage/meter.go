// Package usage meters AI generations per user with a reserve, complete,
// release cycle. Every transition is one atomic read-modify-write of the
// user's usage record.
package usage

import (
	"context"
	"time"

	"medfinder/internal/models"
)

// Mode selects whether the free quota gates a reservation.
type Mode string

const (
	ModeFree Mode = "free"
	ModePaid Mode = "paid"
)

// Reason is a typed, non-exceptional outcome.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonFreeLimitExhausted   Reason = "free_limit_exhausted"
	ReasonNoPendingReservation Reason = "no_pending_reservation"
	ReasonUpgradeRequired      Reason = "upgrade_required"
	ReasonAutumnCheckFailed    Reason = "autumn_check_failed"
	ReasonReservationFailed    Reason = "reservation_failed"
)

// Snapshot is the quota state returned with every result.
type Snapshot struct {
	MessagesUsed          int        `json:"messagesUsed"`
	PendingMessages       int        `json:"pendingMessages"`
	FreeMessagesRemaining int        `json:"freeMessagesRemaining"`
	FreeLimit             int        `json:"freeLimit"`
	LastReservedAt        *time.Time `json:"lastReservedAt,omitempty"`
	LastCompletedAt       *time.Time `json:"lastCompletedAt,omitempty"`
}

// Result reports a transition. OK is false exactly when Reason is set.
type Result struct {
	OK     bool     `json:"ok"`
	Reason Reason   `json:"reason,omitempty"`
	Usage  Snapshot `json:"usage"`
}

// TransitionFunc mutates rec in place and reports whether it should be
// persisted. exists is false for a user with no record; rec is then a zero
// record with UserID set and is only inserted when the func returns true.
type TransitionFunc func(rec *models.AIUsage, exists bool) bool

// Store persists usage records. Transition must run fn and the write as one
// atomic step per user.
type Store interface {
	Transition(ctx context.Context, userID string, fn TransitionFunc) (models.AIUsage, error)
	Get(ctx context.Context, userID string) (models.AIUsage, bool, error)
	SweepStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type Meter struct {
	store Store
	now   func() time.Time
}

// NewMeter returns a meter over store. A nil clock means time.Now.
func NewMeter(store Store, clock func() time.Time) *Meter {
	if clock == nil {
		clock = time.Now
	}
	return &Meter{store: store, now: clock}
}

// Reserve takes one unit for an in-flight generation. In free mode it fails
// with ReasonFreeLimitExhausted when used plus pending reaches freeLimit,
// leaving the record untouched. Paid mode skips the gate.
func (m *Meter) Reserve(ctx context.Context, userID string, freeLimit int, mode Mode) (Result, error) {
	now := m.now()
	reason := ReasonNone

	rec, err := m.store.Transition(ctx, userID, func(rec *models.AIUsage, exists bool) bool {
		if mode == ModeFree && rec.MessagesUsed+rec.PendingMessages >= freeLimit {
			reason = ReasonFreeLimitExhausted
			return false
		}
		rec.PendingMessages++
		rec.LastReservedAt = &now
		return true
	})
	if err != nil {
		return Result{}, err
	}
	return newResult(reason, rec, freeLimit), nil
}

// Complete converts one reservation into a used message.
func (m *Meter) Complete(ctx context.Context, userID string, freeLimit int) (Result, error) {
	now := m.now()
	return m.settle(ctx, userID, freeLimit, func(rec *models.AIUsage) {
		rec.MessagesUsed++
		rec.LastCompletedAt = &now
	})
}

// Release discards one reservation without charging it.
func (m *Meter) Release(ctx context.Context, userID string, freeLimit int) (Result, error) {
	return m.settle(ctx, userID, freeLimit, func(*models.AIUsage) {})
}

func (m *Meter) settle(ctx context.Context, userID string, freeLimit int, apply func(*models.AIUsage)) (Result, error) {
	reason := ReasonNone

	rec, err := m.store.Transition(ctx, userID, func(rec *models.AIUsage, exists bool) bool {
		if !exists || rec.PendingMessages <= 0 {
			reason = ReasonNoPendingReservation
			return false
		}
		rec.PendingMessages--
		apply(rec)
		return true
	})
	if err != nil {
		return Result{}, err
	}
	return newResult(reason, rec, freeLimit), nil
}

// Current returns the caller's usage without mutating it. A user with no
// record reports zero usage.
func (m *Meter) Current(ctx context.Context, userID string, freeLimit int) (Snapshot, error) {
	rec, _, err := m.store.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(rec, freeLimit), nil
}

// SweepStale zeroes reservations last taken more than ttl ago.
func (m *Meter) SweepStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return m.store.SweepStale(ctx, m.now().Add(-ttl))
}

// NewSnapshot derives the quota view of rec.
func NewSnapshot(rec models.AIUsage, freeLimit int) Snapshot {
	remaining := freeLimit - (rec.MessagesUsed + rec.PendingMessages)
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		MessagesUsed:          rec.MessagesUsed,
		PendingMessages:       rec.PendingMessages,
		FreeMessagesRemaining: remaining,
		FreeLimit:             freeLimit,
		LastReservedAt:        rec.LastReservedAt,
		LastCompletedAt:       rec.LastCompletedAt,
	}
}

func newResult(reason Reason, rec models.AIUsage, freeLimit int) Result {
	return Result{
		OK:     reason == ReasonNone,
		Reason: reason,
		Usage:  NewSnapshot(rec, freeLimit),
	}
}
