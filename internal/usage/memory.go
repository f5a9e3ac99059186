package usage

import (
	"context"
	"sync"
	"time"

	"medfinder/internal/models"
)

// MemoryStore is a Store held in process memory. A single mutex serializes
// transitions, which gives the same per-user atomicity as the row lock in
// the database store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.AIUsage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.AIUsage)}
}

func (s *MemoryStore) Transition(ctx context.Context, userID string, fn TransitionFunc) (models.AIUsage, error) {
	if err := ctx.Err(); err != nil {
		return models.AIUsage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[userID]
	if !exists {
		rec = models.AIUsage{UserID: userID}
	}
	if fn(&rec, exists) {
		if rec.PendingMessages < 0 {
			rec.PendingMessages = 0
		}
		s.records[userID] = rec
	}
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (models.AIUsage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return models.AIUsage{UserID: userID}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.records {
		if rec.PendingMessages > 0 && rec.LastReservedAt != nil && rec.LastReservedAt.Before(cutoff) {
			rec.PendingMessages = 0
			s.records[id] = rec
			n++
		}
	}
	return n, nil
}
