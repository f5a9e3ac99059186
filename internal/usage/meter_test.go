package usage

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"medfinder/internal/models"
)

func newTestMeter() (*Meter, *MemoryStore, *time.Time) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewMemoryStore()
	return NewMeter(store, func() time.Time { return now }), store, &now
}

// must fails the test on a transition error and returns the result.
func must(t *testing.T) func(Result, error) Result {
	return func(res Result, err error) Result {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return res
	}
}

func TestReserveCreatesRecordLazily(t *testing.T) {
	m, store, now := newTestMeter()
	ctx := context.Background()

	if _, found, _ := store.Get(ctx, "u1"); found {
		t.Fatal("record exists before first reservation")
	}

	res := must(t)(m.Reserve(ctx, "u1", 10, ModeFree))
	if !res.OK || res.Reason != ReasonNone {
		t.Fatalf("reserve failed: %+v", res)
	}
	if res.Usage.PendingMessages != 1 || res.Usage.MessagesUsed != 0 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.Usage.FreeMessagesRemaining != 9 {
		t.Errorf("remaining = %d, want 9", res.Usage.FreeMessagesRemaining)
	}
	if res.Usage.LastReservedAt == nil || !res.Usage.LastReservedAt.Equal(*now) {
		t.Errorf("lastReservedAt = %v", res.Usage.LastReservedAt)
	}
}

func TestReserveFreeWithZeroLimitCreatesNothing(t *testing.T) {
	m, store, _ := newTestMeter()
	ctx := context.Background()

	res := must(t)(m.Reserve(ctx, "u1", 0, ModeFree))
	if res.OK || res.Reason != ReasonFreeLimitExhausted {
		t.Fatalf("expected free_limit_exhausted, got %+v", res)
	}
	if _, found, _ := store.Get(ctx, "u1"); found {
		t.Error("failed reservation must not create a record")
	}
}

func TestReservePaidIgnoresFreeLimit(t *testing.T) {
	m, _, _ := newTestMeter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := must(t)(m.Reserve(ctx, "u1", 0, ModePaid))
		if !res.OK {
			t.Fatalf("paid reserve %d failed: %+v", i, res)
		}
	}
	cur, _ := m.Current(ctx, "u1", 0)
	if cur.PendingMessages != 3 || cur.FreeMessagesRemaining != 0 {
		t.Errorf("usage = %+v", cur)
	}
}

func TestFreeQuotaScenario(t *testing.T) {
	m, _, _ := newTestMeter()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res := must(t)(m.Reserve(ctx, "u1", 10, ModeFree))
		if !res.OK || res.Usage.PendingMessages != 1 {
			t.Fatalf("reserve %d: %+v", i+1, res)
		}
		res = must(t)(m.Complete(ctx, "u1", 10))
		if !res.OK || res.Usage.MessagesUsed != i+1 || res.Usage.PendingMessages != 0 {
			t.Fatalf("complete %d: %+v", i+1, res)
		}
	}

	res := must(t)(m.Reserve(ctx, "u1", 10, ModeFree))
	if res.OK || res.Reason != ReasonFreeLimitExhausted {
		t.Fatalf("11th reserve: %+v", res)
	}
	if res.Usage.FreeMessagesRemaining != 0 || res.Usage.MessagesUsed != 10 || res.Usage.PendingMessages != 0 {
		t.Errorf("usage after exhaustion = %+v", res.Usage)
	}
}

func TestPendingReservationsCountAgainstQuota(t *testing.T) {
	m, _, _ := newTestMeter()
	ctx := context.Background()

	must(t)(m.Reserve(ctx, "u1", 2, ModeFree))
	must(t)(m.Reserve(ctx, "u1", 2, ModeFree))

	res := must(t)(m.Reserve(ctx, "u1", 2, ModeFree))
	if res.Reason != ReasonFreeLimitExhausted {
		t.Fatalf("expected exhaustion with two pending, got %+v", res)
	}

	must(t)(m.Release(ctx, "u1", 2))
	res = must(t)(m.Reserve(ctx, "u1", 2, ModeFree))
	if !res.OK {
		t.Fatalf("reserve after release: %+v", res)
	}
}

func TestReleaseAfterFailedGeneration(t *testing.T) {
	m, _, _ := newTestMeter()
	ctx := context.Background()

	res := must(t)(m.Reserve(ctx, "u1", 10, ModeFree))
	if res.Usage.PendingMessages != 1 {
		t.Fatalf("pending = %d", res.Usage.PendingMessages)
	}

	res = must(t)(m.Release(ctx, "u1", 10))
	if !res.OK {
		t.Fatalf("release: %+v", res)
	}

	cur, err := m.Current(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if cur.MessagesUsed != 0 || cur.PendingMessages != 0 || cur.FreeMessagesRemaining != 10 {
		t.Errorf("usage = %+v", cur)
	}
	if cur.LastCompletedAt != nil {
		t.Error("release must not set lastCompletedAt")
	}
}

func TestCompleteIsChargeOnce(t *testing.T) {
	m, _, _ := newTestMeter()
	ctx := context.Background()

	must(t)(m.Reserve(ctx, "u1", 10, ModeFree))
	first := must(t)(m.Complete(ctx, "u1", 10))
	if !first.OK || first.Usage.MessagesUsed != 1 {
		t.Fatalf("first complete: %+v", first)
	}

	second := must(t)(m.Complete(ctx, "u1", 10))
	if second.OK || second.Reason != ReasonNoPendingReservation {
		t.Fatalf("second complete: %+v", second)
	}
	if second.Usage.MessagesUsed != 1 {
		t.Errorf("messagesUsed = %d after duplicate complete", second.Usage.MessagesUsed)
	}
}

func TestSettleWithoutRecord(t *testing.T) {
	m, store, _ := newTestMeter()
	ctx := context.Background()

	for name, fn := range map[string]func(context.Context, string, int) (Result, error){
		"complete": m.Complete,
		"release":  m.Release,
	} {
		res := must(t)(fn(ctx, "ghost", 10))
		if res.Reason != ReasonNoPendingReservation {
			t.Errorf("%s: %+v", name, res)
		}
	}
	if _, found, _ := store.Get(ctx, "ghost"); found {
		t.Error("settling without a record must not create one")
	}
}

func TestCountersNeverNegative(t *testing.T) {
	m, store, _ := newTestMeter()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	const limit = 5
	for step := 0; step < 2000; step++ {
		before, _, _ := store.Get(ctx, "u1")

		var res Result
		var err error
		switch rng.Intn(4) {
		case 0:
			res, err = m.Reserve(ctx, "u1", limit, ModeFree)
		case 1:
			res, err = m.Reserve(ctx, "u1", limit, ModePaid)
		case 2:
			res, err = m.Complete(ctx, "u1", limit)
		default:
			res, err = m.Release(ctx, "u1", limit)
		}
		if err != nil {
			t.Fatal(err)
		}

		after, _, _ := store.Get(ctx, "u1")
		if after.PendingMessages < 0 || after.MessagesUsed < 0 {
			t.Fatalf("step %d: negative counters %+v", step, after)
		}
		if after.MessagesUsed < before.MessagesUsed {
			t.Fatalf("step %d: messagesUsed decreased", step)
		}
		if !res.OK && (after.PendingMessages != before.PendingMessages || after.MessagesUsed != before.MessagesUsed) {
			t.Fatalf("step %d: failed transition %s mutated state", step, res.Reason)
		}
	}
}

func TestFreeAdmissionIsMonotonic(t *testing.T) {
	m, _, _ := newTestMeter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		must(t)(m.Reserve(ctx, "u1", 3, ModeFree))
	}
	for i := 0; i < 5; i++ {
		if res := must(t)(m.Reserve(ctx, "u1", 3, ModeFree)); res.OK {
			t.Fatalf("free reserve admitted past the limit: %+v", res)
		}
		if res := must(t)(m.Complete(ctx, "u1", 3)); i < 3 && !res.OK {
			t.Fatalf("complete %d: %+v", i, res)
		}
	}
	if res := must(t)(m.Reserve(ctx, "u1", 3, ModePaid)); !res.OK {
		t.Fatalf("paid reserve: %+v", res)
	}
}

func TestConcurrentReservationsRespectLimit(t *testing.T) {
	m, _, _ := newTestMeter()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Reserve(ctx, "u1", 10, ModeFree)
			if err == nil && res.OK {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Errorf("admitted %d concurrent reservations, want 10", admitted)
	}
}

func TestSweepStaleReservations(t *testing.T) {
	m, store, now := newTestMeter()
	ctx := context.Background()

	must(t)(m.Reserve(ctx, "old", 10, ModeFree))
	*now = now.Add(time.Hour)
	must(t)(m.Reserve(ctx, "fresh", 10, ModeFree))

	n, err := m.SweepStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	old, _, _ := store.Get(ctx, "old")
	fresh, _, _ := store.Get(ctx, "fresh")
	if old.PendingMessages != 0 || fresh.PendingMessages != 1 {
		t.Errorf("old=%+v fresh=%+v", old, fresh)
	}
}

type failingStore struct{ err error }

func (f failingStore) Transition(context.Context, string, TransitionFunc) (models.AIUsage, error) {
	return models.AIUsage{}, f.err
}

func (f failingStore) Get(context.Context, string) (models.AIUsage, bool, error) {
	return models.AIUsage{}, false, f.err
}

func (f failingStore) SweepStale(context.Context, time.Time) (int64, error) {
	return 0, f.err
}

func TestStoreErrorsAreReturned(t *testing.T) {
	boom := errors.New("connection reset")
	m := NewMeter(failingStore{err: boom}, nil)

	if _, err := m.Reserve(context.Background(), "u1", 10, ModeFree); !errors.Is(err, boom) {
		t.Errorf("reserve err = %v", err)
	}
	if _, err := m.Current(context.Background(), "u1", 10); !errors.Is(err, boom) {
		t.Errorf("current err = %v", err)
	}
}
