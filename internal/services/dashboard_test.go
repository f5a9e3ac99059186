package services

import (
	"context"
	"errors"
	"testing"

	"medfinder/internal/models"
	"medfinder/internal/testutil"
)

type fixedTotals struct {
	used, pending int64
	err           error
}

func (f fixedTotals) Totals(context.Context) (int64, int64, error) { return f.used, f.pending, f.err }

type fixedStatus map[models.ResponseStatus]int64

func (f fixedStatus) CountByStatus(context.Context) (map[models.ResponseStatus]int64, error) {
	return f, nil
}

func TestDashboardStats(t *testing.T) {
	s, repo := newUserService()
	register(t, s, "a@example.com")
	register(t, s, "b@example.com")

	dash := NewDashboardService(repo, fixedTotals{used: 7, pending: 1}, fixedStatus{models.ResponseComplete: 6})
	got, err := dash.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Users[models.RoleAdmin] != 1 || got.Users[models.RoleUser] != 1 || got.Users[models.RoleStaff] != 0 {
		t.Errorf("users = %v", got.Users)
	}
	if got.MessagesUsed != 7 || got.PendingMessages != 1 || got.Responses[models.ResponseComplete] != 6 {
		t.Errorf("stats = %+v", got)
	}
}

func TestDashboardStatsPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	dash := NewDashboardService(testutil.NewMemoryUsers(), fixedTotals{err: boom}, fixedStatus{})
	if _, err := dash.Stats(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct{ page, limit, wantPage, wantLimit int }{
		{0, 0, 1, 20},
		{3, 10, 3, 10},
		{1, 500, 1, 100},
	}
	for _, tt := range tests {
		p, l := normalizePage(tt.page, tt.limit)
		if p != tt.wantPage || l != tt.wantLimit {
			t.Errorf("normalizePage(%d, %d) = %d, %d", tt.page, tt.limit, p, l)
		}
	}
}
