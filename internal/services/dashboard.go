package services

import (
	"context"

	"medfinder/internal/models"
)

type UsageTotals interface {
	Totals(ctx context.Context) (used, pending int64, err error)
}

type ResponseCounter interface {
	CountByStatus(ctx context.Context) (map[models.ResponseStatus]int64, error)
}

type RoleCounter interface {
	CountByRole(ctx context.Context, role models.Role) (int64, error)
}

type Dashboard struct {
	Users           map[models.Role]int64           `json:"users"`
	MessagesUsed    int64                           `json:"messagesUsed"`
	PendingMessages int64                           `json:"pendingMessages"`
	Responses       map[models.ResponseStatus]int64 `json:"responses"`
}

// DashboardService aggregates admin statistics.
type DashboardService struct {
	roles     RoleCounter
	usage     UsageTotals
	responses ResponseCounter
}

func NewDashboardService(roles RoleCounter, usage UsageTotals, responses ResponseCounter) *DashboardService {
	return &DashboardService{roles: roles, usage: usage, responses: responses}
}

func (s *DashboardService) Stats(ctx context.Context) (*Dashboard, error) {
	out := &Dashboard{Users: make(map[models.Role]int64, len(models.Roles()))}
	for _, role := range models.Roles() {
		n, err := s.roles.CountByRole(ctx, role)
		if err != nil {
			return nil, err
		}
		out.Users[role] = n
	}

	used, pending, err := s.usage.Totals(ctx)
	if err != nil {
		return nil, err
	}
	out.MessagesUsed = used
	out.PendingMessages = pending

	if out.Responses, err = s.responses.CountByStatus(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
