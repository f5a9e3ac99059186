package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"medfinder/internal/billing"
	"medfinder/internal/models"
	"medfinder/internal/usage"
	"medfinder/internal/utils"
)

type TokenIssuer interface {
	GenerateJWT(userID, email string) (string, *utils.Claims, error)
}

type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Revoke(ctx context.Context, tokenID string) error
}

// ResponseHistory reads and prunes stored AI responses.
type ResponseHistory interface {
	Get(ctx context.Context, id string) (*models.AIResponse, error)
	List(ctx context.Context, requestorID string, page, limit int) ([]models.AIResponse, int64, error)
	DeleteForRequestor(ctx context.Context, requestorID string) (int64, error)
	Truncate(ctx context.Context) (int64, error)
}

// BillingProvider is the subset of the Autumn client the HTTP layer uses.
type BillingProvider interface {
	Configured() bool
	Check(ctx context.Context, customerID string) (billing.CheckResult, error)
	Checkout(ctx context.Context, customerID, email, successURL string) (string, error)
	Cancel(ctx context.Context, customerID string) error
	Customer(ctx context.Context, customerID string) (*billing.Customer, error)
}

// ReasonStatus maps a quota refusal to an HTTP status. 402 means "buy
// credits", 429 "free quota spent and no paid plan exists", 503 "try again
// later".
func ReasonStatus(r usage.Reason) int {
	switch r {
	case usage.ReasonUpgradeRequired:
		return http.StatusPaymentRequired
	case usage.ReasonFreeLimitExhausted:
		return http.StatusTooManyRequests
	case usage.ReasonAutumnCheckFailed, usage.ReasonReservationFailed:
		return http.StatusServiceUnavailable
	case usage.ReasonNoPendingReservation:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func pageParams(c echo.Context) (int, int) {
	var page, limit int
	_ = echo.QueryParamsBinder(c).Int("page", &page).Int("limit", &limit).BindError()
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
