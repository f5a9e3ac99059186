package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/api/validator"
	"medfinder/internal/authz"
)

type BillingHandler struct {
	provider   BillingProvider
	successURL string
}

// NewBillingHandler builds the handler. successURL is where checkout
// returns when the request does not name one.
func NewBillingHandler(provider BillingProvider, successURL string) *BillingHandler {
	return &BillingHandler{provider: provider, successURL: successURL}
}

// Customer returns the caller's billing profile.
// @Summary Billing customer
// @Tags billing
// @Security BearerAuth
// @Produce json
// @Success 200 {object} billing.Customer
// @Failure 503 {object} map[string]string "Billing not configured"
// @Router /api/v1/billing/customer [get]
func (h *BillingHandler) Customer(c echo.Context) error {
	customer, err := h.provider.Customer(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customer)
}

// Check asks the provider whether the caller may use paid messages.
// @Summary Check paid entitlement
// @Tags billing
// @Security BearerAuth
// @Produce json
// @Success 200 {object} billing.CheckResult
// @Router /api/v1/billing/check [get]
func (h *BillingHandler) Check(c echo.Context) error {
	res, err := h.provider.Check(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Checkout starts a hosted checkout for the paid plan.
// @Summary Start checkout
// @Tags billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body validator.CheckoutRequest false "Return URL"
// @Success 200 {object} map[string]string
// @Router /api/v1/billing/checkout [post]
func (h *BillingHandler) Checkout(c echo.Context) error {
	var req validator.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.SuccessURL == "" {
		req.SuccessURL = h.successURL
	}

	ctx := c.Request().Context()
	id, _ := authz.IdentityFromContext(ctx)
	url, err := h.provider.Checkout(ctx, id.UserID, id.Email, req.SuccessURL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

// Cancel ends the caller's paid plan.
// @Summary Cancel plan
// @Tags billing
// @Security BearerAuth
// @Success 204
// @Router /api/v1/billing/cancel [post]
func (h *BillingHandler) Cancel(c echo.Context) error {
	if err := h.provider.Cancel(c.Request().Context(), middleware.UserID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
