package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"medfinder/internal/authz"
)

type AccessHandler struct {
	resolver *authz.Resolver
}

func NewAccessHandler(resolver *authz.Resolver) *AccessHandler {
	return &AccessHandler{resolver: resolver}
}

type AccessResponse struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Role       string `json:"role,omitempty"`
	// Reason is "authentication_required" or "insufficient_permissions"
	// when Allowed is false.
	Reason string `json:"reason,omitempty"`
}

// Check resolves a capability for the caller so clients can decide what to
// render. Refusals are reported in the body, not as errors.
// @Summary Resolve a capability
// @Tags access
// @Produce json
// @Param capability query string true "Capability name, e.g. route:/app/admin"
// @Success 200 {object} AccessResponse
// @Failure 400 {object} map[string]string "Unknown capability"
// @Router /api/v1/access [get]
func (h *AccessHandler) Check(c echo.Context) error {
	name := c.QueryParam("capability")
	capability, ok := authz.Parse(name)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown capability "+name)
	}

	out := AccessResponse{Capability: capability.String()}
	grant, err := h.resolver.Resolve(c.Request().Context(), capability)
	switch {
	case err == nil:
		out.Allowed = true
		out.Role = string(grant.Role)
	case errors.Is(err, authz.ErrAuthenticationRequired):
		out.Reason = "authentication_required"
	case errors.Is(err, authz.ErrInsufficientPermissions):
		out.Reason = "insufficient_permissions"
	default:
		return err
	}
	return c.JSON(http.StatusOK, out)
}
