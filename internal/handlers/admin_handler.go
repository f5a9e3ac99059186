package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"medfinder/internal/api/validator"
	"medfinder/internal/models"
	"medfinder/internal/services"
)

type AdminHandler struct {
	users     *services.UserService
	dashboard *services.DashboardService
}

func NewAdminHandler(users *services.UserService, dashboard *services.DashboardService) *AdminHandler {
	return &AdminHandler{users: users, dashboard: dashboard}
}

func userError(err error) error {
	switch {
	case errors.Is(err, services.ErrLastAdmin):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidRole), errors.Is(err, services.ErrPharmacyRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

// ListUsers pages through user profiles.
// @Summary List users
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param role query string false "Role filter"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/users [get]
func (h *AdminHandler) ListUsers(c echo.Context) error {
	page, limit := pageParams(c)
	rows, total, err := h.users.ListUsers(c.Request().Context(), models.Role(c.QueryParam("role")), page, limit)
	if err != nil {
		return userError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  rows,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// ChangeRole sets a user's role; demoting the last admin is refused.
// @Summary Change a user's role
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param request body validator.ChangeRoleRequest true "Role"
// @Success 200 {object} models.UserProfile
// @Failure 409 {object} map[string]string "Last admin"
// @Router /api/v1/admin/users/{id}/role [put]
func (h *AdminHandler) ChangeRole(c echo.Context) error {
	var req validator.ChangeRoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	profile, err := h.users.ChangeRole(c.Request().Context(), c.Param("id"), models.Role(req.Role), req.PharmacyID)
	if err != nil {
		return userError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

// DeleteUser removes a user; deleting the last admin is refused.
// @Summary Delete a user
// @Tags admin
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Failure 409 {object} map[string]string "Last admin"
// @Router /api/v1/admin/users/{id} [delete]
func (h *AdminHandler) DeleteUser(c echo.Context) error {
	if err := h.users.DeleteUser(c.Request().Context(), c.Param("id")); err != nil {
		return userError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Dashboard returns admin statistics.
// @Summary Admin dashboard
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.Dashboard
// @Router /api/v1/admin/dashboard [get]
func (h *AdminHandler) Dashboard(c echo.Context) error {
	stats, err := h.dashboard.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
