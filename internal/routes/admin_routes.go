package routes

import (
	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/handlers"
)

func SetupAdminRoutes(api *echo.Group, h *handlers.AdminHandler, resolver *authz.Resolver) {
	admin := api.Group("/admin")

	admin.GET("/users", h.ListUsers, middleware.RequireCapability(resolver, authz.UserRead))
	admin.PUT("/users/:id/role", h.ChangeRole, middleware.RequireCapability(resolver, authz.UserWrite))
	admin.DELETE("/users/:id", h.DeleteUser, middleware.RequireCapability(resolver, authz.UserWrite))
	admin.GET("/dashboard", h.Dashboard, middleware.RequireCapability(resolver, authz.DashboardRead))
}
