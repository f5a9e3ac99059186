package routes

import (
	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/handlers"
)

func SetupBillingRoutes(api *echo.Group, h *handlers.BillingHandler, resolver *authz.Resolver) {
	group := api.Group("/billing", middleware.RequireCapability(resolver, authz.BillingManage))
	group.GET("/customer", h.Customer)
	group.GET("/check", h.Check)
	group.POST("/checkout", h.Checkout)
	group.POST("/cancel", h.Cancel)
}
