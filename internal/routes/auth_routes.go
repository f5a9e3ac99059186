package routes

import (
	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/handlers"
)

func SetupAuthRoutes(api *echo.Group, h *handlers.AuthHandler, access *handlers.AccessHandler, resolver *authz.Resolver) {
	auth := api.Group("/auth")

	// Public routes (no auth required)
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)

	// Routes for any signed-in user
	signedIn := auth.Group("", middleware.RequireCapability(resolver, authz.RouteApp))
	signedIn.POST("/logout", h.Logout)
	signedIn.GET("/me", h.Me)
	signedIn.POST("/bootstrap", h.Bootstrap)

	api.GET("/access", access.Check)
}
