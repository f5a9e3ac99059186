package routes

import (
	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/handlers"
)

// SetupAIRoutes registers generation and history routes. limiter may be nil
// when Redis is unavailable.
func SetupAIRoutes(api *echo.Group, h *handlers.AIHandler, resolver *authz.Resolver, limiter middleware.Limiter) {
	group := api.Group("/ai")

	generate := []echo.MiddlewareFunc{middleware.RequireCapability(resolver, authz.AIGenerate)}
	if limiter != nil {
		generate = append(generate, middleware.RateLimit(limiter, middleware.UserOrIPKey))
	}
	group.POST("/generate", h.Generate, generate...)

	group.GET("/usage", h.Usage, middleware.RequireCapability(resolver, authz.AIUsageRead))
	group.GET("/responses", h.ListResponses, middleware.RequireCapability(resolver, authz.AIResponseRead))
	group.GET("/responses/:id", h.GetResponse, middleware.RequireCapability(resolver, authz.AIResponseRead))
	group.DELETE("/responses", h.DeleteMyResponses, middleware.RequireCapability(resolver, authz.AIResponseDelete))

	api.DELETE("/admin/ai/responses", h.TruncateResponses, middleware.RequireCapability(resolver, authz.AIResponseTruncate))
}
