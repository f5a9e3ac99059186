package api

import (
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "medfinder/docs/swagger"
	"medfinder/internal/api/registry"
	"medfinder/internal/handlers"
	"medfinder/internal/routes"
)

func (s *Server) registerRoutes() {
	d := s.deps

	// @Summary Health check
	// @Description Check if the server is running
	// @Produce json
	// @Success 200 {object} map[string]string "OK"
	// @Router /health [get]
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	api := s.echo.Group("/api/v1")

	routes.SetupAuthRoutes(api,
		handlers.NewAuthHandler(d.Users, d.Tokens, d.Sessions),
		handlers.NewAccessHandler(d.Resolver),
		d.Resolver)

	routes.SetupCatalogRoutes(api, handlers.NewCatalogHandler(d.Catalog), d.Resolver)
	registry.RegisterCRUDRoutes(api, d.Catalog, d.Resolver, d.Users)

	check := handlers.MedicineCheck(registry.StaffOwnsMedicine(d.Users, d.Catalog))
	routes.SetupUploadRoutes(api, handlers.NewUploadHandler(d.Storage, d.Catalog, check), d.Resolver)

	routes.SetupAIRoutes(api, handlers.NewAIHandler(d.Generator, d.Responses, d.Billing), d.Resolver, d.Limiter)
	routes.SetupBillingRoutes(api, handlers.NewBillingHandler(d.Billing, s.config.Server.PublicURL+"/app/billing"), d.Resolver)
	routes.SetupAdminRoutes(api, handlers.NewAdminHandler(d.Users, d.Dashboard), d.Resolver)
}
