package routes

import (
	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/handlers"
)

// SetupCatalogRoutes registers the catalog routes that are not plain CRUD.
func SetupCatalogRoutes(api *echo.Group, h *handlers.CatalogHandler, resolver *authz.Resolver) {
	api.GET("/medicines/search", h.Search, middleware.RequireCapability(resolver, authz.MedicineSearch))
}
