package routes

import (
	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/handlers"
	"medfinder/internal/utils/logger"
)

func SetupUploadRoutes(api *echo.Group, h *handlers.UploadHandler, resolver *authz.Resolver) {
	log := logger.New("upload_routes")

	api.POST("/medicines/:id/image", h.UploadMedicineImage,
		middleware.RequireCapability(resolver, authz.MedicineImageUpload))

	log.Success("Upload routes initialized successfully")
}
