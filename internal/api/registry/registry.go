package registry

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"

	"medfinder/internal/api/controllers"
	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/models"
	"medfinder/internal/services"
)

type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

type MedicineOwnership interface {
	MedicineBelongsTo(ctx context.Context, medicineID, pharmacyID string) (bool, error)
}

// 📝 RegisterCRUDRoutes registers CRUD routes for pharmacies and medicines - godoc
func RegisterCRUDRoutes(g *echo.Group, catalog *services.CatalogService, resolver *authz.Resolver, profiles ProfileLookup) {
	pharmacyController := controllers.NewBaseController[models.Pharmacy](catalog.Pharmacies, []string{"name", "address"}, "city")
	pharmacyGroup := g.Group("/pharmacies")

	// @Summary List pharmacies
	// @Description Get a page of pharmacies, optionally filtered by city or searched by name
	// @Tags pharmacies
	// @Produce json
	// @Param q query string false "Search term"
	// @Param city query string false "City"
	// @Success 200 {array} models.Pharmacy
	// @Router /api/v1/pharmacies [get]
	pharmacyGroup.GET("", pharmacyController.List, middleware.RequireCapability(resolver, authz.PharmacyRead))
	// @Summary Get pharmacy
	// @Tags pharmacies
	// @Produce json
	// @Param id path string true "Pharmacy ID"
	// @Success 200 {object} models.Pharmacy
	// @Failure 404 {object} map[string]string "Not found"
	// @Router /api/v1/pharmacies/{id} [get]
	pharmacyGroup.GET("/:id", pharmacyController.Get, middleware.RequireCapability(resolver, authz.PharmacyRead))

	pharmacyWrite := pharmacyGroup.Group("", middleware.RequireCapability(resolver, authz.PharmacyWrite))
	// @Summary Create pharmacy
	// @Tags pharmacies
	// @Accept json
	// @Produce json
	// @Param pharmacy body models.Pharmacy true "Pharmacy object"
	// @Success 201 {object} models.Pharmacy
	// @Failure 401 {object} map[string]string "Unauthorized"
	// @Failure 403 {object} map[string]string "Forbidden"
	// @Router /api/v1/pharmacies [post]
	pharmacyWrite.POST("", pharmacyController.Create)
	// @Summary Update pharmacy
	// @Tags pharmacies
	// @Accept json
	// @Produce json
	// @Param id path string true "Pharmacy ID"
	// @Param pharmacy body models.Pharmacy true "Pharmacy object"
	// @Success 200 {object} models.Pharmacy
	// @Router /api/v1/pharmacies/{id} [put]
	pharmacyWrite.PUT("/:id", pharmacyController.Update)
	// @Summary Delete pharmacy
	// @Tags pharmacies
	// @Param id path string true "Pharmacy ID"
	// @Success 204 "No content"
	// @Router /api/v1/pharmacies/{id} [delete]
	pharmacyWrite.DELETE("/:id", pharmacyController.Delete)

	medicineController := controllers.NewBaseController[models.Medicine](catalog.Medicines, []string{"name", "generic_name"}, "pharmacy_id").
		WithWriteCheck(StaffOwnsMedicine(profiles, catalog))
	medicineGroup := g.Group("/medicines")

	// @Summary List medicines
	// @Tags medicines
	// @Produce json
	// @Param pharmacy_id query string false "Pharmacy ID"
	// @Success 200 {array} models.Medicine
	// @Router /api/v1/medicines [get]
	medicineGroup.GET("", medicineController.List, middleware.RequireCapability(resolver, authz.MedicineSearch))
	// @Summary Get medicine
	// @Tags medicines
	// @Produce json
	// @Param id path string true "Medicine ID"
	// @Success 200 {object} models.Medicine
	// @Router /api/v1/medicines/{id} [get]
	medicineGroup.GET("/:id", medicineController.Get, middleware.RequireCapability(resolver, authz.MedicineSearch))

	medicineWrite := medicineGroup.Group("", middleware.RequireCapability(resolver, authz.MedicineWrite))
	// @Summary Create medicine
	// @Description Staff may only list medicines for their own pharmacy
	// @Tags medicines
	// @Accept json
	// @Produce json
	// @Param medicine body models.Medicine true "Medicine object"
	// @Success 201 {object} models.Medicine
	// @Failure 403 {object} map[string]string "Forbidden"
	// @Router /api/v1/medicines [post]
	medicineWrite.POST("", medicineController.Create)
	// @Summary Update medicine
	// @Tags medicines
	// @Accept json
	// @Produce json
	// @Param id path string true "Medicine ID"
	// @Param medicine body models.Medicine true "Medicine object"
	// @Success 200 {object} models.Medicine
	// @Router /api/v1/medicines/{id} [put]
	medicineWrite.PUT("/:id", medicineController.Update)
	// @Summary Delete medicine
	// @Tags medicines
	// @Param id path string true "Medicine ID"
	// @Success 204 "No content"
	// @Router /api/v1/medicines/{id} [delete]
	medicineWrite.DELETE("/:id", medicineController.Delete)
}

// StaffOwnsMedicine restricts staff writes to their own pharmacy. Admins
// pass unchecked.
func StaffOwnsMedicine(profiles ProfileLookup, owner MedicineOwnership) controllers.WriteCheck[models.Medicine] {
	return func(c echo.Context, id string, entity *models.Medicine) error {
		grant, ok := middleware.GrantFrom(c)
		if !ok {
			return authz.ErrAuthenticationRequired
		}
		if grant.IsAdmin() {
			return nil
		}

		ctx := c.Request().Context()
		profile, err := profiles.GetProfile(ctx, grant.UserID)
		if err != nil || profile.PharmacyID == nil {
			return fmt.Errorf("%w: no pharmacy assigned", authz.ErrInsufficientPermissions)
		}
		pharmacyID := *profile.PharmacyID

		if entity != nil && entity.PharmacyID != pharmacyID {
			return fmt.Errorf("%w: medicine belongs to another pharmacy", authz.ErrInsufficientPermissions)
		}
		if id != "" {
			owns, err := owner.MedicineBelongsTo(ctx, id, pharmacyID)
			if err != nil {
				return err
			}
			if !owns {
				return fmt.Errorf("%w: medicine belongs to another pharmacy", authz.ErrInsufficientPermissions)
			}
		}
		return nil
	}
}
