package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"medfinder/internal/services"
)

type CatalogHandler struct {
	catalog *services.CatalogService
}

func NewCatalogHandler(catalog *services.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Search compares one medicine's price across pharmacies.
// @Summary Search medicine prices
// @Tags medicines
// @Produce json
// @Param q query string false "Medicine or generic name"
// @Param city query string false "City"
// @Param inStock query bool false "Only listings with stock"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/medicines/search [get]
func (h *CatalogHandler) Search(c echo.Context) error {
	page, limit := pageParams(c)
	inStock, _ := strconv.ParseBool(c.QueryParam("inStock"))

	rows, total, err := h.catalog.Search(c.Request().Context(), services.MedicineQuery{
		Term:    c.QueryParam("q"),
		City:    c.QueryParam("city"),
		InStock: inStock,
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  rows,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
