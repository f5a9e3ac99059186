package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"medfinder/internal/api/middleware"
	"medfinder/internal/models"
	"medfinder/internal/services"
	"medfinder/internal/utils/logger"
)

const maxImageBytes = 5 << 20

// MedicineCheck authorizes a write to an existing medicine.
type MedicineCheck func(c echo.Context, id string, entity *models.Medicine) error

type UploadHandler struct {
	storage services.ObjectStorage
	catalog *services.CatalogService
	check   MedicineCheck
	log     *logger.Logger
}

func NewUploadHandler(storage services.ObjectStorage, catalog *services.CatalogService, check MedicineCheck) *UploadHandler {
	return &UploadHandler{
		storage: storage,
		catalog: catalog,
		check:   check,
		log:     logger.New("upload_handler"),
	}
}

// UploadMedicineImage stores an image and attaches it to the medicine.
// @Summary Upload a medicine image
// @Tags medicines
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Medicine ID"
// @Param file formData file true "Image"
// @Success 201 {object} models.File
// @Failure 400 {object} map[string]string "Validation error or file not found"
// @Failure 503 {object} map[string]string "Storage not configured"
// @Router /api/v1/medicines/{id}/image [post]
func (h *UploadHandler) UploadMedicineImage(c echo.Context) error {
	if h.storage == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Storage not configured")
	}

	medicineID := c.Param("id")
	if h.check != nil {
		if err := h.check(c, medicineID, nil); err != nil {
			return err
		}
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file provided")
	}
	contentType := file.Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return echo.NewHTTPError(http.StatusBadRequest, "File must be an image")
	}
	if file.Size > maxImageBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Image exceeds 5MB")
	}

	src, err := file.Open()
	if err != nil {
		return h.log.Error("Failed to open upload", err)
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, maxImageBytes+1))
	if err != nil {
		return h.log.Error("Failed to read upload", err)
	}

	ctx := c.Request().Context()
	key, err := h.storage.Put(ctx, content, file.Filename, contentType)
	if err != nil {
		return err
	}

	record := &models.File{
		UserID: middleware.UserID(c),
		Path:   key,
		Name:   file.Filename,
		Size:   int64(len(content)),
		Type:   contentType,
	}
	if err := h.catalog.AttachImage(ctx, medicineID, record); err != nil {
		// The object is orphaned if the row was never written.
		_ = h.storage.Remove(ctx, key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "medicine not found")
		}
		return h.log.Error("Failed to attach image to %s", err, medicineID)
	}

	h.log.Success("Attached image %s to medicine %s", key, medicineID)
	return c.JSON(http.StatusCreated, record)
}
