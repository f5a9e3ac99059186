package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"medfinder/internal/events"
	"medfinder/internal/models"
)

// MedicineQuery narrows a public price search.
type MedicineQuery struct {
	Term    string
	City    string
	InStock bool
	Page    int
	Limit   int
}

// PriceListing is one medicine offer from one pharmacy.
type PriceListing struct {
	MedicineID   string `json:"medicineId"`
	Name         string `json:"name"`
	GenericName  string `json:"genericName"`
	Dosage       string `json:"dosage"`
	PriceCents   int64  `json:"priceCents"`
	Stock        int    `json:"stock"`
	PharmacyID   string `json:"pharmacyId"`
	PharmacyName string `json:"pharmacyName"`
	City         string `json:"city"`
	Address      string `json:"address"`
}

// CatalogService owns pharmacies and their medicine listings.
type CatalogService struct {
	db         *gorm.DB
	Pharmacies *BaseServiceImpl[models.Pharmacy]
	Medicines  *BaseServiceImpl[models.Medicine]
}

func NewCatalogService(db *gorm.DB, bus *events.EventBus) *CatalogService {
	return &CatalogService{
		db:         db,
		Pharmacies: NewBaseService(db, models.Pharmacy{}, bus, "name", "city"),
		Medicines:  NewBaseService(db, models.Medicine{}, bus, "name", "price_cents", "stock"),
	}
}

// Search compares prices for a medicine across pharmacies, cheapest first.
func (s *CatalogService) Search(ctx context.Context, q MedicineQuery) ([]PriceListing, int64, error) {
	base := s.db.WithContext(ctx).
		Table("medicines AS m").
		Joins("JOIN pharmacies AS p ON p.id = m.pharmacy_id AND p.is_deleted = ?", false).
		Where("m.is_deleted = ?", false)

	if term := strings.TrimSpace(q.Term); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		base = base.Where("LOWER(m.name) LIKE ? OR LOWER(m.generic_name) LIKE ?", pattern, pattern)
	}
	if city := strings.TrimSpace(q.City); city != "" {
		base = base.Where("LOWER(p.city) = ?", strings.ToLower(city))
	}
	if q.InStock {
		base = base.Where("m.stock > 0")
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := normalizePage(q.Page, q.Limit)
	var listings []PriceListing
	err := base.
		Select(`m.id AS medicine_id, m.name, m.generic_name, m.dosage, m.price_cents, m.stock,
			p.id AS pharmacy_id, p.name AS pharmacy_name, p.city, p.address`).
		Order("m.price_cents ASC, p.name ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Scan(&listings).Error
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// MedicineBelongsTo reports whether the medicine is listed by pharmacyID.
func (s *CatalogService) MedicineBelongsTo(ctx context.Context, medicineID, pharmacyID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Medicine{}).
		Where("id = ? AND pharmacy_id = ? AND is_deleted = ?", medicineID, pharmacyID, false).
		Count(&n).Error
	return n > 0, err
}

// AttachImage links an uploaded file to a medicine.
func (s *CatalogService) AttachImage(ctx context.Context, medicineID string, file *models.File) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(file).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Medicine{}).
			Where("id = ? AND is_deleted = ?", medicineID, false).
			Update("image_id", file.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
