package models

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

type Pharmacy struct {
	Base
	Name      string     `gorm:"not null" json:"name" validate:"required,min=2"`
	Address   string     `json:"address"`
	City      string     `gorm:"index" json:"city"`
	Phone     string     `json:"phone"`
	Medicines []Medicine `gorm:"foreignKey:PharmacyID;references:ID" json:"medicines,omitempty"`
}

type Medicine struct {
	Base
	PharmacyID  string    `gorm:"type:uuid;not null;index" json:"pharmacyId" validate:"required,uuid"`
	Pharmacy    *Pharmacy `json:"pharmacy,omitempty"`
	Name        string    `gorm:"not null;index" json:"name" validate:"required,min=2"`
	GenericName string    `gorm:"index" json:"genericName"`
	Dosage      string    `json:"dosage"`
	PriceCents  int64     `gorm:"not null" json:"priceCents" validate:"min=0"`
	Stock       int       `gorm:"not null;default:0" json:"stock" validate:"min=0"`
	ImageID     *string   `gorm:"type:uuid;default:NULL" json:"imageId,omitempty"`
	Image       *File     `json:"image,omitempty"`
}

type File struct {
	Base
	UserID    string `gorm:"type:uuid" json:"userId" validate:"omitempty,uuid"`
	Path      string `gorm:"not null" json:"path" validate:"required"`
	Name      string `gorm:"not null" json:"name" validate:"required"`
	Size      int64  `gorm:"not null" json:"size" validate:"required,min=1"`
	Type      string `gorm:"not null" json:"type" validate:"required"`
	SignedURL string `gorm:"-" json:"signedUrl,omitempty"` // Virtual field
}

// FileURLGenerator interface for generating signed URLs
type FileURLGenerator interface {
	GetSignedURL(ctx context.Context, path string, duration time.Duration) (string, error)
}

var (
	urlGenerator FileURLGenerator
	registryMu   sync.RWMutex
)

// RegisterFileURLGenerator sets the URL generator for files
func RegisterFileURLGenerator(generator FileURLGenerator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	urlGenerator = generator
}

func (f *File) AfterFind(tx *gorm.DB) error {
	registryMu.RLock()
	generator := urlGenerator
	registryMu.RUnlock()

	if generator != nil {
		url, err := generator.GetSignedURL(tx.Statement.Context, f.Path, time.Hour)
		if err != nil {
			return fmt.Errorf("failed to generate signed URL: %w", err)
		}
		f.SignedURL = url
	}
	return nil
}
