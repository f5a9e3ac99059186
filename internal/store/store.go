// Package store holds the gorm repositories behind the authorization,
// usage and response subsystems.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"medfinder/internal/models"
)

var (
	// ErrNotFound is returned when a point lookup matches no live row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits a unique index.
	ErrDuplicate = errors.New("duplicate record")
)

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Roles implements authz.RoleStore over user_profiles.
type Roles struct {
	db *gorm.DB
}

func NewRoles(db *gorm.DB) *Roles {
	return &Roles{db: db}
}

func (r *Roles) FindRole(ctx context.Context, userID string) (models.Role, bool, error) {
	var profile models.UserProfile
	err := r.db.WithContext(ctx).
		Select("role").
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return profile.Role, true, nil
}
