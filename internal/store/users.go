package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"medfinder/internal/models"
)

// UserRepository is the user and role-profile persistence used by the
// services layer.
type UserRepository interface {
	// InTx runs fn against a repository bound to one transaction. Counts
	// read inside fn stay valid until it returns.
	InTx(ctx context.Context, fn func(UserRepository) error) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	DeleteUser(ctx context.Context, userID string) error

	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	CreateProfile(ctx context.Context, profile *models.UserProfile) error
	UpdateProfile(ctx context.Context, userID string, role models.Role, pharmacyID *string) error
	CountProfiles(ctx context.Context) (int64, error)
	CountByRole(ctx context.Context, role models.Role) (int64, error)
	ListProfiles(ctx context.Context, role models.Role, page, limit int) ([]models.UserProfile, int64, error)
}

// Users is the gorm repository for users and their role profiles.
type Users struct {
	db *gorm.DB
}

var _ UserRepository = (*Users)(nil)

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// InTx locks the profile table for the duration of the transaction so that
// admin counts cannot change under fn.
func (s *Users) InTx(ctx context.Context, fn func(UserRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("LOCK TABLE user_profiles IN SHARE ROW EXCLUSIVE MODE").Error; err != nil {
			return err
		}
		return fn(&Users{db: tx})
	})
}

func (s *Users) CreateUser(ctx context.Context, user *models.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *Users) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("is_deleted = ?", false).Take(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Users) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ? AND is_deleted = ?", email, false).Take(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Users) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.db.WithContext(ctx).Where("user_id = ? AND is_deleted = ?", userID, false).Take(&profile).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (s *Users) CreateProfile(ctx context.Context, profile *models.UserProfile) error {
	return s.db.WithContext(ctx).Create(profile).Error
}

func (s *Users) UpdateProfile(ctx context.Context, userID string, role models.Role, pharmacyID *string) error {
	res := s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Updates(map[string]interface{}{
			"role":        role,
			"pharmacy_id": pharmacyID,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Users) CountProfiles(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.UserProfile{}).Where("is_deleted = ?", false).Count(&n).Error
	return n, err
}

func (s *Users) CountByRole(ctx context.Context, role models.Role) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("role = ? AND is_deleted = ?", role, false).
		Count(&n).Error
	return n, err
}

// DeleteUser soft-deletes the user and removes their profile and sessions.
// Usage records are kept.
func (s *Users) DeleteUser(ctx context.Context, userID string) error {
	db := s.db.WithContext(ctx)
	now := time.Now()

	res := db.Model(&models.User{}).
		Where("id = ? AND is_deleted = ?", userID, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if err := db.Where("user_id = ?", userID).Delete(&models.UserProfile{}).Error; err != nil {
		return err
	}
	return db.Where("user_id = ?", userID).Delete(&models.Session{}).Error
}

// ListProfiles pages role profiles with their users, newest first.
func (s *Users) ListProfiles(ctx context.Context, role models.Role, page, limit int) ([]models.UserProfile, int64, error) {
	var out []models.UserProfile
	var total int64

	query := s.db.WithContext(ctx).Model(&models.UserProfile{}).Where("is_deleted = ?", false)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page > 0 && limit > 0 {
		query = query.Offset((page - 1) * limit).Limit(limit)
	}
	if err := query.Preload("User").Preload("Pharmacy").Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Sessions tracks issued tokens.
type Sessions struct {
	db *gorm.DB
}

func NewSessions(db *gorm.DB) *Sessions {
	return &Sessions{db: db}
}

func (s *Sessions) Create(ctx context.Context, session *models.Session) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// Active reports whether token belongs to an unrevoked, unexpired session.
func (s *Sessions) Active(ctx context.Context, token string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, time.Now()).
		Count(&n).Error
	return n > 0, err
}

func (s *Sessions) Revoke(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", time.Now()).Error
}
