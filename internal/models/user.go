package models

import "time"

// User is the local identity record. Authorization never reads Role here;
// it lives on UserProfile.
type User struct {
	Base
	Email    string `gorm:"uniqueIndex:ux_users_email,where:is_deleted = false;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Name     string `json:"name"`
}

// UserProfile is the per-user role record. At most one exists per user.
type UserProfile struct {
	Base
	UserID     string    `gorm:"type:uuid;uniqueIndex;not null" json:"userId"`
	User       *User     `json:"user,omitempty"`
	Role       Role      `gorm:"not null;index" json:"role"`
	PharmacyID *string   `gorm:"type:uuid;default:NULL" json:"pharmacyId,omitempty"`
	Pharmacy   *Pharmacy `json:"pharmacy,omitempty"`
}

// Session records an issued token so it can be revoked on logout.
type Session struct {
	Base
	UserID    string     `gorm:"type:uuid;not null;index" json:"userId"`
	Token     string     `gorm:"not null;uniqueIndex" json:"-"`
	IPAddress string     `json:"ipAddress"`
	UserAgent string     `json:"userAgent"`
	ExpiresAt time.Time  `json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}
