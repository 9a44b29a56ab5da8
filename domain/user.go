package domain

import "time"

// User is an authenticated account that owns tasks. Users are never hard
// deleted; deactivation flips Active and frees the username/email for reuse.
type User struct {
	ID           string     `gorm:"primarykey;size:36" json:"id"`
	Username     string     `gorm:"size:50;not null;index" json:"username"`
	Email        string     `gorm:"size:255;not null;index" json:"email"`
	PasswordHash string     `gorm:"size:100;not null" json:"-"`
	Active       bool       `gorm:"not null;default:true;index" json:"active"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	// CredentialChangedAt is backdated one second whenever the password
	// changes; tokens issued before it are rejected. Monotonically
	// non-decreasing.
	CredentialChangedAt time.Time `gorm:"not null" json:"-"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
