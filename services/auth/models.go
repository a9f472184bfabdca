package auth

import (
	"strings"
	"time"
)

type User struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Email         string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Name          string    `json:"name" gorm:"size:255"`
	PasswordHash  string    `json:"-" gorm:"size:255"`
	Roles         string    `json:"-" gorm:"size:255"`
	EmailVerified bool      `json:"email_verified" gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// RoleNames is the opaque role set handed to token issuance.
func (u User) RoleNames() []string {
	if u.Roles == "" {
		return nil
	}
	parts := strings.Split(u.Roles, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

// Identity binds an external provider subject to a local user.
type Identity struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	Provider  string    `json:"provider" gorm:"size:64;not null;uniqueIndex:idx_identity_provider_subject"`
	Subject   string    `json:"subject" gorm:"size:255;not null;uniqueIndex:idx_identity_provider_subject"`
	Email     string    `json:"email" gorm:"size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Identity) TableName() string {
	return "user_identities"
}
