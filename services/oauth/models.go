package oauth

import (
	"errors"
	"time"
)

var (
	ErrInvalidState          = errors.New("invalid or expired oauth state")
	ErrIdentityValidation    = errors.New("identity provider response failed validation")
	ErrProviderAlreadyLinked = errors.New("provider identity is already linked to another account")
	ErrProviderUnavailable   = errors.New("identity provider unavailable")
	ErrEmailUnverified       = errors.New("provider email is unverified and belongs to an existing account")
	ErrInvalidRedirect       = errors.New("redirect target is not allowed")
)

const stateKeyPrefix = "oauth_state:"

// stateEntry is the server-side half of an authorization request.
type stateEntry struct {
	Provider     string    `json:"provider"`
	Verifier     string    `json:"verifier"`
	Nonce        string    `json:"nonce"`
	LinkUserID   uint      `json:"link_user_id,omitempty"`
	RedirectHint string    `json:"redirect_hint,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProviderToken keeps the provider's tokens for a linked user. Token values are
// only stored when an encryptor is configured.
type ProviderToken struct {
	ID                    uint      `gorm:"primaryKey"`
	UserID                uint      `gorm:"not null;uniqueIndex:idx_provider_token_user"`
	Provider              string    `gorm:"size:64;not null;uniqueIndex:idx_provider_token_user"`
	Subject               string    `gorm:"size:255;not null"`
	EncryptedAccessToken  string    `gorm:"type:text"`
	EncryptedRefreshToken string    `gorm:"type:text"`
	TokenType             string    `gorm:"size:32"`
	ExpiresAt             time.Time `gorm:"index"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (ProviderToken) TableName() string {
	return "oauth_provider_tokens"
}
