package authcode

import (
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/authkit/pkce"
)

var (
	ErrInvalidGrant = errors.New("invalid_grant")
	// ErrInvalidCodeVerifier is also an ErrInvalidGrant.
	ErrInvalidCodeVerifier = fmt.Errorf("%w: %w", ErrInvalidGrant, pkce.ErrInvalidCodeVerifier)
	ErrInvalidClient       = errors.New("unknown client")
	ErrInvalidRedirectURI  = errors.New("redirect uri is not registered for client")
	ErrInvalidScope        = errors.New("scope is not allowed for client")
	ErrInvalidRequest      = errors.New("invalid authorization request")
)

type AuthorizationCode struct {
	ID                  uint      `gorm:"primaryKey"`
	CodeHash            string    `gorm:"uniqueIndex;size:64;not null"`
	UserID              uint      `gorm:"not null;index"`
	ClientID            string    `gorm:"size:128;not null;index"`
	RedirectURI         string    `gorm:"size:2048;not null"`
	Scope               string    `gorm:"size:512"`
	CodeChallenge       string    `gorm:"size:128;not null"`
	CodeChallengeMethod string    `gorm:"size:16;not null"`
	ExpiresAt           time.Time `gorm:"not null;index"`
	Used                bool      `gorm:"not null;default:false"`
	UsedAt              *time.Time
	IssuedIP            string `gorm:"size:45"`
	UsedIP              string `gorm:"size:45"`
	CreatedAt           time.Time
}

func (AuthorizationCode) TableName() string {
	return "authorization_codes"
}

func (c AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type IssueParams struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	IP                  string
}

type ExchangeParams struct {
	Code         string
	CodeVerifier string
	ClientID     string
	RedirectURI  string
	IP           string
}

type Issued struct {
	Code        string
	RedirectURI string
	ExpiresAt   time.Time
}
