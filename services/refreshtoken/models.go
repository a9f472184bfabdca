package refreshtoken

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrRefreshTokenRevoked   = errors.New("refresh token revoked")
	ErrReuseDetected         = errors.New("refresh token reuse detected")
	ErrRotationConflict      = errors.New("refresh token rotation conflict")
	ErrTokenGenerationFailed = errors.New("failed to generate secure token")
	ErrAlreadyRevoked        = errors.New("refresh credential already revoked")
)

const (
	ReasonRotation      = "token_rotation"
	ReasonLogout        = "logout"
	ReasonReuseDetected = "reuse_detected"
	ReasonSecurityEvent = "security_event"
	ReasonSuperseded    = "superseded"
)

// RefreshCredential is one link of a rotation chain. Only the SHA-256 of the
// token is stored; the plaintext leaves the process exactly once.
type RefreshCredential struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	UserID            uint       `json:"user_id" gorm:"not null;index:idx_refresh_user_device"`
	TokenHash         string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	EncryptedToken    string     `json:"-" gorm:"size:1000"`
	DeviceFingerprint string     `json:"device_fingerprint" gorm:"size:32;index:idx_refresh_user_device"`
	DeviceInfo        string     `json:"device_info" gorm:"size:1000"`
	IPAddress         string     `json:"ip_address" gorm:"size:45"`
	UserAgent         string     `json:"user_agent" gorm:"size:500"`
	SessionID         uint       `json:"session_id" gorm:"index"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         time.Time  `json:"expires_at" gorm:"not null;index"`
	Revoked           bool       `json:"revoked" gorm:"not null;default:false;index"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	RevokedReason     string     `json:"revoked_reason,omitempty" gorm:"size:32"`
	ReplacedByID      *uint      `json:"replaced_by_id,omitempty"`
	Version           int        `json:"-" gorm:"not null;default:0"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (RefreshCredential) TableName() string {
	return "refresh_credentials"
}

type State string

const (
	StateValid           State = "valid"
	StateRotated         State = "rotated"
	StateLoggedOut       State = "logged_out"
	StateSecurityRevoked State = "security_revoked"
	StateSuperseded      State = "superseded"
	StateExpired         State = "expired"
)

// State is evaluated lazily at read time. Expiry only applies to credentials
// that were never revoked, so a rotated credential stays recognisable as such.
func (c RefreshCredential) State(now time.Time) State {
	if c.Revoked {
		switch {
		case c.ReplacedByID != nil:
			return StateRotated
		case c.RevokedReason == ReasonLogout:
			return StateLoggedOut
		case c.RevokedReason == ReasonSuperseded:
			return StateSuperseded
		default:
			return StateSecurityRevoked
		}
	}
	if !now.Before(c.ExpiresAt) {
		return StateExpired
	}
	return StateValid
}

func (c RefreshCredential) IsValid(now time.Time) bool {
	return c.State(now) == StateValid
}

// Revoke returns c revoked for reason. It never touches storage.
func Revoke(c RefreshCredential, reason string, now time.Time) (RefreshCredential, error) {
	if c.Revoked {
		return c, ErrAlreadyRevoked
	}
	c.Revoked = true
	c.RevokedAt = &now
	c.RevokedReason = reason
	return c, nil
}

// MarkRotated returns c revoked by rotation and linked to its successor.
func MarkRotated(c RefreshCredential, replacedByID uint, now time.Time) (RefreshCredential, error) {
	c, err := Revoke(c, ReasonRotation, now)
	if err != nil {
		return c, err
	}
	c.ReplacedByID = &replacedByID
	return c, nil
}

// ReuseError reports a replay of an already rotated credential. It matches
// ErrReuseDetected under errors.Is.
type ReuseError struct {
	UserID       uint
	CredentialID uint
	SessionID    uint
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%s: user %d credential %d", ErrReuseDetected, e.UserID, e.CredentialID)
}

func (e *ReuseError) Is(target error) bool {
	return target == ErrReuseDetected
}

// Issued carries the plaintext token. It must go to the client and nowhere else.
type Issued struct {
	Token      string
	Credential RefreshCredential
}

type RotationResult struct {
	Token      string
	Credential RefreshCredential
	Previous   RefreshCredential
	UserID     uint
}
