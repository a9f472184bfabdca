package session

import (
	"errors"
	"time"
	"unicode/utf8"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInactive = errors.New("session is no longer active")
)

type AuthMethod string

const (
	AuthMethodPassword          AuthMethod = "password"
	AuthMethodOAuth             AuthMethod = "oauth"
	AuthMethodAuthorizationCode AuthMethod = "authorization_code"
	AuthMethodRefresh           AuthMethod = "refresh"
)

// UserSession is a device-bound login. At most one active row exists per
// (user, fingerprint) in normal operation.
type UserSession struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	UserID              uint       `json:"user_id" gorm:"not null;index:idx_session_user_fp"`
	DeviceFingerprint   string     `json:"device_fingerprint" gorm:"size:32;not null;index:idx_session_user_fp"`
	IPAddress           string     `json:"ip_address" gorm:"size:45"`
	UserAgent           string     `json:"user_agent" gorm:"size:500"`
	OS                  string     `json:"os" gorm:"size:100"`
	Browser             string     `json:"browser" gorm:"size:100"`
	DeviceClass         string     `json:"device_class" gorm:"size:20"`
	AuthMethod          AuthMethod `json:"auth_method" gorm:"size:32"`
	Active              bool       `json:"active" gorm:"not null;index"`
	Trusted             bool       `json:"trusted" gorm:"not null;default:false"`
	RefreshCredentialID uint       `json:"-" gorm:"index"`
	LastActivityAt      time.Time  `json:"last_activity_at"`
	ExpiresAt           time.Time  `json:"expires_at" gorm:"index"`
	LogoutAt            *time.Time `json:"logout_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Current             bool       `json:"current" gorm:"-"`
}

func (UserSession) TableName() string {
	return "user_sessions"
}

func (s UserSession) IsActive(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

func (s UserSession) Device() DeviceInfo {
	return DeviceInfo{
		IPAddress:   s.IPAddress,
		UserAgent:   s.UserAgent,
		OS:          s.OS,
		Browser:     s.Browser,
		DeviceClass: s.DeviceClass,
	}
}

// Touch records activity from device.
func Touch(s UserSession, device DeviceInfo, now time.Time) UserSession {
	s.LastActivityAt = now
	if device.IPAddress != "" {
		s.IPAddress = device.IPAddress
	}
	if device.UserAgent != "" {
		s.UserAgent = Truncate(device.UserAgent, 500)
	}
	return s
}

func Logout(s UserSession, now time.Time) (UserSession, error) {
	if !s.Active {
		return s, ErrSessionInactive
	}
	s.Active = false
	s.LogoutAt = &now
	return s, nil
}

func newSession(userID uint, fingerprint string, device DeviceInfo, method AuthMethod, now time.Time, ttl time.Duration) UserSession {
	return UserSession{
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		IPAddress:         device.IPAddress,
		UserAgent:         Truncate(device.UserAgent, 500),
		OS:                Truncate(device.OS, 100),
		Browser:           Truncate(device.Browser, 100),
		DeviceClass:       device.DeviceClass,
		AuthMethod:        method,
		Active:            true,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(ttl),
	}
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
