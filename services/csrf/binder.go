// Package csrf binds double-submit anti-forgery tokens to a session. A request
// passes only when header, cookie and the server-side record all agree.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

var ErrValidationFailed = errors.New("csrf validation failed")

const keyPrefix = "csrf:"

const (
	ReasonMissingHeader  = "missing_header"
	ReasonMissingCookie  = "missing_cookie"
	ReasonMissingSession = "missing_session"
	ReasonCookieMismatch = "header_cookie_mismatch"
	ReasonNoBinding      = "no_binding"
	ReasonExpired        = "expired"
	ReasonTokenMismatch  = "token_mismatch"
)

// ValidationError carries the reason a check failed. It matches
// ErrValidationFailed with errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Reason extracts the failure reason, or "" when err is not a validation error.
func Reason(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ""
}

type binding struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Binder struct {
	store  kvstore.Store
	config *config.Config
	logger *logging.Service
	now    func() time.Time
}

func NewBinder(store kvstore.Store, cfg *config.Config, logger *logging.Service) *Binder {
	return &Binder{
		store:  store,
		config: cfg,
		logger: logger.Named("csrf"),
		now:    time.Now,
	}
}

// IssueToken replaces the session's binding with a fresh token.
func (b *Binder) IssueToken(ctx context.Context, sessionID uint) (string, error) {
	if sessionID == 0 {
		return "", &ValidationError{Reason: ReasonMissingSession}
	}

	token, err := b.generate()
	if err != nil {
		return "", err
	}

	rec := binding{Token: token, ExpiresAt: b.now().Add(b.config.CSRF.TTL)}
	if err := kvstore.SetJSON(ctx, b.store, key(sessionID), rec, b.config.CSRF.TTL); err != nil {
		return "", fmt.Errorf("failed to store csrf binding: %w", err)
	}
	return token, nil
}

// Validate checks the three signals independently. Store failures are
// returned as-is so callers can tell an outage from a forgery.
func (b *Binder) Validate(ctx context.Context, headerToken, cookieToken string, sessionID uint) error {
	switch {
	case headerToken == "":
		return &ValidationError{Reason: ReasonMissingHeader}
	case cookieToken == "":
		return &ValidationError{Reason: ReasonMissingCookie}
	case sessionID == 0:
		return &ValidationError{Reason: ReasonMissingSession}
	}

	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
		return &ValidationError{Reason: ReasonCookieMismatch}
	}

	var rec binding
	ok, err := kvstore.GetJSON(ctx, b.store, key(sessionID), &rec)
	if err != nil {
		return fmt.Errorf("failed to load csrf binding: %w", err)
	}
	if !ok {
		return &ValidationError{Reason: ReasonNoBinding}
	}
	if !b.now().Before(rec.ExpiresAt) {
		return &ValidationError{Reason: ReasonExpired}
	}
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(rec.Token)) != 1 {
		return &ValidationError{Reason: ReasonTokenMismatch}
	}
	return nil
}

func (b *Binder) ClearToken(ctx context.Context, sessionID uint) error {
	if sessionID == 0 {
		return nil
	}
	if err := b.store.Delete(ctx, key(sessionID)); err != nil {
		b.logger.Warn("failed to clear csrf binding", zap.Uint("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}

// Cookie is readable by page script so it can be echoed into the header.
func (b *Binder) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     b.config.CSRF.CookieName,
		Value:    token,
		Path:     b.config.CSRF.CookiePath,
		Domain:   b.config.CSRF.CookieDomain,
		MaxAge:   int(b.config.CSRF.TTL.Seconds()),
		Secure:   b.config.IsProduction(),
		HttpOnly: false,
		SameSite: SameSite(b.config.CSRF.CookieSameSite),
	}
}

func (b *Binder) ExpiredCookie() *http.Cookie {
	c := b.Cookie("")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}

func (b *Binder) HeaderName() string {
	return b.config.CSRF.HeaderName
}

func (b *Binder) CookieName() string {
	return b.config.CSRF.CookieName
}

func (b *Binder) generate() (string, error) {
	n := b.config.CSRF.TokenLength
	if n < 16 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func key(sessionID uint) string {
	return keyPrefix + strconv.FormatUint(uint64(sessionID), 10)
}

func SameSite(v string) http.SameSite {
	switch v {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "strict", "":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteDefaultMode
	}
}
