// Package oauth runs the authorization-code-with-PKCE flow against an external
// OpenID Connect provider and maps the verified identity to a local user.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/pkce"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserDirectory is the slice of the local user store the flow needs.
type UserDirectory interface {
	FindByID(ctx context.Context, id uint) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByIdentity(ctx context.Context, provider, subject string) (*auth.User, error)
	LinkIdentity(ctx context.Context, userID uint, provider, subject, email string) (*auth.Identity, error)
	ProvisionUser(ctx context.Context, email, name string, emailVerified bool) (*auth.User, error)
}

type BeginOptions struct {
	RedirectHint string
	LinkUserID   uint
}

type Authorization struct {
	URL   string
	State string
}

type CallbackResult struct {
	User         *auth.User
	Identity     *ProviderIdentity
	RedirectHint string
	Linked       bool
	Created      bool
}

type Service struct {
	provider  Provider
	store     kvstore.Store
	users     UserDirectory
	db        *gorm.DB
	config    *config.Config
	logger    *logging.Service
	audit     audit.Sink
	metrics   *metrics.Recorder
	encryptor refreshtoken.Encryptor
	now       func() time.Time
}

func NewService(provider Provider, store kvstore.Store, users UserDirectory, db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		provider: provider,
		store:    store,
		users:    users,
		db:       db,
		config:   cfg,
		logger:   logger.Named("oauth"),
		audit:    audit.NopSink{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetAuditSink(sink audit.Sink) {
	if sink != nil {
		s.audit = sink
	}
}

func (s *Service) SetMetrics(m *metrics.Recorder) {
	s.metrics = m
}

func (s *Service) SetEncryptor(e refreshtoken.Encryptor) {
	s.encryptor = e
}

func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// BeginAuthorization stores a fresh state entry and returns the provider URL
// the browser should be sent to.
func (s *Service) BeginAuthorization(ctx context.Context, opts BeginOptions) (*Authorization, error) {
	if !s.allowedRedirect(opts.RedirectHint) {
		return nil, ErrInvalidRedirect
	}

	verifier, err := pkce.GenerateVerifier()
	if err != nil {
		return nil, err
	}
	state, err := pkce.GenerateState()
	if err != nil {
		return nil, err
	}
	nonce, err := pkce.GenerateNonce()
	if err != nil {
		return nil, err
	}

	entry := stateEntry{
		Provider:     s.provider.Name(),
		Verifier:     verifier,
		Nonce:        nonce,
		LinkUserID:   opts.LinkUserID,
		RedirectHint: opts.RedirectHint,
		CreatedAt:    s.now(),
	}
	if err := kvstore.SetJSON(ctx, s.store, stateKeyPrefix+state, entry, s.config.OAuth.StateTTL); err != nil {
		return nil, fmt.Errorf("failed to store oauth state: %w", err)
	}

	s.logger.Debug("authorization started",
		zap.String("provider", entry.Provider),
		zap.Bool("linking", opts.LinkUserID != 0))

	return &Authorization{
		URL:   s.provider.AuthCodeURL(state, verifier, nonce),
		State: state,
	}, nil
}

// HandleCallback consumes the state entry, exchanges the code and resolves the
// local user. A state can be consumed once.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	result, err := s.handleCallback(ctx, code, state)
	if err != nil {
		s.metrics.OAuthCallback(callbackResult(err))
		s.audit.Record(ctx, audit.Event{
			Type:     audit.EventOAuthFailed,
			Severity: audit.SeverityWarning,
			Details:  map[string]any{"provider": s.provider.Name(), "reason": callbackResult(err)},
		})
		return nil, err
	}

	s.metrics.OAuthCallback("success")
	eventType := audit.EventOAuthLogin
	if result.Linked {
		eventType = audit.EventOAuthLinked
	}
	s.audit.Record(ctx, audit.Event{
		Type:    eventType,
		UserID:  result.User.ID,
		Details: map[string]any{"provider": s.provider.Name(), "created": result.Created},
	})
	return result, nil
}

func (s *Service) handleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	if state == "" {
		return nil, ErrInvalidState
	}

	var entry stateEntry
	ok, err := kvstore.TakeJSON(ctx, s.store, stateKeyPrefix+state, &entry)
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth state: %w", err)
	}
	if !ok || entry.Provider != s.provider.Name() {
		return nil, ErrInvalidState
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrIdentityValidation)
	}

	tokens, err := s.provider.Exchange(ctx, code, entry.Verifier)
	if err != nil {
		return nil, err
	}

	identity, err := s.provider.VerifyIDToken(ctx, tokens.IDToken, entry.Nonce)
	if err != nil {
		s.logger.Warn("id token rejected", zap.Error(err))
		return nil, err
	}

	result := &CallbackResult{Identity: identity, RedirectHint: entry.RedirectHint}
	if entry.LinkUserID != 0 {
		result.User, err = s.linkToUser(ctx, entry.LinkUserID, identity)
		result.Linked = true
	} else {
		result.User, result.Linked, result.Created, err = s.resolveUser(ctx, identity)
	}
	if err != nil {
		return nil, err
	}

	if err := s.saveProviderTokens(ctx, result.User.ID, identity, tokens); err != nil {
		// the login itself succeeded
		s.logger.Error("failed to store provider tokens", zap.Uint("user_id", result.User.ID), zap.Error(err))
	}

	return result, nil
}

func (s *Service) linkToUser(ctx context.Context, userID uint, identity *ProviderIdentity) (*auth.User, error) {
	existing, err := s.users.FindByIdentity(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil && existing.ID != userID:
		return nil, ErrProviderAlreadyLinked
	case err != nil && !errors.Is(err, auth.ErrIdentityNotFound):
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.LinkIdentity(ctx, user.ID, identity.Provider, identity.Subject, identity.Email); err != nil {
		if errors.Is(err, auth.ErrIdentityLinkedElsewhere) {
			return nil, ErrProviderAlreadyLinked
		}
		return nil, err
	}
	return user, nil
}

// resolveUser looks up by subject, then by verified email, then provisions.
func (s *Service) resolveUser(ctx context.Context, identity *ProviderIdentity) (user *auth.User, linked, created bool, err error) {
	user, err = s.users.FindByIdentity(ctx, identity.Provider, identity.Subject)
	if err == nil {
		return user, false, false, nil
	}
	if !errors.Is(err, auth.ErrIdentityNotFound) {
		return nil, false, false, err
	}

	if identity.Email == "" {
		return nil, false, false, fmt.Errorf("%w: provider did not return an email", ErrIdentityValidation)
	}

	user, err = s.users.FindByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		if !identity.EmailVerified || !s.config.Auth.AutoLinkVerifiedEmail {
			return nil, false, false, ErrEmailUnverified
		}
		linked = true
	case errors.Is(err, auth.ErrUserNotFound):
		user, err = s.users.ProvisionUser(ctx, identity.Email, identity.Name, identity.EmailVerified)
		if err != nil {
			return nil, false, false, err
		}
		created = true
	default:
		return nil, false, false, err
	}

	if _, err := s.users.LinkIdentity(ctx, user.ID, identity.Provider, identity.Subject, identity.Email); err != nil {
		if errors.Is(err, auth.ErrIdentityLinkedElsewhere) {
			return nil, false, false, ErrProviderAlreadyLinked
		}
		return nil, false, false, err
	}

	s.logger.Info("provider identity resolved",
		zap.Uint("user_id", user.ID),
		zap.Bool("auto_linked", linked),
		zap.Bool("provisioned", created))
	return user, linked, created, nil
}

func (s *Service) saveProviderTokens(ctx context.Context, userID uint, identity *ProviderIdentity, tokens *ProviderTokens) error {
	if s.db == nil {
		return nil
	}

	record := ProviderToken{
		UserID:    userID,
		Provider:  identity.Provider,
		Subject:   identity.Subject,
		TokenType: tokens.TokenType,
		ExpiresAt: tokens.Expiry,
	}
	if s.encryptor != nil {
		var err error
		if record.EncryptedAccessToken, err = s.encryptor.Encrypt(tokens.AccessToken); err != nil {
			return err
		}
		if tokens.RefreshToken != "" {
			if record.EncryptedRefreshToken, err = s.encryptor.Encrypt(tokens.RefreshToken); err != nil {
				return err
			}
		}
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject", "encrypted_access_token", "encrypted_refresh_token", "token_type", "expires_at", "updated_at",
		}),
	}).Create(&record).Error
}

func (s *Service) allowedRedirect(hint string) bool {
	if hint == "" {
		return true
	}
	if strings.HasPrefix(hint, "/") && !strings.HasPrefix(hint, "//") {
		return true
	}

	u, err := url.Parse(hint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	origin := u.Scheme + "://" + u.Host

	allowed := append([]string{}, s.config.OAuth.AllowedRedirectOrigins...)
	if f, err := url.Parse(s.config.OAuth.FrontendSuccessURL); err == nil && f.Host != "" {
		allowed = append(allowed, f.Scheme+"://"+f.Host)
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}

func callbackResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderAlreadyLinked):
		return "already_linked"
	case errors.Is(err, ErrEmailUnverified):
		return "email_unverified"
	case errors.Is(err, ErrIdentityValidation):
		return "identity_invalid"
	default:
		return "error"
	}
}
