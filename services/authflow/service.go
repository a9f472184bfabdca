// Package authflow turns an authenticated user into a session, a refresh
// credential, an access token and a CSRF binding, and tears them down again.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/coordinator"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/jwt"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"github.com/tech-arch1tect/authkit/services/revocation"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/zap"
)

var ErrSessionMismatch = errors.New("refresh credential does not belong to this session")

const TokenTypeBearer = "Bearer"

type Tokens struct {
	AccessToken     string
	TokenType       string
	ExpiresIn       int
	AccessExpiresAt time.Time
	RefreshToken    string
	RefreshExpires  time.Time
	CSRFToken       string
	SessionID       uint
	UserID          uint
}

type LoginResult struct {
	Tokens
	User *auth.User
}

type RefreshResult struct {
	Tokens
	Risk coordinator.Assessment
	// Deduplicated is set for callers that shared another caller's rotation.
	Deduplicated bool
}

type LogoutParams struct {
	UserID          uint
	SessionID       uint
	RefreshToken    string
	AllDevices      bool
	AccessJTI       string
	AccessExpiresAt time.Time
}

type Service struct {
	users       *auth.Service
	sessions    *session.Manager
	refresh     *refreshtoken.Service
	tokens      *jwt.Service
	binder      *csrf.Binder
	revocation  *revocation.Service
	coordinator *coordinator.Coordinator[*RefreshResult]
	config      *config.Config
	logger      *logging.Service
	audit       audit.Sink
	metrics     *metrics.Recorder
	now         func() time.Time
}

func NewService(
	users *auth.Service,
	sessions *session.Manager,
	refresh *refreshtoken.Service,
	tokens *jwt.Service,
	binder *csrf.Binder,
	cfg *config.Config,
	logger *logging.Service,
) *Service {
	s := &Service{
		users:       users,
		sessions:    sessions,
		refresh:     refresh,
		tokens:      tokens,
		binder:      binder,
		coordinator: coordinator.New[*RefreshResult](refresh, cfg, logger),
		config:      cfg,
		logger:      logger.Named("authflow"),
		audit:       audit.NopSink{},
		now:         func() time.Time { return time.Now().UTC() },
	}
	sessions.SetEvictionHook(s.onEvict)
	return s
}

// SetRevocation enables access-token revocation on logout and cascades. A nil
// service leaves access tokens to expire on their own.
func (s *Service) SetRevocation(svc *revocation.Service) {
	s.revocation = svc
}

func (s *Service) SetAuditSink(sink audit.Sink) {
	if sink == nil {
		return
	}
	s.audit = sink
	s.coordinator.SetAuditSink(sink)
}

func (s *Service) SetMetrics(m *metrics.Recorder) {
	s.metrics = m
	s.coordinator.SetMetrics(m)
}

// Close drops coordinator state that may hold issued tokens.
func (s *Service) Close() {
	s.coordinator.Close()
}

// Login checks a password and completes the login. Failures are audited
// without revealing which half of the credentials was wrong.
func (s *Service) Login(ctx context.Context, email, password string, device session.DeviceInfo) (*LoginResult, error) {
	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		s.metrics.Login(string(session.AuthMethodPassword), "failure")
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.audit.Record(ctx, audit.Event{
				Type:      audit.EventLoginFailed,
				Severity:  audit.SeverityWarning,
				IPAddress: device.IPAddress,
				UserAgent: device.UserAgent,
				Details:   map[string]any{"method": session.AuthMethodPassword},
			})
		}
		return nil, err
	}
	return s.CompleteLogin(ctx, user, device, session.AuthMethodPassword)
}

// CompleteLoginByID is CompleteLogin for flows that only carry a user id,
// such as an authorization code exchange.
func (s *Service) CompleteLoginByID(ctx context.Context, userID uint, device session.DeviceInfo, method session.AuthMethod) (*LoginResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.CompleteLogin(ctx, user, device, method)
}

func (s *Service) CompleteLogin(ctx context.Context, user *auth.User, device session.DeviceInfo, method session.AuthMethod) (*LoginResult, error) {
	result, err := s.completeLogin(ctx, user, device, method)
	if err != nil {
		s.metrics.Login(string(method), "error")
		s.logger.Error("failed to complete login",
			zap.Uint("user_id", user.ID),
			zap.String("auth_method", string(method)),
			zap.Error(err))
		return nil, err
	}

	s.metrics.Login(string(method), "success")
	s.audit.Record(ctx, audit.Event{
		Type:      audit.EventLoginSucceeded,
		UserID:    user.ID,
		SessionID: result.SessionID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Details:   map[string]any{"method": method},
	})
	return result, nil
}

func (s *Service) completeLogin(ctx context.Context, user *auth.User, device session.DeviceInfo, method session.AuthMethod) (*LoginResult, error) {
	sess, err := s.sessions.CreateOrReuseSession(ctx, user.ID, device, method)
	if err != nil {
		return nil, err
	}

	issued, err := s.refresh.IssueRefreshCredential(ctx, user.ID, sess.ID, device)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.LinkRefreshCredential(ctx, sess.ID, issued.Credential.ID); err != nil {
		return nil, err
	}

	tokens, err := s.issue(ctx, user, sess.ID, device, issued.Token, issued.Credential.ExpiresAt)
	if err != nil {
		return nil, err
	}

	s.logger.Info("login completed",
		zap.Uint("user_id", user.ID),
		zap.Uint("session_id", sess.ID),
		zap.String("auth_method", string(method)))

	return &LoginResult{Tokens: *tokens, User: user}, nil
}

func (s *Service) issue(ctx context.Context, user *auth.User, sessionID uint, device session.DeviceInfo, refreshToken string, refreshExpires time.Time) (*Tokens, error) {
	access, err := s.tokens.IssueAccessToken(jwt.AccessClaims{
		UserID:            user.ID,
		Email:             user.Email,
		Roles:             user.RoleNames(),
		DeviceFingerprint: session.Fingerprint(device),
		SessionID:         sessionID,
	})
	if err != nil {
		return nil, err
	}

	csrfToken, err := s.binder.IssueToken(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Tokens{
		AccessToken:     access.Token,
		TokenType:       TokenTypeBearer,
		ExpiresIn:       s.tokens.AccessExpirySeconds(),
		AccessExpiresAt: access.ExpiresAt,
		RefreshToken:    refreshToken,
		RefreshExpires:  refreshExpires,
		CSRFToken:       csrfToken,
		SessionID:       sessionID,
		UserID:          user.ID,
	}, nil
}

// Refresh rotates token and issues a new access token and CSRF binding.
// Concurrent calls with the same token and session share one result. A
// sessionID of zero accepts whichever session the credential is bound to.
// Reuse and escalated risk end every session of the user.
func (s *Service) Refresh(ctx context.Context, token string, sessionID uint, device session.DeviceInfo) (*RefreshResult, error) {
	req := coordinator.Request{Token: token, SessionID: sessionID, Device: device}

	res, shared, err := s.coordinator.Refresh(ctx, req, func(ctx context.Context, rot *refreshtoken.RotationResult, risk coordinator.Assessment) (*RefreshResult, error) {
		return s.completeRefresh(ctx, sessionID, device, rot, risk)
	})
	if err != nil {
		s.handleRefreshFailure(ctx, sessionID, err)
		return nil, err
	}

	out := *res
	out.Deduplicated = shared
	return &out, nil
}

func (s *Service) completeRefresh(ctx context.Context, sessionID uint, device session.DeviceInfo, rot *refreshtoken.RotationResult, risk coordinator.Assessment) (*RefreshResult, error) {
	bound := rot.Credential.SessionID
	if sessionID != 0 && bound != sessionID {
		s.discard(ctx, rot)
		s.logger.Warn("refresh credential presented with a foreign session",
			zap.Uint("user_id", rot.UserID),
			zap.Uint("session_id", sessionID),
			zap.Uint("bound_session_id", bound))
		return nil, ErrSessionMismatch
	}

	if err := s.sessions.TouchActivity(ctx, bound, device); err != nil {
		s.discard(ctx, rot)
		return nil, err
	}
	if err := s.sessions.LinkRefreshCredential(ctx, bound, rot.Credential.ID); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, rot.UserID)
	if err != nil {
		s.discard(ctx, rot)
		return nil, err
	}

	tokens, err := s.issue(ctx, user, bound, device, rot.Token, rot.Credential.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{Tokens: *tokens, Risk: risk}, nil
}

// discard revokes a freshly rotated credential whose response will never
// reach a client.
func (s *Service) discard(ctx context.Context, rot *refreshtoken.RotationResult) {
	if err := s.refresh.RevokeByID(ctx, rot.Credential.ID, refreshtoken.ReasonSecurityEvent); err != nil {
		s.logger.Error("failed to revoke undelivered credential", zap.Uint("credential_id", rot.Credential.ID), zap.Error(err))
	}
}

func (s *Service) handleRefreshFailure(ctx context.Context, sessionID uint, err error) {
	var reuse *refreshtoken.ReuseError
	var suspicious *coordinator.SuspiciousError

	switch {
	case errors.As(err, &reuse):
		s.cascade(ctx, reuse.UserID, refreshtoken.ReasonReuseDetected, reuse.SessionID, sessionID)
	case errors.As(err, &suspicious):
		s.cascade(ctx, suspicious.UserID, refreshtoken.ReasonSecurityEvent, suspicious.SessionID, sessionID)
	}
}

// cascade finishes a cascade revocation that the rotation engine started on
// refresh credentials. Sessions, access tokens and CSRF bindings follow.
func (s *Service) cascade(ctx context.Context, userID uint, reason string, sessionIDs ...uint) {
	var errs []error

	if s.revocation != nil {
		if err := s.revocation.RevokeAllUserTokens(userID, s.now()); err != nil {
			errs = append(errs, err)
		}
	}

	ended, err := s.sessions.EndAllSessions(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}

	for _, sid := range sessionIDs {
		if err := s.binder.ClearToken(ctx, sid); err != nil {
			errs = append(errs, err)
		}
	}

	s.audit.Record(ctx, audit.Event{
		Type:     audit.EventCascadeRevocation,
		Severity: audit.SeverityCritical,
		UserID:   userID,
		Details:  map[string]any{"reason": reason, "sessions_ended": ended},
	})

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("cascade revocation incomplete", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	s.logger.Warn("cascade revocation completed",
		zap.Uint("user_id", userID),
		zap.String("reason", reason),
		zap.Int64("sessions_ended", ended))
}

// Logout revokes credentials and ends sessions. Every step is attempted;
// failures are joined. A credential that is already gone is not an error.
func (s *Service) Logout(ctx context.Context, p LogoutParams) error {
	var errs []error
	userID, sessionID := p.UserID, p.SessionID

	if p.RefreshToken != "" {
		cred, err := s.refresh.RevokeToken(ctx, p.RefreshToken, refreshtoken.ReasonLogout)
		switch {
		case err == nil:
			if userID == 0 {
				userID = cred.UserID
			}
			if sessionID == 0 {
				sessionID = cred.SessionID
			}
		case errors.Is(err, refreshtoken.ErrRefreshTokenNotFound):
		default:
			errs = append(errs, err)
		}
	}

	if p.AllDevices && userID != 0 {
		if _, err := s.refresh.RevokeAll(ctx, userID, refreshtoken.ReasonLogout); err != nil {
			errs = append(errs, err)
		}
		if _, err := s.sessions.EndAllSessions(ctx, userID); err != nil {
			errs = append(errs, err)
		}
		if s.revocation != nil {
			if err := s.revocation.RevokeAllUserTokens(userID, s.now()); err != nil {
				errs = append(errs, err)
			}
		}
	} else if sessionID != 0 {
		if err := s.endSession(ctx, userID, sessionID); err != nil {
			errs = append(errs, err)
		}
	}

	if sessionID != 0 {
		if err := s.binder.ClearToken(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}

	if p.AccessJTI != "" && s.revocation != nil {
		expires := p.AccessExpiresAt
		if expires.IsZero() {
			expires = s.now().Add(s.config.JWT.AccessExpiry)
		}
		if err := s.revocation.RevokeToken(p.AccessJTI, expires); err != nil {
			errs = append(errs, err)
		}
	}

	s.audit.Record(ctx, audit.Event{
		Type:      audit.EventLogout,
		UserID:    userID,
		SessionID: sessionID,
		Details:   map[string]any{"all_devices": p.AllDevices},
	})

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("logout incomplete", zap.Uint("user_id", userID), zap.Error(err))
		return fmt.Errorf("logout incomplete: %w", err)
	}
	s.logger.Info("logout completed",
		zap.Uint("user_id", userID),
		zap.Uint("session_id", sessionID),
		zap.Bool("all_devices", p.AllDevices))
	return nil
}

func (s *Service) endSession(ctx context.Context, userID, sessionID uint) error {
	var (
		sess *session.UserSession
		err  error
	)
	if userID != 0 {
		sess, err = s.sessions.EndUserSession(ctx, userID, sessionID)
	} else {
		err = s.sessions.EndSession(ctx, sessionID)
	}
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if sess != nil && sess.RefreshCredentialID != 0 {
		if err := s.refresh.RevokeByID(ctx, sess.RefreshCredentialID, refreshtoken.ReasonLogout); err != nil &&
			!errors.Is(err, refreshtoken.ErrRefreshTokenNotFound) {
			return err
		}
	}
	return nil
}

// Sessions lists the caller's active sessions, marking the current one.
func (s *Service) Sessions(ctx context.Context, userID, currentSessionID uint) ([]session.UserSession, error) {
	return s.sessions.ListActive(ctx, userID, currentSessionID)
}

// RevokeSession ends one of the user's own sessions and its credential.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uint) error {
	sess, err := s.sessions.EndUserSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	var errs []error
	if sess.RefreshCredentialID != 0 {
		if err := s.refresh.RevokeByID(ctx, sess.RefreshCredentialID, refreshtoken.ReasonLogout); err != nil &&
			!errors.Is(err, refreshtoken.ErrRefreshTokenNotFound) {
			errs = append(errs, err)
		}
	}
	if err := s.binder.ClearToken(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	s.audit.Record(ctx, audit.Event{Type: audit.EventLogout, UserID: userID, SessionID: sessionID, Details: map[string]any{"revoked_by_user": true}})
	return errors.Join(errs...)
}

func (s *Service) onEvict(ctx context.Context, evicted session.UserSession) {
	if evicted.RefreshCredentialID != 0 {
		if err := s.refresh.RevokeByID(ctx, evicted.RefreshCredentialID, refreshtoken.ReasonSuperseded); err != nil {
			s.logger.Warn("failed to revoke credential of evicted session",
				zap.Uint("session_id", evicted.ID),
				zap.Error(err))
		}
	}
	if err := s.binder.ClearToken(ctx, evicted.ID); err != nil {
		s.logger.Warn("failed to clear csrf binding of evicted session", zap.Uint("session_id", evicted.ID), zap.Error(err))
	}
	s.audit.Record(ctx, audit.Event{
		Type:      audit.EventSessionLimitReached,
		Severity:  audit.SeverityInfo,
		UserID:    evicted.UserID,
		SessionID: evicted.ID,
		Details:   map[string]any{"limit": s.config.Session.MaxPerUser},
	})
}
