// Package authcode implements the authorization-code grant for first-party
// public clients. Codes are bound to a PKCE challenge and are single-use.
package authcode

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/pkce"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// usedRetention keeps used and expired codes around briefly for replay audit.
const usedRetention = time.Hour

type Service struct {
	db       *gorm.DB
	registry *Registry
	config   *config.Config
	logger   *logging.Service
	audit    audit.Sink
	metrics  *metrics.Recorder
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func NewService(db *gorm.DB, registry *Registry, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		db:       db,
		registry: registry,
		config:   cfg,
		logger:   logger.Named("authcode"),
		audit:    audit.NopSink{},
		now:      func() time.Time { return time.Now().UTC() },
		stop:     make(chan struct{}),
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

// Client validates an authorization request before a user is asked to approve
// it, so bad redirect URIs are never redirected to.
func (s *Service) Client(clientID, redirectURI string) (Client, error) {
	client, ok := s.registry.Lookup(clientID)
	if !ok {
		return Client{}, ErrInvalidClient
	}
	if !client.AllowsRedirect(redirectURI) {
		return Client{}, ErrInvalidRedirectURI
	}
	return client, nil
}

func (s *Service) IssueAuthorizationCode(ctx context.Context, userID uint, p IssueParams) (*Issued, error) {
	client, err := s.Client(p.ClientID, p.RedirectURI)
	if err != nil {
		s.metrics.AuthCode("issue", "rejected")
		return nil, err
	}
	if !client.AllowsScope(p.Scope) {
		s.metrics.AuthCode("issue", "rejected")
		return nil, ErrInvalidScope
	}

	method := p.CodeChallengeMethod
	if method == "" {
		method = pkce.MethodPlain
	}
	if err := pkce.ValidChallenge(method, p.CodeChallenge); err != nil {
		s.metrics.AuthCode("issue", "rejected")
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := AuthorizationCode{
		CodeHash:            hashCode(code),
		UserID:              userID,
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(s.config.AuthCode.TTL),
		IssuedIP:            p.IP,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to store authorization code: %w", err)
	}

	s.metrics.AuthCode("issue", "success")
	s.audit.Record(ctx, audit.Event{
		Type:      audit.EventAuthCodeIssued,
		UserID:    userID,
		IPAddress: p.IP,
		Details:   map[string]any{"client_id": p.ClientID},
	})
	s.logger.Debug("authorization code issued",
		zap.Uint("user_id", userID),
		zap.String("client_id", p.ClientID),
		zap.String("method", method))

	return &Issued{Code: code, RedirectURI: p.RedirectURI, ExpiresAt: record.ExpiresAt}, nil
}

// ExchangeCode redeems a code. A wrong verifier does not consume the code;
// every other failure is ErrInvalidGrant.
func (s *Service) ExchangeCode(ctx context.Context, p ExchangeParams) (*AuthorizationCode, error) {
	record, err := s.exchange(ctx, p)
	if err != nil {
		s.metrics.AuthCode("exchange", "rejected")
		event := audit.Event{
			Type:      audit.EventAuthCodeRejected,
			Severity:  audit.SeverityWarning,
			IPAddress: p.IP,
			Details:   map[string]any{"client_id": p.ClientID, "reason": err.Error()},
		}
		if record != nil {
			event.UserID = record.UserID
		}
		s.audit.Record(ctx, event)
		return nil, err
	}

	s.metrics.AuthCode("exchange", "success")
	s.audit.Record(ctx, audit.Event{
		Type:      audit.EventAuthCodeExchanged,
		UserID:    record.UserID,
		IPAddress: p.IP,
		Details:   map[string]any{"client_id": record.ClientID},
	})
	return record, nil
}

func (s *Service) exchange(ctx context.Context, p ExchangeParams) (*AuthorizationCode, error) {
	if p.Code == "" || p.ClientID == "" || p.RedirectURI == "" {
		return nil, ErrInvalidGrant
	}

	var record AuthorizationCode
	if err := s.db.WithContext(ctx).Where("code_hash = ?", hashCode(p.Code)).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("failed to load authorization code: %w", err)
	}

	now := s.now()
	switch {
	case record.Used:
		s.logger.Warn("authorization code replayed",
			zap.Uint("code_id", record.ID),
			zap.Uint("user_id", record.UserID),
			zap.String("client_id", p.ClientID))
		return &record, ErrInvalidGrant
	case record.Expired(now):
		return &record, ErrInvalidGrant
	case record.ClientID != p.ClientID || record.RedirectURI != p.RedirectURI:
		return &record, ErrInvalidGrant
	}

	if err := pkce.Verify(record.CodeChallengeMethod, p.CodeVerifier, record.CodeChallenge); err != nil {
		return &record, ErrInvalidCodeVerifier
	}

	result := s.db.WithContext(ctx).Model(&AuthorizationCode{}).
		Where("id = ? AND used = ?", record.ID, false).
		Updates(map[string]any{"used": true, "used_at": now, "used_ip": p.IP})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark authorization code used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// lost the race to a concurrent exchange
		return &record, ErrInvalidGrant
	}

	record.Used = true
	record.UsedAt = &now
	record.UsedIP = p.IP
	return &record, nil
}

func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-usedRetention)
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&AuthorizationCode{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.logger.Info("purged authorization codes", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *Service) StartCleanupWorker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.CleanupExpired(context.Background()); err != nil {
					s.logger.Error("authorization code cleanup failed", zap.Error(err))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Service) StopCleanupWorker() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) generateCode() (string, error) {
	n := s.config.AuthCode.CodeLength
	if n < 32 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
