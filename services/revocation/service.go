package revocation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

var (
	ErrRevocationDisabled = errors.New("access token revocation is disabled")
	ErrStoreNotConfigured = errors.New("revocation store not configured")
)

type Service struct {
	config *config.Config
	store  Store
	logger *logging.Service

	stopOnce sync.Once
	stop     chan struct{}
}

func NewService(cfg *config.Config, store Store, logger *logging.Service) *Service {
	logger.Info("initializing access token revocation service",
		zap.Bool("enabled", cfg.Revocation.Enabled),
		zap.String("store_type", cfg.Revocation.Store),
		zap.Duration("cleanup_period", cfg.Revocation.CleanupPeriod))

	return &Service{
		config: cfg,
		store:  store,
		logger: logger.Named("revocation"),
		stop:   make(chan struct{}),
	}
}

// RevokeToken denylists a single access token until its own expiry.
func (s *Service) RevokeToken(jti string, expiresAt time.Time) error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}
	if jti == "" {
		return nil
	}

	if err := s.store.RevokeToken(jti, expiresAt); err != nil {
		s.logger.Error("failed to revoke token by JTI", zap.String("jti", jti), zap.Error(err))
		return fmt.Errorf("failed to revoke token by JTI: %w", err)
	}

	s.logger.Info("access token revoked", zap.String("jti", jti))
	return nil
}

func (s *Service) IsTokenRevoked(jti string) (bool, error) {
	if s.store == nil {
		return false, ErrStoreNotConfigured
	}

	revoked, err := s.store.IsRevoked(jti)
	if err != nil {
		s.logger.Error("failed to check JTI revocation status", zap.String("jti", jti), zap.Error(err))
		return false, fmt.Errorf("failed to check JTI revocation status: %w", err)
	}
	return revoked, nil
}

// RevokeAllUserTokens kills every access token of userID issued at or before
// issuedBefore. The cutoff is retained for one access token lifetime, after
// which no such token can still be valid.
func (s *Service) RevokeAllUserTokens(userID uint, issuedBefore time.Time) error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}

	expiresAt := issuedBefore.Add(s.config.JWT.AccessExpiry)
	if err := s.store.RevokeAllUserTokens(userID, issuedBefore, expiresAt); err != nil {
		s.logger.Error("failed to revoke all user tokens", zap.Uint("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to revoke all user tokens: %w", err)
	}

	s.logger.Info("revoked all user access tokens",
		zap.Uint("user_id", userID),
		zap.String("issued_before", issuedBefore.Format(time.RFC3339)))

	return nil
}

func (s *Service) IsUserTokenRevoked(userID uint, issuedAt time.Time) (bool, error) {
	if s.store == nil {
		return false, ErrStoreNotConfigured
	}

	revoked, err := s.store.IsUserRevoked(userID, issuedAt)
	if err != nil {
		return false, fmt.Errorf("failed to check user revocation status: %w", err)
	}
	return revoked, nil
}

func (s *Service) CleanupExpiredTokens() error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}

	if err := s.store.CleanupExpiredTokens(); err != nil {
		s.logger.Error("failed to cleanup expired tokens", zap.Error(err))
		return fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	return nil
}

func (s *Service) StartCleanupWorker(interval time.Duration) {
	if s.store == nil {
		s.logger.Warn("cannot start cleanup worker: store not configured")
		return
	}
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.CleanupExpiredTokens(); err != nil {
					s.logger.Error("cleanup worker failed", zap.Error(err))
				}
			}
		}
	}()

	s.logger.Info("started revocation cleanup worker", zap.Duration("interval", interval))
}

func (s *Service) StopCleanupWorker() {
	s.stopOnce.Do(func() { close(s.stop) })
}
