package refreshtoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/zap"
)

// Encryptor is the at-rest encryption collaborator. It is optional.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

// errLostUpdate means another writer changed the row between read and write.
var errLostUpdate = errors.New("refresh credential changed concurrently")

type Service struct {
	repo      Repository
	config    *config.Config
	logger    *logging.Service
	encryptor Encryptor
	now       func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func NewService(repo Repository, cfg *config.Config, logger *logging.Service) *Service {
	logger.Info("initializing refresh token service",
		zap.Duration("token_expiry", cfg.RefreshToken.Expiry),
		zap.Int("token_length", cfg.RefreshToken.TokenLength),
		zap.Duration("retention_window", cfg.RefreshToken.RetentionWindow))

	return &Service{
		repo:   repo,
		config: cfg,
		logger: logger.Named("refreshtoken"),
		now:    func() time.Time { return time.Now().UTC() },
		stop:   make(chan struct{}),
	}
}

func (s *Service) SetEncryptor(e Encryptor) {
	s.encryptor = e
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// IssueRefreshCredential mints a credential for the device and revokes any
// other live credential of the same (user, device) pair.
func (s *Service) IssueRefreshCredential(ctx context.Context, userID, sessionID uint, device session.DeviceInfo) (*Issued, error) {
	now := s.now()
	fingerprint := session.Fingerprint(device)

	var issued *Issued
	err := s.repo.WithTx(ctx, func(tx Repository) error {
		var err error
		issued, err = s.create(ctx, tx, userID, sessionID, fingerprint, device, now)
		if err != nil {
			return err
		}
		superseded, err := tx.RevokeOthersForDevice(ctx, userID, fingerprint, issued.Credential.ID, ReasonSuperseded, now)
		if err != nil {
			return fmt.Errorf("failed to supersede device credentials: %w", err)
		}
		if superseded > 0 {
			s.logger.Info("superseded older device credentials",
				zap.Uint("user_id", userID),
				zap.Int64("count", superseded))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if purged, err := s.repo.Purge(ctx, userID, now.Add(-s.config.RefreshToken.RetentionWindow)); err != nil {
		s.logger.Warn("opportunistic purge failed", zap.Uint("user_id", userID), zap.Error(err))
	} else if purged > 0 {
		s.logger.Debug("purged stale credentials", zap.Uint("user_id", userID), zap.Int64("count", purged))
	}

	s.logger.Info("refresh credential issued",
		zap.Uint("user_id", userID),
		zap.Uint("credential_id", issued.Credential.ID),
		logging.TokenField("token_fp", issued.Token),
		zap.Time("expires_at", issued.Credential.ExpiresAt))

	return issued, nil
}

func (s *Service) create(ctx context.Context, repo Repository, userID, sessionID uint, fingerprint string, device session.DeviceInfo, now time.Time) (*Issued, error) {
	token, err := s.generateSecureToken()
	if err != nil {
		s.logger.Error("failed to generate secure refresh token", zap.Error(err))
		return nil, ErrTokenGenerationFailed
	}

	cred := RefreshCredential{
		UserID:            userID,
		TokenHash:         HashToken(token),
		DeviceFingerprint: fingerprint,
		IPAddress:         device.IPAddress,
		UserAgent:         session.Truncate(device.UserAgent, 500),
		SessionID:         sessionID,
		IssuedAt:          now,
		ExpiresAt:         now.Add(s.config.RefreshToken.Expiry),
	}
	if raw, err := json.Marshal(device); err == nil {
		cred.DeviceInfo = session.Truncate(string(raw), 1000)
	}
	if s.encryptor != nil {
		enc, err := s.encryptor.Encrypt(token)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		cred.EncryptedToken = enc
	}

	if err := repo.Create(ctx, &cred); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return &Issued{Token: token, Credential: cred}, nil
}

// Rotate exchanges a valid token for its successor. Presenting a token that
// was already rotated revokes every credential of the owner and returns a
// *ReuseError. A lost update is retried once.
func (s *Service) Rotate(ctx context.Context, token string, device session.DeviceInfo) (*RotationResult, error) {
	hash := HashToken(token)

	for attempt := 0; attempt < 2; attempt++ {
		result, err := s.rotateOnce(ctx, hash, device, attempt > 0)
		if errors.Is(err, errLostUpdate) {
			s.logger.Warn("refresh rotation lost an update race",
				logging.TokenField("token_fp", token),
				zap.Int("attempt", attempt+1))
			continue
		}

		var reuse *ReuseError
		if errors.As(err, &reuse) {
			s.logger.Error("refresh token reuse detected, revoking all user credentials",
				zap.Uint("user_id", reuse.UserID),
				zap.Uint("credential_id", reuse.CredentialID),
				logging.TokenField("token_fp", token))
			if _, rerr := s.RevokeAll(ctx, reuse.UserID, ReasonReuseDetected); rerr != nil {
				return nil, errors.Join(err, rerr)
			}
			return nil, err
		}

		if err != nil {
			return nil, err
		}

		s.logger.Info("refresh credential rotated",
			zap.Uint("user_id", result.UserID),
			zap.Uint("old_credential_id", result.Previous.ID),
			zap.Uint("new_credential_id", result.Credential.ID))
		return result, nil
	}

	return nil, ErrRotationConflict
}

func (s *Service) rotateOnce(ctx context.Context, hash string, device session.DeviceInfo, retry bool) (*RotationResult, error) {
	var result *RotationResult

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		now := s.now()

		old, err := tx.FindByHash(ctx, hash)
		if err != nil {
			return err
		}

		switch old.State(now) {
		case StateValid:
		case StateRotated:
			// On the retry pass the successor was written by the writer that
			// beat us, so this is a race and not a replay.
			if retry {
				return ErrRotationConflict
			}
			return &ReuseError{UserID: old.UserID, CredentialID: old.ID, SessionID: old.SessionID}
		case StateExpired:
			return ErrRefreshTokenExpired
		default:
			return ErrRefreshTokenRevoked
		}

		if device.IPAddress == "" {
			device.IPAddress = old.IPAddress
		}
		if device.UserAgent == "" {
			device.UserAgent = old.UserAgent
		}

		next, err := s.create(ctx, tx, old.UserID, old.SessionID, old.DeviceFingerprint, device, now)
		if err != nil {
			return err
		}

		rotated, err := MarkRotated(*old, next.Credential.ID, now)
		if err != nil {
			return errLostUpdate
		}
		won, err := tx.CompareAndSwap(ctx, rotated, old.Version)
		if err != nil {
			return fmt.Errorf("failed to revoke rotated credential: %w", err)
		}
		if !won {
			return errLostUpdate
		}
		rotated.Version = old.Version + 1

		result = &RotationResult{
			Token:      next.Token,
			Credential: next.Credential,
			Previous:   rotated,
			UserID:     old.UserID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Lookup reads the credential behind token without changing it.
func (s *Service) Lookup(ctx context.Context, token string) (*RefreshCredential, error) {
	return s.repo.FindByHash(ctx, HashToken(token))
}

// RevokeAll is idempotent and returns the number of credentials it revoked.
func (s *Service) RevokeAll(ctx context.Context, userID uint, reason string) (int64, error) {
	n, err := s.repo.RevokeAllForUser(ctx, userID, reason, s.now())
	if err != nil {
		s.logger.Error("failed to revoke all user refresh tokens", zap.Uint("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("failed to revoke all user refresh tokens: %w", err)
	}

	s.logger.Info("all user refresh tokens revoked",
		zap.Uint("user_id", userID),
		zap.String("reason", reason),
		zap.Int64("count", n))

	return n, nil
}

func (s *Service) RevokeByID(ctx context.Context, id uint, reason string) error {
	cred, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return s.revoke(ctx, cred, reason)
}

// RevokeToken revokes the credential behind token and returns it so the
// caller can end the linked session.
func (s *Service) RevokeToken(ctx context.Context, token, reason string) (*RefreshCredential, error) {
	cred, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.revoke(ctx, cred, reason); err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *Service) revoke(ctx context.Context, cred *RefreshCredential, reason string) error {
	revoked, err := Revoke(*cred, reason, s.now())
	if errors.Is(err, ErrAlreadyRevoked) {
		return nil
	}
	if err != nil {
		return err
	}

	won, err := s.repo.CompareAndSwap(ctx, revoked, cred.Version)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !won {
		current, err := s.repo.FindByID(ctx, cred.ID)
		if err != nil {
			return fmt.Errorf("failed to reload refresh token: %w", err)
		}
		if !current.Revoked {
			return ErrRotationConflict
		}
		s.logger.Debug("refresh credential already revoked by a concurrent writer",
			zap.Uint("credential_id", cred.ID),
			zap.String("reason", current.RevokedReason))
		return nil
	}
	s.logger.Info("refresh credential revoked",
		zap.Uint("credential_id", cred.ID),
		zap.String("reason", reason))
	return nil
}

// CountRecentRotations counts rotations of userID's credentials since since.
func (s *Service) CountRecentRotations(ctx context.Context, userID uint, since time.Time) (int64, error) {
	return s.repo.CountRevokedSince(ctx, userID, ReasonRotation, since)
}

func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.Purge(ctx, 0, s.now().Add(-s.config.RefreshToken.RetentionWindow))
	if err != nil {
		s.logger.Error("failed to cleanup expired refresh tokens", zap.Error(err))
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	if n > 0 {
		s.logger.Info("cleaned up expired refresh tokens", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) generateSecureToken() (string, error) {
	tokenBytes := make([]byte, s.config.RefreshToken.TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
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
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.CleanupExpired(context.Background()); err != nil {
					s.logger.Error("refresh token cleanup worker failed", zap.Error(err))
				}
			}
		}
	}()

	s.logger.Info("started refresh token cleanup worker", zap.Duration("interval", interval))
}

func (s *Service) StopCleanupWorker() {
	s.stopOnce.Do(func() { close(s.stop) })
}
