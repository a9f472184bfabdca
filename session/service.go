package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

// EvictionHook is told about sessions ended to make room under the per-user
// limit so their refresh credentials can be revoked too.
type EvictionHook func(ctx context.Context, evicted UserSession)

type Manager struct {
	repo   Repository
	config *config.Config
	logger *logging.Service
	now    func() time.Time

	mu      sync.RWMutex
	onEvict EvictionHook

	stopOnce sync.Once
	stop     chan struct{}
}

func NewManager(repo Repository, cfg *config.Config, logger *logging.Service) *Manager {
	return &Manager{
		repo:   repo,
		config: cfg,
		logger: logger.Named("session"),
		now:    func() time.Time { return time.Now().UTC() },
		stop:   make(chan struct{}),
	}
}

func (m *Manager) SetEvictionHook(hook EvictionHook) {
	m.mu.Lock()
	m.onEvict = hook
	m.mu.Unlock()
}

// CreateOrReuseSession returns the active session for this exact device when
// one exists, refreshed with the new auth method. Otherwise it creates one.
// Two concurrent first logins from one device may both create a row; the next
// login reuses the most recent one.
func (m *Manager) CreateOrReuseSession(ctx context.Context, userID uint, device DeviceInfo, method AuthMethod) (*UserSession, error) {
	now := m.now()
	fingerprint := Fingerprint(device)

	existing, err := m.repo.FindActiveByFingerprint(ctx, userID, fingerprint, now)
	switch {
	case err == nil:
		updated := Touch(*existing, device, now)
		updated.AuthMethod = method
		if err := m.repo.Save(ctx, &updated); err != nil {
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
		m.logger.Debug("reusing device session",
			zap.Uint("user_id", userID),
			zap.Uint("session_id", updated.ID),
			zap.String("device_fingerprint", fingerprint))
		return &updated, nil
	case !errors.Is(err, ErrSessionNotFound):
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if err := m.enforceLimit(ctx, userID, now); err != nil {
		return nil, err
	}

	sess := newSession(userID, fingerprint, device, method, now, m.config.Session.TTL)
	if err := m.repo.Create(ctx, &sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Info("session created",
		zap.Uint("user_id", userID),
		zap.Uint("session_id", sess.ID),
		zap.String("device", device.Label()),
		zap.String("auth_method", string(method)))

	return &sess, nil
}

// enforceLimit ends the least recently used sessions so a new one fits.
func (m *Manager) enforceLimit(ctx context.Context, userID uint, now time.Time) error {
	limit := m.config.Session.MaxPerUser
	if limit <= 0 {
		return nil
	}

	active, err := m.repo.ListActive(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(active) < limit {
		return nil
	}

	m.mu.RLock()
	hook := m.onEvict
	m.mu.RUnlock()

	// ListActive is ordered newest first.
	for _, sess := range active[limit-1:] {
		ended, err := Logout(sess, now)
		if err != nil {
			continue
		}
		if err := m.repo.Save(ctx, &ended); err != nil {
			return fmt.Errorf("failed to evict session: %w", err)
		}
		m.logger.Info("session evicted by per-user limit",
			zap.Uint("user_id", userID),
			zap.Uint("session_id", ended.ID),
			zap.Int("limit", limit))
		if hook != nil {
			hook(ctx, ended)
		}
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, sessionID uint) (*UserSession, error) {
	return m.repo.Get(ctx, sessionID)
}

// GetActive is Get restricted to sessions that are still usable.
func (m *Manager) GetActive(ctx context.Context, sessionID uint) (*UserSession, error) {
	sess, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive(m.now()) {
		return nil, ErrSessionInactive
	}
	return sess, nil
}

func (m *Manager) LinkRefreshCredential(ctx context.Context, sessionID, credentialID uint) error {
	sess, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.RefreshCredentialID = credentialID
	if err := m.repo.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to link refresh credential: %w", err)
	}
	return nil
}

func (m *Manager) TouchActivity(ctx context.Context, sessionID uint, device DeviceInfo) error {
	sess, err := m.GetActive(ctx, sessionID)
	if err != nil {
		return err
	}
	updated := Touch(*sess, device, m.now())
	return m.repo.Save(ctx, &updated)
}

// EndSession is idempotent.
func (m *Manager) EndSession(ctx context.Context, sessionID uint) error {
	sess, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	ended, err := Logout(*sess, m.now())
	if errors.Is(err, ErrSessionInactive) {
		return nil
	}
	if err := m.repo.Save(ctx, &ended); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	m.logger.Info("session ended", zap.Uint("user_id", ended.UserID), zap.Uint("session_id", ended.ID))
	return nil
}

// EndUserSession ends a session only when it belongs to userID.
func (m *Manager) EndUserSession(ctx context.Context, userID, sessionID uint) (*UserSession, error) {
	sess, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	if err := m.EndSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *Manager) EndAllSessions(ctx context.Context, userID uint) (int64, error) {
	n, err := m.repo.EndAll(ctx, userID, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to end sessions: %w", err)
	}
	m.logger.Info("ended all sessions", zap.Uint("user_id", userID), zap.Int64("count", n))
	return n, nil
}

// NeedsReauthentication gates sensitive operations. A threshold of zero uses
// the configured reauth window. Missing sessions always need reauthentication.
func (m *Manager) NeedsReauthentication(ctx context.Context, sessionID uint, threshold time.Duration) (bool, error) {
	if threshold <= 0 {
		threshold = m.config.Session.ReauthWindow
	}

	sess, err := m.repo.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return true, nil
	}
	if err != nil {
		return true, err
	}

	now := m.now()
	if !sess.IsActive(now) {
		return true, nil
	}
	return now.Sub(sess.LastActivityAt) > threshold, nil
}

func (m *Manager) ListActive(ctx context.Context, userID, currentSessionID uint) ([]UserSession, error) {
	sessions, err := m.repo.ListActive(ctx, userID, m.now())
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Current = sessions[i].ID == currentSessionID
	}
	return sessions, nil
}

func (m *Manager) MarkTrusted(ctx context.Context, userID, sessionID uint, trusted bool) error {
	sess, err := m.GetActive(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}
	sess.Trusted = trusted
	return m.repo.Save(ctx, sess)
}

// CleanupExpired deactivates sessions past their expiry and deletes ended
// sessions older than the retention window.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	now := m.now()

	expired, err := m.repo.ExpireStale(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire sessions: %w", err)
	}

	deleted, err := m.repo.DeleteEndedBefore(ctx, now.Add(-m.config.RefreshToken.RetentionWindow))
	if err != nil {
		return fmt.Errorf("failed to purge sessions: %w", err)
	}

	if expired > 0 || deleted > 0 {
		m.logger.Info("session cleanup finished",
			zap.Int64("expired", expired),
			zap.Int64("deleted", deleted))
	}
	return nil
}

func (m *Manager) StartCleanupWorker(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if err := m.CleanupExpired(context.Background()); err != nil {
					m.logger.Error("session cleanup worker failed", zap.Error(err))
				}
			}
		}
	}()
}

func (m *Manager) StopCleanupWorker() {
	m.stopOnce.Do(func() { close(m.stop) })
}
