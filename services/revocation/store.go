package revocation

import (
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

// RevokedToken is a denylisted access token, kept until the token itself would
// have expired.
type RevokedToken struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	JTI       string    `json:"jti" gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
}

// UserRevocation invalidates every access token of a user issued at or before
// IssuedBefore.
type UserRevocation struct {
	ID           uint      `json:"id" gorm:"primarykey"`
	UpdatedAt    time.Time `json:"updated_at"`
	UserID       uint      `json:"user_id" gorm:"uniqueIndex;not null"`
	IssuedBefore time.Time `json:"issued_before" gorm:"not null"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"index;not null"`
}

type Store interface {
	RevokeToken(jti string, expiresAt time.Time) error

	IsRevoked(jti string) (bool, error)

	RevokeAllUserTokens(userID uint, issuedBefore, expiresAt time.Time) error

	IsUserRevoked(userID uint, issuedAt time.Time) (bool, error)

	CleanupExpiredTokens() error

	LoadFromDatabase() error

	SaveToDatabase() error
}

type userCutoff struct {
	issuedBefore time.Time
	expiresAt    time.Time
}

// MemoryStore keeps the denylist in memory and, when a database is attached,
// writes every revocation through so a restart loses nothing.
type MemoryStore struct {
	mu      sync.RWMutex
	tokens  map[string]time.Time
	cutoffs map[uint]userCutoff
	db      *gorm.DB
	logger  *logging.Service
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithDB(nil, nil)
}

func NewMemoryStoreWithDB(db *gorm.DB, logger *logging.Service) *MemoryStore {
	return &MemoryStore{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[uint]userCutoff),
		db:      db,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) RevokeToken(jti string, expiresAt time.Time) error {
	m.mu.Lock()
	m.tokens[jti] = expiresAt
	total := len(m.tokens)
	m.mu.Unlock()

	m.logger.Debug("access token denylisted",
		zap.String("jti", jti),
		zap.Time("expires_at", expiresAt),
		zap.Int("total_memory_tokens", total))

	if m.db == nil {
		return nil
	}

	row := RevokedToken{JTI: jti, ExpiresAt: expiresAt}
	err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jti"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(&row).Error
	if err != nil {
		m.logger.Error("failed to persist revoked token", zap.String("jti", jti), zap.Error(err))
		return err
	}
	return nil
}

func (m *MemoryStore) IsRevoked(jti string) (bool, error) {
	m.mu.RLock()
	expiresAt, exists := m.tokens[jti]
	m.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if m.now().After(expiresAt) {
		m.mu.Lock()
		delete(m.tokens, jti)
		m.mu.Unlock()
		return false, nil
	}

	return true, nil
}

func (m *MemoryStore) RevokeAllUserTokens(userID uint, issuedBefore, expiresAt time.Time) error {
	m.mu.Lock()
	if existing, ok := m.cutoffs[userID]; ok && existing.issuedBefore.After(issuedBefore) {
		issuedBefore = existing.issuedBefore
	}
	if existing, ok := m.cutoffs[userID]; ok && existing.expiresAt.After(expiresAt) {
		expiresAt = existing.expiresAt
	}
	m.cutoffs[userID] = userCutoff{issuedBefore: issuedBefore, expiresAt: expiresAt}
	m.mu.Unlock()

	m.logger.Info("user access tokens revoked",
		zap.Uint("user_id", userID),
		zap.Time("issued_before", issuedBefore))

	if m.db == nil {
		return nil
	}

	row := UserRevocation{UserID: userID, IssuedBefore: issuedBefore, ExpiresAt: expiresAt}
	err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"issued_before", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		m.logger.Error("failed to persist user revocation", zap.Uint("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// IsUserRevoked compares at second precision because JWT iat carries no more.
// A token minted in the same second as the cutoff is treated as revoked.
func (m *MemoryStore) IsUserRevoked(userID uint, issuedAt time.Time) (bool, error) {
	m.mu.RLock()
	cutoff, ok := m.cutoffs[userID]
	m.mu.RUnlock()

	if !ok || m.now().After(cutoff.expiresAt) {
		return false, nil
	}
	return issuedAt.Unix() <= cutoff.issuedBefore.Unix(), nil
}

func (m *MemoryStore) CleanupExpiredTokens() error {
	now := m.now()

	m.mu.Lock()
	expired := 0
	for jti, expiresAt := range m.tokens {
		if now.After(expiresAt) {
			delete(m.tokens, jti)
			expired++
		}
	}
	for userID, cutoff := range m.cutoffs {
		if now.After(cutoff.expiresAt) {
			delete(m.cutoffs, userID)
			expired++
		}
	}
	m.mu.Unlock()

	if expired > 0 {
		m.logger.Info("cleaned up expired revocations from memory", zap.Int("expired_count", expired))
	}

	if m.db == nil {
		return nil
	}

	if err := m.db.Where("expires_at <= ?", now).Delete(&RevokedToken{}).Error; err != nil {
		return err
	}
	return m.db.Where("expires_at <= ?", now).Delete(&UserRevocation{}).Error
}

func (m *MemoryStore) LoadFromDatabase() error {
	if m.db == nil {
		m.logger.Debug("no database available for revocation loading")
		return nil
	}

	now := m.now()

	var tokens []RevokedToken
	if err := m.db.Where("expires_at > ?", now).Find(&tokens).Error; err != nil {
		m.logger.Error("failed to load revoked tokens", zap.Error(err))
		return err
	}

	var cutoffs []UserRevocation
	if err := m.db.Where("expires_at > ?", now).Find(&cutoffs).Error; err != nil {
		m.logger.Error("failed to load user revocations", zap.Error(err))
		return err
	}

	m.mu.Lock()
	for _, t := range tokens {
		m.tokens[t.JTI] = t.ExpiresAt
	}
	for _, c := range cutoffs {
		m.cutoffs[c.UserID] = userCutoff{issuedBefore: c.IssuedBefore, expiresAt: c.ExpiresAt}
	}
	m.mu.Unlock()

	m.logger.Info("revocations loaded from database",
		zap.Int("tokens", len(tokens)),
		zap.Int("user_cutoffs", len(cutoffs)))

	return nil
}

// SaveToDatabase flushes the live in-memory state. Rows are written through on
// every revocation already, so this only repairs rows lost to a failed write.
func (m *MemoryStore) SaveToDatabase() error {
	if m.db == nil {
		return nil
	}

	now := m.now()

	m.mu.RLock()
	tokens := make([]RevokedToken, 0, len(m.tokens))
	for jti, expiresAt := range m.tokens {
		if now.Before(expiresAt) {
			tokens = append(tokens, RevokedToken{JTI: jti, ExpiresAt: expiresAt})
		}
	}
	cutoffs := make([]UserRevocation, 0, len(m.cutoffs))
	for userID, c := range m.cutoffs {
		if now.Before(c.expiresAt) {
			cutoffs = append(cutoffs, UserRevocation{UserID: userID, IssuedBefore: c.issuedBefore, ExpiresAt: c.expiresAt})
		}
	}
	m.mu.RUnlock()

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expires_at <= ?", now).Delete(&RevokedToken{}).Error; err != nil {
			return err
		}
		if err := tx.Where("expires_at <= ?", now).Delete(&UserRevocation{}).Error; err != nil {
			return err
		}
		if len(tokens) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "jti"}},
				DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
			}).Create(&tokens).Error; err != nil {
				return err
			}
		}
		if len(cutoffs) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"issued_before", "expires_at", "updated_at"}),
			}).Create(&cutoffs).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("failed to save revocations to database", zap.Error(err))
		return err
	}

	m.logger.Info("saved revocations to database",
		zap.Int("tokens", len(tokens)),
		zap.Int("user_cutoffs", len(cutoffs)))

	return nil
}
