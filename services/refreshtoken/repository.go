package refreshtoken

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByHash(ctx context.Context, hash string) (*RefreshCredential, error)
	FindByID(ctx context.Context, id uint) (*RefreshCredential, error)
	Create(ctx context.Context, c *RefreshCredential) error
	// CompareAndSwap writes updated only if the stored row still carries
	// expectedVersion and is not revoked. It reports whether the write won.
	CompareAndSwap(ctx context.Context, updated RefreshCredential, expectedVersion int) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint, reason string, now time.Time) (int64, error)
	RevokeOthersForDevice(ctx context.Context, userID uint, fingerprint string, exceptID uint, reason string, now time.Time) (int64, error)
	CountRevokedSince(ctx context.Context, userID uint, reason string, since time.Time) (int64, error)
	Purge(ctx context.Context, userID uint, cutoff time.Time) (int64, error)
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindByHash(ctx context.Context, hash string) (*RefreshCredential, error) {
	var c RefreshCredential
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) FindByID(ctx context.Context, id uint) (*RefreshCredential, error) {
	var c RefreshCredential
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) Create(ctx context.Context, c *RefreshCredential) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *gormRepository) CompareAndSwap(ctx context.Context, updated RefreshCredential, expectedVersion int) (bool, error) {
	result := r.db.WithContext(ctx).Model(&RefreshCredential{}).
		Where("id = ? AND version = ? AND revoked = ?", updated.ID, expectedVersion, false).
		Updates(map[string]any{
			"revoked":        updated.Revoked,
			"revoked_at":     updated.RevokedAt,
			"revoked_reason": updated.RevokedReason,
			"replaced_by_id": updated.ReplacedByID,
			"version":        expectedVersion + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *gormRepository) RevokeAllForUser(ctx context.Context, userID uint, reason string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&RefreshCredential{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now,
			"revoked_reason": reason,
			"version":        gorm.Expr("version + 1"),
		})
	return result.RowsAffected, result.Error
}

func (r *gormRepository) RevokeOthersForDevice(ctx context.Context, userID uint, fingerprint string, exceptID uint, reason string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&RefreshCredential{}).
		Where("user_id = ? AND device_fingerprint = ? AND id <> ? AND revoked = ?", userID, fingerprint, exceptID, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now,
			"revoked_reason": reason,
			"version":        gorm.Expr("version + 1"),
		})
	return result.RowsAffected, result.Error
}

func (r *gormRepository) CountRevokedSince(ctx context.Context, userID uint, reason string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&RefreshCredential{}).
		Where("user_id = ? AND revoked_reason = ? AND revoked_at >= ?", userID, reason, since).
		Count(&n).Error
	return n, err
}

// Purge deletes rows that expired or were revoked before cutoff. A zero userID
// purges every user.
func (r *gormRepository) Purge(ctx context.Context, userID uint, cutoff time.Time) (int64, error) {
	q := r.db.WithContext(ctx).Where("(expires_at < ? OR (revoked = ? AND revoked_at < ?))", cutoff, true, cutoff)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	result := q.Delete(&RefreshCredential{})
	return result.RowsAffected, result.Error
}

func (r *gormRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
