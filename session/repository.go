package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, id uint) (*UserSession, error)
	FindActiveByFingerprint(ctx context.Context, userID uint, fingerprint string, now time.Time) (*UserSession, error)
	ListActive(ctx context.Context, userID uint, now time.Time) ([]UserSession, error)
	Create(ctx context.Context, s *UserSession) error
	Save(ctx context.Context, s *UserSession) error
	EndAll(ctx context.Context, userID uint, now time.Time) (int64, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Get(ctx context.Context, id uint) (*UserSession, error) {
	var s UserSession
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) FindActiveByFingerprint(ctx context.Context, userID uint, fingerprint string, now time.Time) (*UserSession, error) {
	var s UserSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_fingerprint = ? AND active = ? AND expires_at > ?", userID, fingerprint, true, now).
		Order("last_activity_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) ListActive(ctx context.Context, userID uint, now time.Time) ([]UserSession, error) {
	var sessions []UserSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ? AND expires_at > ?", userID, true, now).
		Order("last_activity_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (r *gormRepository) Create(ctx context.Context, s *UserSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) Save(ctx context.Context, s *UserSession) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *gormRepository) EndAll(ctx context.Context, userID uint, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&UserSession{}).
		Where("user_id = ? AND active = ?", userID, true).
		Updates(map[string]any{"active": false, "logout_at": now})
	return result.RowsAffected, result.Error
}

func (r *gormRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&UserSession{}).
		Where("active = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{"active": false, "logout_at": now})
	return result.RowsAffected, result.Error
}

func (r *gormRepository) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("active = ? AND (logout_at < ? OR expires_at < ?)", false, cutoff, cutoff).
		Delete(&UserSession{})
	return result.RowsAffected, result.Error
}
