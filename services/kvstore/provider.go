package kvstore

import (
	"context"
	"fmt"

	"github.com/alexedwards/scs/gormstore"
	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OptionalDB struct {
	fx.In
	DB *gorm.DB `optional:"true"`
}

// New builds the store selected by STORE_DRIVER.
func New(cfg *config.Config, db *gorm.DB, logger *logging.Service) (Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		logger.Info("using in-memory keyed store", zap.Duration("sweep_interval", cfg.Store.SweepInterval))
		return NewMemoryStore(cfg.Store.SweepInterval), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		logger.Info("using redis keyed store", zap.String("addr", cfg.Store.RedisAddr))
		return NewRedisStore(client, cfg.Store.KeyPrefix), nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("database keyed store requires database to be enabled")
		}
		store, err := gormstore.NewWithCleanupInterval(db, cfg.Store.SweepInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create database keyed store: %w", err)
		}
		logger.Info("using database keyed store", zap.Duration("sweep_interval", cfg.Store.SweepInterval))
		return NewSCSStore(store, cfg.Store.KeyPrefix, store.StopCleanup), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func ProvideStore(lc fx.Lifecycle, cfg *config.Config, optDB OptionalDB, logger *logging.Service) (Store, error) {
	store, err := New(cfg, optDB.DB, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})

	return store, nil
}

var Module = fx.Module("kvstore",
	fx.Provide(ProvideStore),
)
