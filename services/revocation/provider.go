package revocation

import (
	"context"
	"fmt"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/jwt"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OptionalDB struct {
	fx.In
	DB *gorm.DB `optional:"true"`
}

func ProvideStore(cfg *config.Config, logger *logging.Service, optDB OptionalDB) (Store, error) {
	if !cfg.Revocation.Enabled {
		logger.Debug("access token revocation store disabled in configuration")
		return nil, nil
	}

	switch cfg.Revocation.Store {
	case "memory":
		if optDB.DB == nil {
			logger.Info("memory-only revocation store initialized (no database available)")
			return NewMemoryStore(), nil
		}
		if err := optDB.DB.AutoMigrate(&RevokedToken{}, &UserRevocation{}); err != nil {
			logger.Error("failed to migrate revocation tables, falling back to memory-only store", zap.Error(err))
			return NewMemoryStore(), nil
		}
		logger.Info("memory revocation store with database persistence initialized")
		return NewMemoryStoreWithDB(optDB.DB, logger.Named("revocation")), nil
	default:
		return nil, fmt.Errorf("unsupported revocation store type: %s", cfg.Revocation.Store)
	}
}

func ProvideRevocationService(cfg *config.Config, logger *logging.Service, store Store) *Service {
	if !cfg.Revocation.Enabled || store == nil {
		logger.Debug("access token revocation service disabled")
		return nil
	}
	return NewService(cfg, store, logger)
}

// ProvideRevocationChecker exposes the service to the token verifier. A nil
// service yields a nil interface so the verifier skips revocation checks.
func ProvideRevocationChecker(svc *Service) jwt.RevocationChecker {
	if svc == nil {
		return nil
	}
	return svc
}

type OptionalRevocationStore struct {
	fx.In
	Store Store `optional:"true"`
}

func SetupRevocationPersistence(lc fx.Lifecycle, cfg *config.Config, logger *logging.Service, optStore OptionalRevocationStore, svc *Service) {
	if !cfg.Revocation.Enabled || optStore.Store == nil {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := optStore.Store.LoadFromDatabase(); err != nil {
				logger.Error("failed to load revocations from database on startup", zap.Error(err))
				return err
			}
			if svc != nil {
				svc.StartCleanupWorker(cfg.Revocation.CleanupPeriod)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if svc != nil {
				svc.StopCleanupWorker()
			}
			if err := optStore.Store.SaveToDatabase(); err != nil {
				logger.Error("failed to save revocations to database on shutdown", zap.Error(err))
				return err
			}
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(ProvideRevocationService),
	fx.Provide(ProvideRevocationChecker),
	fx.Invoke(SetupRevocationPersistence),
)
