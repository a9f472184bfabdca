package refreshtoken

import (
	"context"
	"fmt"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type OptionalEncryptor struct {
	fx.In
	Encryptor Encryptor `optional:"true"`
}

func ProvideRefreshTokenService(lc fx.Lifecycle, db *gorm.DB, cfg *config.Config, logger *logging.Service, enc OptionalEncryptor) (*Service, error) {
	if err := db.AutoMigrate(&RefreshCredential{}); err != nil {
		return nil, fmt.Errorf("failed to migrate refresh credentials table: %w", err)
	}

	service := NewService(NewRepository(db), cfg, logger)
	if enc.Encryptor != nil {
		service.SetEncryptor(enc.Encryptor)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			service.StartCleanupWorker(cfg.RefreshToken.CleanupInterval)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			service.StopCleanupWorker()
			return nil
		},
	})

	return service, nil
}

var Options = fx.Options(
	fx.Provide(ProvideRefreshTokenService),
)
