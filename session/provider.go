package session

import (
	"context"
	"fmt"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideManager(lc fx.Lifecycle, db *gorm.DB, cfg *config.Config, logger *logging.Service) (*Manager, error) {
	if err := db.AutoMigrate(&UserSession{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sessions table: %w", err)
	}

	manager := NewManager(NewRepository(db), cfg, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			manager.StartCleanupWorker(cfg.Session.CleanupInterval)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.StopCleanupWorker()
			return nil
		},
	})

	return manager, nil
}

var Module = fx.Module("session",
	fx.Provide(ProvideManager),
)
