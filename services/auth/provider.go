package auth

import (
	"fmt"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideAuthService(cfg *config.Config, db *gorm.DB, logger *logging.Service) (*Service, error) {
	if err := db.AutoMigrate(&User{}, &Identity{}); err != nil {
		return nil, fmt.Errorf("failed to migrate user tables: %w", err)
	}
	return NewService(cfg, db, logger), nil
}

var Module = fx.Options(
	fx.Provide(ProvideAuthService),
)
