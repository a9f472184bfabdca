package oauth

import (
	"fmt"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParams struct {
	fx.In

	Config    *config.Config
	DB        *gorm.DB
	Store     kvstore.Store
	Users     *auth.Service
	Logger    *logging.Service
	Audit     audit.Sink             `optional:"true"`
	Metrics   *metrics.Recorder      `optional:"true"`
	Encryptor refreshtoken.Encryptor `optional:"true"`
}

// ProvideOAuthService returns nil when OAuth login is disabled.
func ProvideOAuthService(p ServiceParams) (*Service, error) {
	if !p.Config.OAuth.Enabled {
		p.Logger.Info("oauth login disabled")
		return nil, nil
	}

	if err := p.DB.AutoMigrate(&ProviderToken{}); err != nil {
		return nil, fmt.Errorf("failed to migrate provider tokens table: %w", err)
	}

	svc := NewService(NewOIDCProvider(p.Config.OAuth, p.Logger), p.Store, p.Users, p.DB, p.Config, p.Logger)
	svc.SetAuditSink(p.Audit)
	svc.SetMetrics(p.Metrics)
	svc.SetEncryptor(p.Encryptor)

	p.Logger.Info("oauth login enabled",
		zap.String("provider", p.Config.OAuth.ProviderName),
		zap.String("issuer", p.Config.OAuth.Issuer))
	return svc, nil
}

var Module = fx.Module("oauth",
	fx.Provide(ProvideOAuthService),
)
