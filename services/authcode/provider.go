package authcode

import (
	"context"
	"fmt"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	DB        *gorm.DB
	Logger    *logging.Service
	Audit     audit.Sink        `optional:"true"`
	Metrics   *metrics.Recorder `optional:"true"`
}

// ProvideAuthCodeService returns nil when the grant is disabled.
func ProvideAuthCodeService(p ServiceParams) (*Service, error) {
	if !p.Config.AuthCode.Enabled {
		return nil, nil
	}

	registry, err := LoadRegistry(p.Config.AuthCode)
	if err != nil {
		return nil, err
	}
	if err := p.DB.AutoMigrate(&AuthorizationCode{}); err != nil {
		return nil, fmt.Errorf("failed to migrate authorization codes table: %w", err)
	}

	svc := NewService(p.DB, registry, p.Config, p.Logger)
	svc.SetAuditSink(p.Audit)
	svc.SetMetrics(p.Metrics)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.StartCleanupWorker(p.Config.AuthCode.TTL)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			svc.StopCleanupWorker()
			return nil
		},
	})

	p.Logger.Info("authorization code grant enabled", zap.Int("clients", registry.Len()))
	return svc, nil
}

var Module = fx.Module("authcode",
	fx.Provide(ProvideAuthCodeService),
)
