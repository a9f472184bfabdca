package authflow

import (
	"context"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/jwt"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"github.com/tech-arch1tect/authkit/services/revocation"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/fx"
)

type ServiceParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Logger     *logging.Service
	Users      *auth.Service
	Sessions   *session.Manager
	Refresh    *refreshtoken.Service
	Tokens     *jwt.Service
	Binder     *csrf.Binder
	Revocation *revocation.Service `optional:"true"`
	Audit      audit.Sink          `optional:"true"`
	Metrics    *metrics.Recorder   `optional:"true"`
}

func ProvideAuthFlowService(p ServiceParams) *Service {
	svc := NewService(p.Users, p.Sessions, p.Refresh, p.Tokens, p.Binder, p.Config, p.Logger)
	svc.SetRevocation(p.Revocation)
	svc.SetAuditSink(p.Audit)
	svc.SetMetrics(p.Metrics)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			svc.Close()
			return nil
		},
	})
	return svc
}

var Module = fx.Module("authflow",
	fx.Provide(ProvideAuthFlowService),
)
