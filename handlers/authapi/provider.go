package authapi

import (
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/middleware/ratelimit"
	"github.com/tech-arch1tect/authkit/server"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/authcode"
	"github.com/tech-arch1tect/authkit/services/authflow"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/jwt"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/oauth"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	Config   *config.Config
	Logger   *logging.Service
	Flow     *authflow.Service
	Tokens   *jwt.Service
	Sessions *session.Manager
	Binder   *csrf.Binder
	OAuth    *oauth.Service    `optional:"true"`
	Codes    *authcode.Service `optional:"true"`
	Limits   *ratelimit.Limits `optional:"true"`
	Audit    audit.Sink        `optional:"true"`
	Metrics  *metrics.Recorder `optional:"true"`
}

func ProvideHandler(p HandlerParams) *Handler {
	return New(Deps{
		Flow:     p.Flow,
		Tokens:   p.Tokens,
		Sessions: p.Sessions,
		Binder:   p.Binder,
		OAuth:    p.OAuth,
		Codes:    p.Codes,
		Limits:   p.Limits,
		Audit:    p.Audit,
		Metrics:  p.Metrics,
		Config:   p.Config,
		Logger:   p.Logger,
	})
}

func RegisterRoutes(h *Handler, srv *server.Server) {
	h.Register(srv.Echo())
}

var Module = fx.Module("authapi",
	fx.Provide(ProvideHandler),
	fx.Invoke(RegisterRoutes),
)
