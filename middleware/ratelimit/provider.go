package ratelimit

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"go.uber.org/fx"
)

// Limits holds the per-endpoint limiters. Both are pass-through when rate
// limiting is disabled.
type Limits struct {
	Login echo.MiddlewareFunc
	Token echo.MiddlewareFunc
}

type LimitsParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *logging.Service
	Metrics   *metrics.Recorder `optional:"true"`
}

func ProvideRateLimitStore(cfg *config.Config) Store {
	return NewStore(&cfg.RateLimit)
}

func ProvideLimits(p LimitsParams, store Store) *Limits {
	return NewLimits(p.Config, store, p.Logger, p.Metrics, p.Lifecycle)
}

// NewLimits builds the login and token limiters over one store. lc may be nil
// outside an fx app.
func NewLimits(cfg *config.Config, store Store, logger *logging.Service, m *metrics.Recorder, lc fx.Lifecycle) *Limits {
	if !cfg.RateLimit.Enabled {
		pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		return &Limits{Login: pass, Token: pass}
	}

	if ms, ok := store.(*MemoryStore); ok && lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				ms.Close()
				return nil
			},
		})
	}

	limiter := func(scope string, rate int) echo.MiddlewareFunc {
		return Middleware(&Config{
			Store:        store,
			Rate:         rate,
			Period:       cfg.RateLimit.Period,
			CountMode:    cfg.RateLimit.CountingMode,
			KeyGenerator: ScopedKeyGenerator(scope),
			Scope:        scope,
			Logger:       logger,
			Metrics:      m,
		})
	}

	return &Limits{
		Login: limiter("login", cfg.RateLimit.LoginRate),
		Token: limiter("token", cfg.RateLimit.TokenRate),
	}
}

var Module = fx.Module("ratelimit",
	fx.Provide(ProvideRateLimitStore),
	fx.Provide(ProvideLimits),
)
