package server

import (
	"context"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config *config.Config
	Logger *logging.Service
	TLS    *TLSFiles `optional:"true"`
}

func Provide(p Params) *Server {
	srv := New(p.Config, p.Logger)
	srv.SetTLS(p.TLS)
	return srv
}

func NewProvider() fx.Option {
	return fx.Options(
		fx.Provide(Provide),
		fx.Invoke(func(lc fx.Lifecycle, srv *Server, logger *logging.Service) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						if err := srv.Start(); err != nil {
							logger.Error("server stopped unexpectedly", zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return srv.Shutdown(ctx)
				},
			})
		}),
	)
}
