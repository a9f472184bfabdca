// Package authkit wires the token, session and login services into a
// runnable HTTP application.
package authkit

import (
	"github.com/tech-arch1tect/authkit/app"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/internal/options"
	"go.uber.org/fx"
)

type App = app.App

type Option = options.Option

// New builds an application. Without WithConfig the configuration is loaded
// from the environment.
func New(opts ...Option) (*App, error) {
	o := options.Apply(opts...)

	b := app.NewApp()
	if o.Config != nil {
		b.WithConfig(o.Config)
	}
	if len(o.DatabaseModels) > 0 {
		b.WithDatabase(o.DatabaseModels...)
	}
	if o.EnableOAuth {
		b.WithOAuth()
	}
	if o.AuthorizationCodes != nil {
		if *o.AuthorizationCodes {
			b.WithAuthorizationCodes()
		} else {
			b.WithoutAuthorizationCodes()
		}
	}
	if o.CertFile != "" || o.KeyFile != "" {
		b.WithSSL(o.CertFile, o.KeyFile)
	}
	if len(o.ExtraFxOptions) > 0 {
		b.WithFxOptions(o.ExtraFxOptions...)
	}

	return b.Build()
}

func WithConfig(cfg *config.Config) Option {
	return options.WithConfig(cfg)
}

func WithDatabase(models ...any) Option {
	return options.WithDatabase(models...)
}

func WithOAuth() Option {
	return options.WithOAuth()
}

func WithAuthorizationCodes(enabled bool) Option {
	return options.WithAuthorizationCodes(enabled)
}

func WithSSL(certFile, keyFile string) Option {
	return options.WithSSL(certFile, keyFile)
}

func WithFxOptions(opts ...fx.Option) Option {
	return options.WithFxOptions(opts...)
}
