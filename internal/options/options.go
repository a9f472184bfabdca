package options

import (
	"github.com/tech-arch1tect/authkit/config"
	"go.uber.org/fx"
)

type Options struct {
	Config             *config.Config
	DatabaseModels     []any
	EnableOAuth        bool
	AuthorizationCodes *bool
	CertFile           string
	KeyFile            string
	ExtraFxOptions     []fx.Option
}

type Option func(*Options)

func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithConfig(cfg *config.Config) Option {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

func WithDatabase(models ...any) Option {
	return func(opts *Options) {
		opts.DatabaseModels = append(opts.DatabaseModels, models...)
	}
}

func WithOAuth() Option {
	return func(opts *Options) {
		opts.EnableOAuth = true
	}
}

// WithAuthorizationCodes overrides AUTH_CODE_ENABLED.
func WithAuthorizationCodes(enabled bool) Option {
	return func(opts *Options) {
		opts.AuthorizationCodes = &enabled
	}
}

func WithSSL(certFile, keyFile string) Option {
	return func(opts *Options) {
		opts.CertFile = certFile
		opts.KeyFile = keyFile
	}
}

func WithFxOptions(fxOpts ...fx.Option) Option {
	return func(opts *Options) {
		opts.ExtraFxOptions = append(opts.ExtraFxOptions, fxOpts...)
	}
}
