package app

import (
	"fmt"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/database"
	"github.com/tech-arch1tect/authkit/handlers/authapi"
	"github.com/tech-arch1tect/authkit/middleware/ratelimit"
	"github.com/tech-arch1tect/authkit/server"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/authcode"
	"github.com/tech-arch1tect/authkit/services/authflow"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/jwt"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/mail"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/oauth"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"github.com/tech-arch1tect/authkit/services/revocation"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type AppBuilder struct {
	config    *config.Config
	features  map[string]bool
	models    []any
	fxOptions []fx.Option
	errors    []error
	tls       *server.TLSFiles
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		features:  make(map[string]bool),
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithDatabase migrates extra application models next to the auth tables.
func (b *AppBuilder) WithDatabase(models ...any) *AppBuilder {
	b.models = append(b.models, models...)
	return b
}

func (b *AppBuilder) WithOAuth() *AppBuilder {
	b.features["oauth"] = true
	return b
}

func (b *AppBuilder) WithAuthorizationCodes() *AppBuilder {
	b.features["authcode"] = true
	return b
}

func (b *AppBuilder) WithoutAuthorizationCodes() *AppBuilder {
	b.features["no_authcode"] = true
	return b
}

func (b *AppBuilder) WithSSL(certFile, keyFile string) *AppBuilder {
	if certFile == "" || keyFile == "" {
		b.addError("SSL cert file and key file cannot be empty")
		return b
	}
	b.tls = &server.TLSFiles{CertFile: certFile, KeyFile: keyFile}
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if b.config == nil {
		if err := b.WithAutoConfig().validate(); err != nil {
			return nil, err
		}
	}
	b.applyFeatures()
	if err := b.validateFeatures(); err != nil {
		return nil, err
	}

	logger, err := b.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.ProvideDatabase(*b.config, database.WithModels(b.models...), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build services: %w", err)
	}

	app := &App{
		config: b.config,
		logger: logger,
		db:     db,
	}

	options := b.buildFxOptions(db, logger)
	options = append(options, fx.Invoke(func(srv *server.Server) {
		app.server = srv
	}))

	fxApp := fx.New(options...)
	if err := fxApp.Err(); err != nil {
		return nil, fmt.Errorf("failed to wire application: %w", err)
	}
	app.fx = fxApp

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	if b.features["authcode"] && b.features["no_authcode"] {
		return fmt.Errorf("authorization codes cannot be both enabled and disabled")
	}
	return nil
}

func (b *AppBuilder) applyFeatures() {
	if b.features["oauth"] {
		b.config.OAuth.Enabled = true
	}
	if b.features["authcode"] {
		b.config.AuthCode.Enabled = true
	}
	if b.features["no_authcode"] {
		b.config.AuthCode.Enabled = false
	}
}

// validateFeatures catches switches turned on in code after LoadConfig ran.
func (b *AppBuilder) validateFeatures() error {
	if b.config.OAuth.Enabled {
		if err := b.config.Validate(); err != nil {
			return fmt.Errorf("oauth enabled with invalid configuration: %w", err)
		}
	}
	return nil
}

func (b *AppBuilder) createLogger() (*logging.Service, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config required for logger creation")
	}

	return logging.NewService(logging.Config{
		Level:      logging.LogLevel(b.config.Log.Level),
		Format:     b.config.Log.Format,
		OutputPath: b.config.Log.Output,
	})
}

func (b *AppBuilder) buildFxOptions(db *gorm.DB, logger *logging.Service) []fx.Option {
	options := []fx.Option{
		fx.Supply(b.config),
		fx.Supply(logger),
		fx.Supply(db),
		fx.NopLogger,
		server.NewProvider(),
	}
	if b.tls != nil {
		options = append(options, fx.Supply(b.tls))
	}

	options = append(options,
		metrics.Module,
		audit.Module,
		kvstore.Module,
		auth.Module,
		mail.Module,
		session.Module,
		refreshtoken.Options,
		revocation.Module,
		jwt.Options,
		csrf.Module,
		ratelimit.Module,
		authflow.Module,
		oauth.Module,
		authcode.Module,
		authapi.Module,
	)

	return append(options, b.fxOptions...)
}
