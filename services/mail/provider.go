package mail

import (
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
)

// ProvideMailService returns nil when mail is disabled.
func ProvideMailService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	if !cfg.Mail.Enabled {
		return nil, nil
	}
	return NewService(&cfg.Mail, logger)
}

type AlertParams struct {
	fx.In

	Mailer *Service `optional:"true"`
	Users  *auth.Service
	Store  kvstore.Store
	Config *config.Config
	Logger *logging.Service
}

func ProvideAlertSink(p AlertParams) audit.Sink {
	if p.Mailer == nil {
		return nil
	}
	return NewAlertSink(p.Mailer, p.Users, p.Store, p.Config.Mail.AlertCooldown, p.Logger)
}

var Module = fx.Module("mail",
	fx.Provide(
		ProvideMailService,
		fx.Annotate(ProvideAlertSink, fx.ResultTags(`group:"audit_sinks"`)),
	),
)
