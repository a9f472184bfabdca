package jwt

import (
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
)

func NewJWTService(cfg *config.Config, logger *logging.Service) *Service {
	return NewService(cfg, logger)
}

type OptionalRevocationChecker struct {
	fx.In
	Checker RevocationChecker `optional:"true"`
}

func WireRevocationChecker(jwtSvc *Service, opt OptionalRevocationChecker) {
	if jwtSvc != nil && opt.Checker != nil {
		jwtSvc.SetRevocationChecker(opt.Checker)
	}
}

var Options = fx.Options(
	fx.Provide(NewJWTService),
	fx.Invoke(WireRevocationChecker),
)
