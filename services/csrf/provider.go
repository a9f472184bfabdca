package csrf

import (
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
)

func ProvideBinder(store kvstore.Store, cfg *config.Config, logger *logging.Service) *Binder {
	return NewBinder(store, cfg, logger)
}

var Module = fx.Module("csrf",
	fx.Provide(ProvideBinder),
)
