package audit

import (
	"context"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
)

type SinkParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *logging.Service
	Extra     []Sink `group:"audit_sinks"`
}

// ProvideSink logs every event and forwards it to sinks contributed to the
// audit_sinks group. Delivery is asynchronous when AUDIT_ASYNC is set.
func ProvideSink(p SinkParams) Sink {
	var sink Sink = NewLogSink(p.Logger)
	if extra := compact(p.Extra); len(extra) > 0 {
		sink = NewFanout(append([]Sink{sink}, extra...)...)
	}
	if !p.Config.Audit.Async {
		return sink
	}

	async := NewAsyncSink(sink, p.Config.Audit.BufferSize, p.Logger)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		},
	})
	return async
}

func compact(sinks []Sink) []Sink {
	out := sinks[:0:0]
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

var Module = fx.Module("audit",
	fx.Provide(ProvideSink),
)
