// Package metrics exposes authentication counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

const namespace = "authkit"

// Recorder owns a private registry so tests and multiple apps in one process
// never collide on the global default registry. A nil *Recorder is a no-op.
type Recorder struct {
	registry *prometheus.Registry

	logins          *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	reuseDetected   prometheus.Counter
	deduplicated    prometheus.Counter
	csrfFailures    *prometheus.CounterVec
	oauthCallbacks  *prometheus.CounterVec
	authCodes       *prometheus.CounterVec
	riskSignals     *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	activeRotations prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by method and result.",
		}, []string{"method", "result"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_rotations_total",
			Help:      "Refresh credential rotations by result.",
		}, []string{"result"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Replays of already-rotated refresh credentials.",
		}),
		deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_deduplicated_total",
			Help:      "Refresh calls that joined an in-flight rotation.",
		}),
		csrfFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_failures_total",
			Help:      "CSRF validation failures by reason.",
		}, []string{"reason"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "Identity provider callbacks by result.",
		}, []string{"result"}),
		authCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_codes_total",
			Help:      "First-party authorization code operations.",
		}, []string{"op", "result"}),
		riskSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_risk_signals_total",
			Help:      "Heuristic risk signals raised during refresh.",
		}, []string{"signal"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limit, by scope.",
		}, []string{"scope"}),
		activeRotations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_in_flight",
			Help:      "Rotations currently in flight.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.logins,
		r.rotations,
		r.reuseDetected,
		r.deduplicated,
		r.csrfFailures,
		r.oauthCallbacks,
		r.authCodes,
		r.riskSignals,
		r.rateLimited,
		r.activeRotations,
	)

	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Login(method, result string) {
	if r != nil {
		r.logins.WithLabelValues(method, result).Inc()
	}
}

func (r *Recorder) Rotation(result string) {
	if r != nil {
		r.rotations.WithLabelValues(result).Inc()
	}
}

func (r *Recorder) ReuseDetected() {
	if r != nil {
		r.reuseDetected.Inc()
	}
}

func (r *Recorder) Deduplicated() {
	if r != nil {
		r.deduplicated.Inc()
	}
}

func (r *Recorder) CSRFFailure(reason string) {
	if r != nil {
		r.csrfFailures.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) OAuthCallback(result string) {
	if r != nil {
		r.oauthCallbacks.WithLabelValues(result).Inc()
	}
}

func (r *Recorder) AuthCode(op, result string) {
	if r != nil {
		r.authCodes.WithLabelValues(op, result).Inc()
	}
}

func (r *Recorder) RiskSignal(signal string) {
	if r != nil {
		r.riskSignals.WithLabelValues(signal).Inc()
	}
}

func (r *Recorder) RateLimited(scope string) {
	if r != nil {
		r.rateLimited.WithLabelValues(scope).Inc()
	}
}

func (r *Recorder) RotationStarted() {
	if r != nil {
		r.activeRotations.Inc()
	}
}

func (r *Recorder) RotationFinished() {
	if r != nil {
		r.activeRotations.Dec()
	}
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) EchoHandler() echo.HandlerFunc {
	return echo.WrapHandler(r.Handler())
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
