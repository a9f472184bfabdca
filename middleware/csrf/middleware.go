package csrf

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/authkit/config"
	jwtmw "github.com/tech-arch1tect/authkit/middleware/jwt"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"go.uber.org/zap"
)

type Config struct {
	Binder   *csrf.Binder
	Settings *config.Config
	Audit    audit.Sink
	Metrics  *metrics.Recorder
	Logger   *logging.Service

	// Skipper runs before the built-in safe-method and exclusion checks.
	Skipper middleware.Skipper
	// SessionID resolves the session the request claims to belong to.
	SessionID func(c echo.Context) uint
}

func Middleware(binder *csrf.Binder, cfg *config.Config) echo.MiddlewareFunc {
	return WithConfig(Config{Binder: binder, Settings: cfg})
}

// WithConfig validates unsafe requests against the session-bound token.
// Production always rejects; other environments may run permissive.
func WithConfig(cfg Config) echo.MiddlewareFunc {
	if !cfg.Settings.CSRF.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}
	if cfg.Skipper == nil {
		cfg.Skipper = middleware.DefaultSkipper
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopSink{}
	}
	if cfg.SessionID == nil {
		cookieName := cfg.Settings.Session.CookieName
		cfg.SessionID = func(c echo.Context) uint { return SessionIDFromRequest(c, cookieName) }
	}
	logger := cfg.Logger.Named("csrf")
	permissive := cfg.Settings.CSRF.Permissive && !cfg.Settings.IsProduction()
	excluded := cfg.Settings.CSRF.ExcludedPaths

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if cfg.Skipper(c) || safeMethod(req.Method) || Excluded(req.URL.Path, excluded) {
				return next(c)
			}

			header := req.Header.Get(cfg.Binder.HeaderName())
			var cookie string
			if ck, err := c.Cookie(cfg.Binder.CookieName()); err == nil {
				cookie = ck.Value
			}
			sessionID := cfg.SessionID(c)

			err := cfg.Binder.Validate(req.Context(), header, cookie, sessionID)
			if err == nil {
				return next(c)
			}

			if !errors.Is(err, csrf.ErrValidationFailed) {
				logger.Error("csrf check unavailable", zap.Error(err))
				return echo.NewHTTPError(http.StatusServiceUnavailable, "CSRF check unavailable").SetInternal(err)
			}

			reason := csrf.Reason(err)
			cfg.Metrics.CSRFFailure(reason)
			cfg.Audit.Record(req.Context(), audit.Event{
				Type:      audit.EventCSRFFailed,
				Severity:  audit.SeverityWarning,
				SessionID: sessionID,
				IPAddress: c.RealIP(),
				UserAgent: req.UserAgent(),
				Details:   map[string]any{"reason": reason, "path": req.URL.Path, "method": req.Method},
			})

			if permissive {
				logger.Warn("csrf validation failed, allowing in permissive mode",
					zap.String("reason", reason),
					zap.String("path", req.URL.Path))
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "CSRF validation failed")
		}
	}
}

// SessionIDFromRequest prefers the session cookie and falls back to access
// token claims set by an earlier middleware.
func SessionIDFromRequest(c echo.Context, cookieName string) uint {
	if ck, err := c.Cookie(cookieName); err == nil && ck.Value != "" {
		if id, err := strconv.ParseUint(ck.Value, 10, 64); err == nil {
			return uint(id)
		}
	}
	if claims := jwtmw.GetClaims(c); claims != nil {
		return claims.SessionID
	}
	return 0
}

// Excluded matches exact paths and "/prefix/*" patterns.
func Excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
