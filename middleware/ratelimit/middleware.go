package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"go.uber.org/zap"
)

type Config struct {
	Store          Store
	Rate           int
	Period         time.Duration
	CountMode      config.CountingMode
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context) error

	// Scope labels log lines and metrics, e.g. "login".
	Scope   string
	Logger  *logging.Service
	Metrics *metrics.Recorder
}

func Middleware(cfg *Config) echo.MiddlewareFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}

	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}

	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	if cfg.CountMode == "" {
		cfg.CountMode = config.CountAll
	}

	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	logger := cfg.Logger.Named("ratelimit")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.KeyGenerator(c)
			now := time.Now()
			resetTime := now.Add(cfg.Period)

			count, existingResetTime, exists := cfg.Store.Get(key)
			if exists {
				resetTime = existingResetTime
			}

			header := c.Response().Header()
			if count >= cfg.Rate {
				header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Rate))
				header.Set("X-RateLimit-Remaining", "0")
				header.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
				header.Set("Retry-After", strconv.Itoa(retryAfter(resetTime, now)))

				cfg.Metrics.RateLimited(cfg.Scope)
				logger.Warn("rate limit reached",
					zap.String("scope", cfg.Scope),
					zap.String("ip", c.RealIP()),
					zap.Int("limit", cfg.Rate))
				return cfg.OnLimitReached(c)
			}

			var newCount int
			if cfg.CountMode == config.CountAll {
				newCount = cfg.Store.Increment(key, resetTime)
			} else {
				// provisional slot so concurrent requests cannot all pass
				newCount = count + 1
				cfg.Store.Set(key, newCount, resetTime)
			}

			header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Rate))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(max(cfg.Rate-newCount, 0)))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			err := next(c)

			if cfg.CountMode != config.CountAll {
				status := c.Response().Status
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}

				var shouldCount bool
				switch cfg.CountMode {
				case config.CountFailures:
					shouldCount = status >= 400
				case config.CountSuccess:
					shouldCount = status < 400
				}

				switch {
				case shouldCount:
					cfg.Store.Set(key, count+1, resetTime)
				case count > 0:
					cfg.Store.Set(key, count, resetTime)
				default:
					cfg.Store.Reset(key)
				}
			}

			return err
		}
	}
}

func retryAfter(reset, now time.Time) int {
	secs := int(reset.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

func DefaultKeyGenerator(c echo.Context) string {
	return "rate_limit:" + clientIP(c)
}

// ScopedKeyGenerator keeps separate budgets per endpoint family.
func ScopedKeyGenerator(scope string) func(c echo.Context) string {
	return func(c echo.Context) string {
		return "rate_limit:" + scope + ":" + clientIP(c)
	}
}

// SecureKeyGenerator also splits by user agent, so clients sharing a NAT
// address do not exhaust each other's budget.
func SecureKeyGenerator(c echo.Context) string {
	ua := c.Request().Header.Get("User-Agent")
	uaKey := "none"
	if ua != "" {
		uaKey = logging.TokenFingerprint(ua)
	}
	return "rate_limit:" + clientIP(c) + ":" + uaKey
}

func clientIP(c echo.Context) string {
	ip := c.RealIP()
	if ip == "" || ip == "unknown" {
		return "fallback"
	}
	return ip
}

func DefaultOnLimitReached(c echo.Context) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}

func NewStore(rateLimitConfig *config.RateLimitConfig) Store {
	switch rateLimitConfig.Store {
	case "memory":
		fallthrough
	default:
		return NewMemoryStore()
	}
}

func WithConfig(cfg *Config) echo.MiddlewareFunc {
	return Middleware(cfg)
}
