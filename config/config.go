package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

type CountingMode string

const (
	CountAll      CountingMode = "all"
	CountFailures CountingMode = "failures"
	CountSuccess  CountingMode = "success"
)

type Config struct {
	App          AppConfig          `envPrefix:"APP_"`
	Server       ServerConfig       `envPrefix:"SERVER_"`
	Log          LogConfig          `envPrefix:"LOG_"`
	Database     DatabaseConfig     `envPrefix:"DATABASE_"`
	Auth         AuthConfig         `envPrefix:"AUTH_"`
	JWT          JWTConfig          `envPrefix:"JWT_"`
	RefreshToken RefreshTokenConfig `envPrefix:"REFRESH_TOKEN_"`
	Session      SessionConfig      `envPrefix:"SESSION_"`
	CSRF         CSRFConfig         `envPrefix:"CSRF_"`
	OAuth        OAuthConfig        `envPrefix:"OAUTH_"`
	AuthCode     AuthCodeConfig     `envPrefix:"AUTH_CODE_"`
	Store        StoreConfig        `envPrefix:"STORE_"`
	Risk         RiskConfig         `envPrefix:"RISK_"`
	Revocation   RevocationConfig   `envPrefix:"REVOCATION_"`
	RateLimit    RateLimitConfig    `envPrefix:"RATE_LIMIT_"`
	Audit        AuditConfig        `envPrefix:"AUDIT_"`
	Mail         MailConfig         `envPrefix:"MAIL_"`
}

type AppConfig struct {
	Name        string      `env:"NAME" envDefault:"authkit"`
	URL         string      `env:"URL" envDefault:"http://localhost:8080"`
	Environment Environment `env:"ENVIRONMENT" envDefault:"development"`
}

type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	Host           string   `env:"HOST" envDefault:"localhost"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"authkit.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type AuthConfig struct {
	MinLength             int    `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	RequireUpper          bool   `env:"PASSWORD_REQUIRE_UPPER" envDefault:"true"`
	RequireLower          bool   `env:"PASSWORD_REQUIRE_LOWER" envDefault:"true"`
	RequireNumber         bool   `env:"PASSWORD_REQUIRE_NUMBER" envDefault:"true"`
	RequireSpecial        bool   `env:"PASSWORD_REQUIRE_SPECIAL" envDefault:"false"`
	BcryptCost            int    `env:"BCRYPT_COST" envDefault:"10"`
	DefaultRole           string `env:"DEFAULT_ROLE" envDefault:"user"`
	AutoLinkVerifiedEmail bool   `env:"AUTO_LINK_VERIFIED_EMAIL" envDefault:"true"`
}

type JWTConfig struct {
	SecretKey    string        `env:"SECRET_KEY"`
	Algorithm    string        `env:"ALGORITHM" envDefault:"HS256"`
	Issuer       string        `env:"ISSUER" envDefault:"authkit"`
	Audience     string        `env:"AUDIENCE" envDefault:"authkit-api"`
	AccessExpiry time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
}

type RefreshTokenConfig struct {
	TokenLength     int           `env:"TOKEN_LENGTH" envDefault:"32"`
	Expiry          time.Duration `env:"EXPIRY" envDefault:"720h"`
	RetentionWindow time.Duration `env:"RETENTION_WINDOW" envDefault:"168h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CookieName      string        `env:"COOKIE_NAME" envDefault:"refresh_token"`
	CookiePath      string        `env:"COOKIE_PATH" envDefault:"/auth"`
}

type SessionConfig struct {
	TTL             time.Duration `env:"TTL" envDefault:"720h"`
	MaxPerUser      int           `env:"MAX_PER_USER" envDefault:"10"`
	ReauthWindow    time.Duration `env:"REAUTH_WINDOW" envDefault:"15m"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CookieName      string        `env:"COOKIE_NAME" envDefault:"sid"`
}

type CSRFConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	TokenLength    int           `env:"TOKEN_LENGTH" envDefault:"32"`
	TTL            time.Duration `env:"TTL" envDefault:"24h"`
	HeaderName     string        `env:"HEADER_NAME" envDefault:"X-CSRF-Token"`
	CookieName     string        `env:"COOKIE_NAME" envDefault:"csrf_token"`
	CookieDomain   string        `env:"COOKIE_DOMAIN"`
	CookiePath     string        `env:"COOKIE_PATH" envDefault:"/"`
	CookieSameSite string        `env:"COOKIE_SAME_SITE" envDefault:"strict"`
	ExcludedPaths  []string      `env:"EXCLUDED_PATHS" envSeparator:"," envDefault:"/auth/login,/auth/token,/auth/oauth/*,/healthz,/metrics"`
	Permissive     bool          `env:"PERMISSIVE" envDefault:"false"`
}

type OAuthConfig struct {
	Enabled                bool          `env:"ENABLED" envDefault:"false"`
	ProviderName           string        `env:"PROVIDER_NAME" envDefault:"oidc"`
	ClientID               string        `env:"CLIENT_ID"`
	ClientSecret           string        `env:"CLIENT_SECRET"`
	AuthURL                string        `env:"AUTH_URL"`
	TokenURL               string        `env:"TOKEN_URL"`
	JWKSURL                string        `env:"JWKS_URL"`
	Issuer                 string        `env:"ISSUER"`
	CallbackURL            string        `env:"CALLBACK_URL"`
	Scopes                 []string      `env:"SCOPES" envSeparator:"," envDefault:"openid,email,profile"`
	StateTTL               time.Duration `env:"STATE_TTL" envDefault:"10m"`
	HTTPTimeout            time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	JWKSCacheTTL           time.Duration `env:"JWKS_CACHE_TTL" envDefault:"1h"`
	ClockSkew              time.Duration `env:"CLOCK_SKEW" envDefault:"1m"`
	FrontendSuccessURL     string        `env:"FRONTEND_SUCCESS_URL" envDefault:"http://localhost:3000/auth/success"`
	FrontendErrorURL       string        `env:"FRONTEND_ERROR_URL" envDefault:"http://localhost:3000/auth/error"`
	AllowedRedirectOrigins []string      `env:"ALLOWED_REDIRECT_ORIGINS" envSeparator:","`
}

type AuthCodeConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	TTL          time.Duration `env:"TTL" envDefault:"5m"`
	CodeLength   int           `env:"CODE_LENGTH" envDefault:"32"`
	ClientIDs    []string      `env:"CLIENT_IDS" envSeparator:","`
	RedirectURIs []string      `env:"REDIRECT_URIS" envSeparator:","`
	ClientsFile  string        `env:"CLIENTS_FILE"`
}

type StoreConfig struct {
	Driver        string        `env:"DRIVER" envDefault:"memory"`
	KeyPrefix     string        `env:"KEY_PREFIX" envDefault:"authkit:"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
}

type RiskConfig struct {
	EscalateSuspicious  bool          `env:"ESCALATE_SUSPICIOUS" envDefault:"false"`
	MaxRotationsPerHour int           `env:"MAX_ROTATIONS_PER_HOUR" envDefault:"30"`
	RefreshGrace        time.Duration `env:"REFRESH_GRACE" envDefault:"0s"`
}

type RevocationConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"true"`
	Store         string        `env:"STORE" envDefault:"memory"`
	CleanupPeriod time.Duration `env:"CLEANUP_PERIOD" envDefault:"1h"`
}

type RateLimitConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	Store        string        `env:"STORE" envDefault:"memory"`
	LoginRate    int           `env:"LOGIN_RATE" envDefault:"10"`
	TokenRate    int           `env:"TOKEN_RATE" envDefault:"30"`
	Period       time.Duration `env:"PERIOD" envDefault:"1m"`
	CountingMode CountingMode  `env:"COUNTING_MODE" envDefault:"failures"`
}

type AuditConfig struct {
	Async      bool `env:"ASYNC" envDefault:"true"`
	BufferSize int  `env:"BUFFER_SIZE" envDefault:"256"`
}

// MailConfig configures the SMTP relay used for security alerts.
type MailConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"false"`
	Host          string        `env:"HOST" envDefault:"localhost"`
	Port          int           `env:"PORT" envDefault:"587"`
	Username      string        `env:"USERNAME"`
	Password      string        `env:"PASSWORD"`
	Encryption    string        `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress   string        `env:"FROM_ADDRESS"`
	FromName      string        `env:"FROM_NAME" envDefault:"authkit"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
	AlertCooldown time.Duration `env:"ALERT_COOLDOWN" envDefault:"10m"`
}

func (c *Config) IsProduction() bool {
	return c != nil && c.App.Environment == EnvProduction
}

var weakSecretPatterns = []string{
	"secret",
	"password",
	"changeme",
	"123456",
	"qwerty",
	"default",
	"example",
}

// LoadConfig reads an optional .env file and then the process environment.
// A *Config is validated after parsing.
func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	if c, ok := cfg.(*Config); ok {
		return c.Validate()
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.App.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("unsupported environment: %s", c.App.Environment))
	}

	errs = append(errs, validateJWTConfig(&c.JWT))
	errs = append(errs, validateRefreshTokenConfig(&c.RefreshToken))

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session TTL must be positive"))
	}
	if c.Session.MaxPerUser < 0 {
		errs = append(errs, errors.New("session max per user cannot be negative"))
	}
	if c.CSRF.Enabled && c.CSRF.TokenLength < 16 {
		errs = append(errs, fmt.Errorf("CSRF token length must be at least 16 bytes, got %d", c.CSRF.TokenLength))
	}
	if c.OAuth.Enabled {
		errs = append(errs, validateOAuthConfig(&c.OAuth))
	}
	if c.AuthCode.TTL <= 0 || c.AuthCode.TTL > 10*time.Minute {
		errs = append(errs, fmt.Errorf("authorization code TTL must be between 0 and 10m, got %s", c.AuthCode.TTL))
	}
	if c.Mail.Enabled {
		errs = append(errs, validateMailConfig(&c.Mail))
	}
	switch c.Store.Driver {
	case "memory", "redis", "database":
	default:
		errs = append(errs, fmt.Errorf("unsupported store driver: %s (supported: memory, redis, database)", c.Store.Driver))
	}

	return errors.Join(errs...)
}

func validateJWTConfig(cfg *JWTConfig) error {
	if cfg.SecretKey == "" {
		return errors.New("JWT secret key is required")
	}
	if len(cfg.SecretKey) < 32 {
		return fmt.Errorf("JWT secret key must be at least 32 characters, got %d", len(cfg.SecretKey))
	}

	lower := strings.ToLower(cfg.SecretKey)
	for _, pattern := range weakSecretPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("JWT secret key contains weak pattern %q", pattern)
		}
	}

	if cfg.Algorithm != "HS256" {
		return fmt.Errorf("unsupported JWT algorithm: %s (supported: HS256)", cfg.Algorithm)
	}
	if cfg.AccessExpiry <= 0 {
		return errors.New("JWT access expiry must be positive")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return errors.New("JWT issuer and audience are required")
	}
	return nil
}

func validateRefreshTokenConfig(cfg *RefreshTokenConfig) error {
	if cfg.TokenLength < 32 || cfg.TokenLength > 128 {
		return fmt.Errorf("refresh token length must be between 32 and 128 bytes, got %d", cfg.TokenLength)
	}
	if cfg.Expiry <= 0 {
		return errors.New("refresh token expiry must be positive")
	}
	if cfg.RetentionWindow < 0 {
		return errors.New("refresh token retention window cannot be negative")
	}
	return nil
}

func validateOAuthConfig(cfg *OAuthConfig) error {
	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if cfg.AuthURL == "" {
		missing = append(missing, "auth url")
	}
	if cfg.TokenURL == "" {
		missing = append(missing, "token url")
	}
	if cfg.JWKSURL == "" {
		missing = append(missing, "jwks url")
	}
	if cfg.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if cfg.CallbackURL == "" {
		missing = append(missing, "callback url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("OAuth enabled but missing: %s", strings.Join(missing, ", "))
	}
	if cfg.HTTPTimeout <= 0 {
		return errors.New("OAuth HTTP timeout must be positive")
	}
	return nil
}

func validateMailConfig(cfg *MailConfig) error {
	if cfg.Host == "" || cfg.FromAddress == "" {
		return errors.New("mail enabled but host or from address is missing")
	}
	switch cfg.Encryption {
	case "starttls", "tls", "ssl", "none":
	default:
		return fmt.Errorf("unsupported mail encryption: %s (supported: starttls, tls, ssl, none)", cfg.Encryption)
	}
	return nil
}
