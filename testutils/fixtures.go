package testutils

import (
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"golang.org/x/crypto/bcrypt"
)

const TestSecret = "a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0u1v2w3x4y5z6"

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:        "authkit-test",
			URL:         "http://localhost:8080",
			Environment: config.EnvTest,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    ":memory:",
		},
		Auth: config.AuthConfig{
			MinLength:             8,
			RequireUpper:          true,
			RequireLower:          true,
			RequireNumber:         true,
			BcryptCost:            bcrypt.MinCost,
			DefaultRole:           "user",
			AutoLinkVerifiedEmail: true,
		},
		JWT: config.JWTConfig{
			SecretKey:    TestSecret,
			Algorithm:    "HS256",
			Issuer:       "authkit-test",
			Audience:     "authkit-test-api",
			AccessExpiry: 15 * time.Minute,
		},
		RefreshToken: config.RefreshTokenConfig{
			TokenLength:     32,
			Expiry:          24 * time.Hour,
			RetentionWindow: time.Hour,
			CookieName:      "refresh_token",
			CookiePath:      "/auth",
		},
		Session: config.SessionConfig{
			TTL:          24 * time.Hour,
			MaxPerUser:   5,
			ReauthWindow: 15 * time.Minute,
			CookieName:   "sid",
		},
		CSRF: config.CSRFConfig{
			Enabled:        true,
			TokenLength:    32,
			TTL:            time.Hour,
			HeaderName:     "X-CSRF-Token",
			CookieName:     "csrf_token",
			CookiePath:     "/",
			CookieSameSite: "strict",
			ExcludedPaths:  []string{"/auth/login", "/auth/token", "/auth/oauth/*", "/healthz", "/metrics"},
		},
		OAuth: config.OAuthConfig{
			ProviderName:       "oidc",
			ClientID:           "authkit-client",
			ClientSecret:       "provider-client-credential",
			CallbackURL:        "http://localhost:8080/auth/oauth/oidc/callback",
			Scopes:             []string{"openid", "email", "profile"},
			StateTTL:           10 * time.Minute,
			HTTPTimeout:        5 * time.Second,
			JWKSCacheTTL:       time.Hour,
			ClockSkew:          time.Minute,
			FrontendSuccessURL: "http://localhost:3000/auth/success",
			FrontendErrorURL:   "http://localhost:3000/auth/error",
		},
		AuthCode: config.AuthCodeConfig{
			Enabled:      true,
			TTL:          5 * time.Minute,
			CodeLength:   32,
			ClientIDs:    []string{"web-app"},
			RedirectURIs: []string{"http://localhost:3000/callback"},
		},
		Store: config.StoreConfig{
			Driver:        "memory",
			KeyPrefix:     "authkit-test:",
			SweepInterval: time.Minute,
		},
		Risk: config.RiskConfig{
			MaxRotationsPerHour: 30,
		},
		Revocation: config.RevocationConfig{
			Enabled:       true,
			Store:         "memory",
			CleanupPeriod: time.Hour,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:      false,
			LoginRate:    10,
			TokenRate:    30,
			Period:       time.Minute,
			CountingMode: config.CountFailures,
		},
		Audit: config.AuditConfig{
			BufferSize: 16,
		},
	}
}

var TestUsers = struct {
	Email    string
	Password string
}{
	Email:    "alice@example.com",
	Password: "Correct-Horse-9",
}
