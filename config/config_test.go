package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0u1v2w3x4y5z6"

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("JWT_SECRET_KEY", testSecret)
	defer os.Unsetenv("JWT_SECRET_KEY")

	var cfg Config
	err := LoadConfig(&cfg)

	require.NoError(t, err)

	assert.Equal(t, "authkit", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
	assert.Equal(t, "authkit", cfg.JWT.Issuer)
	assert.Equal(t, "authkit-api", cfg.JWT.Audience)
	assert.Equal(t, 32, cfg.RefreshToken.TokenLength)
	assert.Equal(t, 720*time.Hour, cfg.RefreshToken.Expiry)
	assert.Equal(t, "refresh_token", cfg.RefreshToken.CookieName)
	assert.Equal(t, 10, cfg.Session.MaxPerUser)
	assert.Equal(t, 15*time.Minute, cfg.Session.ReauthWindow)
	assert.Equal(t, "X-CSRF-Token", cfg.CSRF.HeaderName)
	assert.Equal(t, "strict", cfg.CSRF.CookieSameSite)
	assert.Contains(t, cfg.CSRF.ExcludedPaths, "/auth/oauth/*")
	assert.Equal(t, 10*time.Minute, cfg.OAuth.StateTTL)
	assert.Equal(t, []string{"openid", "email", "profile"}, cfg.OAuth.Scopes)
	assert.Equal(t, 5*time.Minute, cfg.AuthCode.TTL)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.Risk.EscalateSuspicious)
	assert.Zero(t, cfg.Risk.RefreshGrace)
	assert.Equal(t, CountFailures, cfg.RateLimit.CountingMode)
}

func TestLoadConfig_EnvironmentVariables(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("APP_ENVIRONMENT", "production")
	os.Setenv("SERVER_PORT", "9000")
	os.Setenv("JWT_SECRET_KEY", testSecret)
	os.Setenv("JWT_ACCESS_EXPIRY", "5m")
	os.Setenv("REFRESH_TOKEN_EXPIRY", "48h")
	os.Setenv("SESSION_MAX_PER_USER", "3")
	os.Setenv("AUTH_CODE_CLIENT_IDS", "web,mobile")
	os.Setenv("STORE_DRIVER", "redis")
	os.Setenv("RISK_ESCALATE_SUSPICIOUS", "true")
	defer clearEnvVars(t)

	var cfg Config
	err := LoadConfig(&cfg)

	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessExpiry)
	assert.Equal(t, 48*time.Hour, cfg.RefreshToken.Expiry)
	assert.Equal(t, 3, cfg.Session.MaxPerUser)
	assert.Equal(t, []string{"web", "mobile"}, cfg.AuthCode.ClientIDs)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.True(t, cfg.Risk.EscalateSuspicious)
}

func TestLoadConfig_CommaSeparatedValues(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("SERVER_TRUSTED_PROXIES", "192.168.1.1,10.0.0.1,172.16.0.1")
	os.Setenv("JWT_SECRET_KEY", testSecret)
	defer clearEnvVars(t)

	var cfg Config
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, []string{"192.168.1.1", "10.0.0.1", "172.16.0.1"}, cfg.Server.TrustedProxies)
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	clearEnvVars(t)

	var cfg Config
	err := LoadConfig(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret key is required")
}

func TestLoadConfig_OAuthIncomplete(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("JWT_SECRET_KEY", testSecret)
	os.Setenv("OAUTH_ENABLED", "true")
	os.Setenv("OAUTH_CLIENT_ID", "client")
	defer clearEnvVars(t)

	var cfg Config
	err := LoadConfig(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAuth enabled but missing")
	assert.Contains(t, err.Error(), "jwks url")
}

func TestValidateJWTConfig(t *testing.T) {
	valid := JWTConfig{
		SecretKey:    testSecret,
		Algorithm:    "HS256",
		Issuer:       "authkit",
		Audience:     "authkit-api",
		AccessExpiry: time.Minute,
	}

	tests := []struct {
		name    string
		mutate  func(c *JWTConfig)
		wantErr string
	}{
		{name: "valid JWT config", mutate: func(c *JWTConfig) {}},
		{name: "secret key too short", mutate: func(c *JWTConfig) { c.SecretKey = "short" }, wantErr: "at least 32 characters"},
		{name: "weak secret key - contains password", mutate: func(c *JWTConfig) { c.SecretKey = "this-is-a-password-based-key-which-is-weak" }, wantErr: "weak pattern"},
		{name: "weak secret key - contains changeme", mutate: func(c *JWTConfig) { c.SecretKey = "changeme-changeme-changeme-changeme-changeme" }, wantErr: "weak pattern"},
		{name: "unsupported algorithm", mutate: func(c *JWTConfig) { c.Algorithm = "RS256" }, wantErr: "unsupported JWT algorithm"},
		{name: "missing audience", mutate: func(c *JWTConfig) { c.Audience = "" }, wantErr: "issuer and audience"},
		{name: "non-positive expiry", mutate: func(c *JWTConfig) { c.AccessExpiry = 0 }, wantErr: "access expiry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := validateJWTConfig(&cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateRefreshTokenConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RefreshTokenConfig
		wantErr bool
	}{
		{name: "valid", cfg: RefreshTokenConfig{TokenLength: 32, Expiry: time.Hour}},
		{name: "below 32 bytes of entropy", cfg: RefreshTokenConfig{TokenLength: 16, Expiry: time.Hour}, wantErr: true},
		{name: "too long", cfg: RefreshTokenConfig{TokenLength: 200, Expiry: time.Hour}, wantErr: true},
		{name: "zero expiry", cfg: RefreshTokenConfig{TokenLength: 32}, wantErr: true},
		{name: "negative retention", cfg: RefreshTokenConfig{TokenLength: 32, Expiry: time.Hour, RetentionWindow: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRefreshTokenConfig(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMailConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MailConfig
		wantErr bool
	}{
		{name: "valid", cfg: MailConfig{Host: "smtp.example.com", FromAddress: "a@example.com", Encryption: "starttls"}},
		{name: "missing from", cfg: MailConfig{Host: "smtp.example.com", Encryption: "starttls"}, wantErr: true},
		{name: "missing host", cfg: MailConfig{FromAddress: "a@example.com", Encryption: "none"}, wantErr: true},
		{name: "unknown encryption", cfg: MailConfig{Host: "smtp.example.com", FromAddress: "a@example.com", Encryption: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMailConfig(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func clearEnvVars(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"APP_ENVIRONMENT",
		"SERVER_PORT",
		"SERVER_TRUSTED_PROXIES",
		"JWT_SECRET_KEY",
		"JWT_ACCESS_EXPIRY",
		"REFRESH_TOKEN_EXPIRY",
		"SESSION_MAX_PER_USER",
		"AUTH_CODE_CLIENT_IDS",
		"STORE_DRIVER",
		"RISK_ESCALATE_SUSPICIOUS",
		"OAUTH_ENABLED",
		"OAUTH_CLIENT_ID",
	} {
		os.Unsetenv(key)
	}
}
