package logging

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewService(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		service, err := NewService(Config{Level: Info, Format: "json", OutputPath: "stdout"})

		require.NoError(t, err)
		assert.NotNil(t, service.logger)
		assert.NotNil(t, service.sugar)
	})

	t.Run("console format", func(t *testing.T) {
		service, err := NewService(Config{Level: Debug, Format: "console", OutputPath: "stdout"})

		require.NoError(t, err)
		assert.NotNil(t, service.Logger())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		service, err := NewService(Config{Level: Warn, Format: "json", OutputPath: logFile})
		require.NoError(t, err)

		service.Warn("test log entry")
		_ = service.Sync()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})
}

func TestService_LoggingMethods(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	service := NewFromZap(zap.New(core))

	service.Debug("debug message")
	service.Info("info message")
	service.Warn("warn message", zap.String("key", "value"))
	service.Error("error message")
	service.Infow("sugared", "user_id", 7)

	logs := recorded.TakeAll()
	require.Len(t, logs, 5)
	assert.Equal(t, zapcore.DebugLevel, logs[0].Level)
	assert.Equal(t, zapcore.WarnLevel, logs[2].Level)
	assert.Equal(t, "value", logs[2].ContextMap()["key"])
	assert.Equal(t, int64(7), logs[4].ContextMap()["user_id"])
}

func TestService_NamedAndWith(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	service := NewFromZap(zap.New(core)).Named("refresh").With(zap.Uint("user_id", 3))

	service.Info("rotated")

	logs := recorded.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, "refresh", logs[0].LoggerName)
	assert.Equal(t, uint64(3), logs[0].ContextMap()["user_id"])
}

func TestService_NilSafety(t *testing.T) {
	var service *Service

	assert.NotPanics(t, func() {
		service.Debug("x")
		service.Info("x")
		service.Warn("x")
		service.Error("x")
		service.Warnw("x", "k", "v")
		_ = service.Named("child")
		_ = service.With(zap.String("k", "v"))
		_ = service.Sync()
	})
	assert.Nil(t, service.Logger())
	assert.Nil(t, NewFromZap(nil))
}

func TestTokenFingerprint(t *testing.T) {
	token := "very-secret-refresh-token-value"

	fp := TokenFingerprint(token)

	assert.Len(t, fp, 12)
	assert.NotContains(t, fp, token)
	assert.Equal(t, fp, TokenFingerprint(token))
	assert.NotEqual(t, fp, TokenFingerprint(token+"x"))
	assert.Empty(t, TokenFingerprint(""))
}

func TestRequestLogger(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	service := NewFromZap(zap.New(core))

	e := echo.New()
	e.Use(RequestLogger(service, "/healthz"))
	e.GET("/auth/oauth/:provider/callback", func(c echo.Context) error {
		return c.NoContent(http.StatusBadRequest)
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/oidc/callback?code=SECRETCODE&state=abc", nil)
	e.ServeHTTP(httptest.NewRecorder(), req)
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	logs := recorded.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, "client error", logs[0].Message)
	path, _ := logs[0].ContextMap()["path"].(string)
	assert.False(t, strings.Contains(path, "SECRETCODE"))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel(Debug))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel(Error))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("bogus"))
}
