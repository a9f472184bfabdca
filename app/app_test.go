package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/server"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/testutils"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createTestConfig() *config.Config {
	cfg := testutils.GetTestConfig()
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", Port: "0"}
	cfg.Log = config.LogConfig{Level: "error", Format: "console", Output: "stdout"}
	return cfg
}

func createTestApp(t *testing.T) *App {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := createTestConfig()
	logger := logging.NewFromZap(zap.NewNop())

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		server: server.New(cfg, logger),
	}
}

func TestApp_Start(t *testing.T) {
	t.Run("successful start", func(t *testing.T) {
		fxApp := fx.New(fx.NopLogger)
		app := &App{fx: fxApp}

		assert.NoError(t, app.Start())
		app.StopTest()
	})

	t.Run("start with error", func(t *testing.T) {
		fxApp := fx.New(
			fx.NopLogger,
			fx.Invoke(func(lc fx.Lifecycle) {
				lc.Append(fx.Hook{OnStart: func(context.Context) error { return assert.AnError }})
			}),
		)
		app := &App{fx: fxApp}

		assert.ErrorIs(t, app.Start(), assert.AnError)
	})
}

func TestApp_StartAndStopBuiltApp(t *testing.T) {
	app, err := NewApp().WithConfig(createTestConfig()).Build()
	require.NoError(t, err)

	require.NoError(t, app.StartTest())
	time.Sleep(20 * time.Millisecond)
	app.StopTest()
}

func TestApp_Stop(t *testing.T) {
	stopped := false
	fxApp := fx.New(fx.NopLogger, fx.Invoke(func(lc fx.Lifecycle) {
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			stopped = true
			return nil
		}})
	}))
	app := &App{fx: fxApp, logger: logging.NewFromZap(zap.NewNop())}
	require.NoError(t, app.StartTest())

	app.Stop()

	assert.True(t, stopped)
}

func TestApp_Server(t *testing.T) {
	t.Run("server exists", func(t *testing.T) {
		app := createTestApp(t)

		result := app.Server()

		assert.Equal(t, app.server.Echo(), result)
		assert.Equal(t, app.server, app.HTTPServer())
	})

	t.Run("server is nil", func(t *testing.T) {
		app := createTestApp(t)
		app.server = nil

		assert.Nil(t, app.Server())
	})

	t.Run("server without logger", func(t *testing.T) {
		app := &App{}

		assert.Nil(t, app.Server())
	})
}

func TestApp_Accessors(t *testing.T) {
	app := createTestApp(t)

	assert.Equal(t, app.db, app.Database())
	assert.Equal(t, app.db, app.DB())
	assert.Equal(t, app.logger, app.Logger())
	assert.Equal(t, app.config, app.Config())
}

func TestApp_RegisterRoutes(t *testing.T) {
	t.Run("with valid server", func(t *testing.T) {
		app := createTestApp(t)

		called := false
		app.RegisterRoutes(func(e *echo.Echo) {
			called = true
			assert.Equal(t, app.server.Echo(), e)
		})

		assert.True(t, called)
	})

	t.Run("with nil server", func(t *testing.T) {
		app := &App{}

		called := false
		app.RegisterRoutes(func(*echo.Echo) { called = true })

		assert.False(t, called)
	})
}

func TestApp_HTTPMethods(t *testing.T) {
	app := createTestApp(t)
	handler := func(c echo.Context) error { return c.String(http.StatusOK, c.Request().Method) }

	app.Get("/r", handler)
	app.Post("/r", handler)
	app.Put("/r", handler)
	app.Delete("/r", handler)
	app.Patch("/r", handler)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.Server().ServeHTTP(rec, httptest.NewRequest(method, "/r", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, method, rec.Body.String())
		})
	}
}

func TestApp_HTTPMethodsWithNilServer(t *testing.T) {
	app := &App{}
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	assert.NotPanics(t, func() {
		app.Get("/test", handler)
		app.Post("/test", handler)
		app.Put("/test", handler)
		app.Delete("/test", handler)
		app.Patch("/test", handler)
	})
}
