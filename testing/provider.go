// Package e2etesting runs a fully wired application on a real listener for
// end-to-end tests.
package e2etesting

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/tech-arch1tect/authkit/app"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/testutils"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type E2EApp struct {
	App              *app.App
	BaseURL          string
	Config           *config.Config
	DB               *gorm.DB
	AuthSvc          *auth.Service
	readinessTimeout time.Duration
}

type TestConfig struct {
	OverrideConfig   func(*config.Config)
	ReadinessTimeout time.Duration
	FxOptions        []fx.Option
}

// NewTestConfig returns the shared test configuration listening on an
// ephemeral loopback port.
func NewTestConfig() *config.Config {
	cfg := testutils.GetTestConfig()
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", Port: "0"}
	cfg.Log = config.LogConfig{Level: "error", Format: "json", Output: "stdout"}
	return cfg
}

// Start builds the application, starts it and registers cleanup on t.
func Start(t *testing.T, tc TestConfig) *E2EApp {
	t.Helper()

	e, err := BuildTestApp(app.NewApp(), tc)
	if err != nil {
		t.Fatalf("failed to build e2e app: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("failed to start e2e app: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func BuildTestApp(builder *app.AppBuilder, tc TestConfig) (*E2EApp, error) {
	cfg := NewTestConfig()
	if tc.OverrideConfig != nil {
		tc.OverrideConfig(cfg)
	}

	var capturedDB *gorm.DB
	var capturedAuthSvc *auth.Service

	builder = builder.WithConfig(cfg).WithFxOptions(
		fx.Invoke(func(db *gorm.DB, authSvc *auth.Service) {
			capturedDB = db
			capturedAuthSvc = authSvc
		}),
	).WithFxOptions(tc.FxOptions...)

	builtApp, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build test app: %w", err)
	}

	timeout := tc.ReadinessTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &E2EApp{
		App:              builtApp,
		Config:           cfg,
		DB:               capturedDB,
		AuthSvc:          capturedAuthSvc,
		readinessTimeout: timeout,
	}, nil
}

func (e *E2EApp) Start(ctx context.Context) error {
	if e.App == nil {
		return fmt.Errorf("application not built - call BuildTestApp first")
	}
	if err := e.App.Start(); err != nil {
		return fmt.Errorf("failed to start test app: %w", err)
	}

	addr, err := e.waitForListener()
	if err != nil {
		return fmt.Errorf("server failed to become ready: %w", err)
	}
	e.BaseURL = "http://" + addr.String()

	return e.waitForHealthy(ctx)
}

func (e *E2EApp) waitForListener() (net.Addr, error) {
	echoServer := e.App.Server()
	if echoServer == nil {
		return nil, fmt.Errorf("echo server not initialized")
	}

	deadline := time.After(e.readinessTimeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if addr := echoServer.ListenerAddr(); addr != nil {
			conn, err := net.DialTimeout("tcp", addr.String(), 100*time.Millisecond)
			if err == nil {
				conn.Close()
				return addr, nil
			}
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return nil, fmt.Errorf("timeout after %s waiting for HTTP listener", e.readinessTimeout)
		}
	}
}

func (e *E2EApp) waitForHealthy(ctx context.Context) error {
	client := e.Client()
	deadline := time.After(e.readinessTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		resp, err := client.Get("/healthz")
		if err == nil && resp.StatusCode == http.StatusOK {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		lastErr = err

		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("timeout after %s: last error: %w", e.readinessTimeout, lastErr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *E2EApp) Stop(context.Context) error {
	if e.App != nil {
		e.App.StopTest()
	}
	return nil
}

// Client returns a fresh client with its own cookie jar, standing in for one
// browser.
func (e *E2EApp) Client() *HTTPClient {
	return NewHTTPClient(e.BaseURL).WithCookieJar().WithoutRedirects()
}
