package csrf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/testutils"
)

type harness struct {
	e      *echo.Echo
	binder *csrf.Binder
	sink   *audit.MemorySink
	token  string
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := testutils.GetTestConfig()
	if mutate != nil {
		mutate(cfg)
	}
	store := kvstore.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	binder := csrf.NewBinder(store, cfg, nil)
	token, err := binder.IssueToken(context.Background(), 11)
	require.NoError(t, err)

	sink := audit.NewMemorySink()
	e := echo.New()
	e.Use(WithConfig(Config{Binder: binder, Settings: cfg, Audit: sink, Metrics: metrics.New()}))
	handler := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.POST("/auth/logout", handler)
	e.GET("/auth/sessions", handler)
	e.POST("/auth/oauth/oidc/callback", handler)

	return &harness{e: e, binder: binder, sink: sink, token: token}
}

func (h *harness) do(method, path, header, cookie, sid string) int {
	req := httptest.NewRequest(method, path, nil)
	if header != "" {
		req.Header.Set("X-CSRF-Token", header)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: cookie})
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddleware(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/auth/logout", h.token, h.token, "11"))

	t.Run("each signal is required", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/auth/logout", "", h.token, "11"))
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/auth/logout", h.token, "", "11"))
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/auth/logout", h.token, h.token, ""))
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/auth/logout", h.token, h.token, "12"))
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/auth/logout", "forged", "forged", "11"))
		assert.Equal(t, 5, h.sink.Count(audit.EventCSRFFailed))
	})

	t.Run("safe methods and exclusions bypass", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, h.do(http.MethodGet, "/auth/sessions", "", "", ""))
		assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/auth/oauth/oidc/callback", "", "", ""))
	})
}

func TestMiddleware_PermissiveOutsideProduction(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.CSRF.Permissive = true })
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/auth/logout", "", "", ""))
	assert.Equal(t, 1, h.sink.Count(audit.EventCSRFFailed), "permissive failures are still audited")

	prod := newHarness(t, func(cfg *config.Config) {
		cfg.CSRF.Permissive = true
		cfg.App.Environment = config.EnvProduction
	})
	assert.Equal(t, http.StatusForbidden, prod.do(http.MethodPost, "/auth/logout", "", "", ""))
}

func TestMiddleware_Disabled(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.CSRF.Enabled = false })
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/auth/logout", "", "", ""))
}

func TestExcluded(t *testing.T) {
	patterns := []string{"/healthz", "/auth/oauth/*"}

	assert.True(t, Excluded("/healthz", patterns))
	assert.True(t, Excluded("/auth/oauth/oidc/callback", patterns))
	assert.True(t, Excluded("/auth/oauth", patterns))
	assert.False(t, Excluded("/auth/oauthx", patterns))
	assert.False(t, Excluded("/healthz/deep", patterns))
}
