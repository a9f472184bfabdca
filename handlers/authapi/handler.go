// Package authapi exposes the login, refresh, logout, OAuth and token
// endpoints over echo.
package authapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/config"
	csrfmw "github.com/tech-arch1tect/authkit/middleware/csrf"
	jwtmw "github.com/tech-arch1tect/authkit/middleware/jwt"
	"github.com/tech-arch1tect/authkit/middleware/ratelimit"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/authcode"
	"github.com/tech-arch1tect/authkit/services/authflow"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/jwt"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/oauth"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/zap"
)

type Handler struct {
	flow     *authflow.Service
	tokens   *jwt.Service
	sessions *session.Manager
	binder   *csrf.Binder
	oauth    *oauth.Service
	codes    *authcode.Service
	limits   *ratelimit.Limits
	audit    audit.Sink
	metrics  *metrics.Recorder
	cfg      *config.Config
	logger   *logging.Service
}

type Deps struct {
	Flow     *authflow.Service
	Tokens   *jwt.Service
	Sessions *session.Manager
	Binder   *csrf.Binder
	// OAuth and Codes are nil when their flows are disabled.
	OAuth   *oauth.Service
	Codes   *authcode.Service
	Limits  *ratelimit.Limits
	Audit   audit.Sink
	Metrics *metrics.Recorder
	Config  *config.Config
	Logger  *logging.Service
}

func New(d Deps) *Handler {
	h := &Handler{
		flow:     d.Flow,
		tokens:   d.Tokens,
		sessions: d.Sessions,
		binder:   d.Binder,
		oauth:    d.OAuth,
		codes:    d.Codes,
		limits:   d.Limits,
		audit:    d.Audit,
		metrics:  d.Metrics,
		cfg:      d.Config,
		logger:   d.Logger.Named("authapi"),
	}
	if h.audit == nil {
		h.audit = audit.NopSink{}
	}
	return h
}

func (h *Handler) Register(e *echo.Echo) {
	var passthrough echo.MiddlewareFunc = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	loginLimit, tokenLimit := passthrough, passthrough
	if h.limits != nil {
		loginLimit, tokenLimit = h.limits.Login, h.limits.Token
	}

	requireJWT := jwtmw.RequireJWT(h.tokens)
	csrfCheck := csrfmw.WithConfig(csrfmw.Config{
		Binder:   h.binder,
		Settings: h.cfg,
		Audit:    h.audit,
		Metrics:  h.metrics,
		Logger:   h.logger,
	})

	e.GET("/healthz", h.health)
	docs := h.Describe()
	e.GET("/openapi.json", docs.JSONHandler())
	e.GET("/openapi.yaml", docs.YAMLHandler())
	if h.metrics != nil {
		e.GET("/metrics", h.metrics.EchoHandler())
	}

	g := e.Group("/auth")
	g.POST("/login", h.login, loginLimit)
	g.POST("/refresh", h.refresh, tokenLimit)
	g.POST("/logout", h.logout, csrfCheck)
	g.POST("/token", h.token, tokenLimit)

	g.GET("/oauth/:provider", h.beginOAuth)
	g.GET("/oauth/:provider/callback", h.oauthCallback)
	g.GET("/authorize", h.authorize, requireJWT)

	g.GET("/sessions", h.listSessions, requireJWT)
	g.DELETE("/sessions/:id", h.revokeSession, requireJWT, csrfCheck, jwtmw.RequireFreshSession(h.sessions, 0))
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" form:"refresh_token"`
}

type logoutRequest struct {
	AllDevices   bool   `json:"allDevices" form:"all_devices"`
	RefreshToken string `json:"refreshToken" form:"refresh_token"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
	CSRFToken   string `json:"csrfToken"`
	SessionID   uint   `json:"sessionId"`
	// RefreshToken is only returned to callers that did not use the cookie.
	RefreshToken string `json:"refreshToken,omitempty"`
}

type userResponse struct {
	ID    uint     `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type loginResponse struct {
	tokenResponse
	User userResponse `json:"user"`
}

func toTokenResponse(t authflow.Tokens) tokenResponse {
	return tokenResponse{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		ExpiresIn:   t.ExpiresIn,
		CSRFToken:   t.CSRFToken,
		SessionID:   t.SessionID,
	}
}

func device(c echo.Context) session.DeviceInfo {
	return session.DeriveDevice(c.RealIP(), c.Request().UserAgent())
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (h *Handler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	res, err := h.flow.Login(c.Request().Context(), req.Email, req.Password, device(c))
	if err != nil {
		return httpError(err)
	}

	h.setSessionCookies(c, res.Tokens)
	return c.JSON(http.StatusOK, loginResponse{
		tokenResponse: toTokenResponse(res.Tokens),
		User: userResponse{
			ID:    res.User.ID,
			Email: res.User.Email,
			Name:  res.User.Name,
			Roles: res.User.RoleNames(),
		},
	})
}

// refresh takes the token from the body or, for browsers, from the cookie.
// Cookie callers must pass the session-bound CSRF check.
func (h *Handler) refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sessionID := csrfmw.SessionIDFromRequest(c, h.cfg.Session.CookieName)

	token := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if token == "" {
		var ok bool
		if token, ok = h.refreshTokenFromCookie(c); !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "refresh token required")
		}
		fromCookie = true
		if err := h.checkCookieCSRF(c, sessionID); err != nil {
			return err
		}
	}

	res, err := h.flow.Refresh(c.Request().Context(), token, sessionID, device(c))
	if err != nil {
		if fromCookie {
			h.clearSessionCookies(c)
		}
		return httpError(err)
	}

	resp := toTokenResponse(res.Tokens)
	if fromCookie {
		h.setSessionCookies(c, res.Tokens)
	} else {
		resp.RefreshToken = res.RefreshToken
	}
	return c.JSON(http.StatusOK, resp)
}

// logout works without a valid access token so an expired browser session
// can still be ended. Cookies are cleared even when revocation fails.
func (h *Handler) logout(c echo.Context) error {
	var req logoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	params := authflow.LogoutParams{
		SessionID:    csrfmw.SessionIDFromRequest(c, h.cfg.Session.CookieName),
		RefreshToken: strings.TrimSpace(req.RefreshToken),
		AllDevices:   req.AllDevices,
	}
	if params.RefreshToken == "" {
		params.RefreshToken, _ = h.refreshTokenFromCookie(c)
	}
	if bearer, err := jwtmw.BearerToken(c.Request()); err == nil {
		if claims, err := h.tokens.Verify(bearer); err == nil {
			params.UserID = claims.UserID
			params.AccessJTI = claims.ID
			if params.SessionID == 0 {
				params.SessionID = claims.SessionID
			}
			if claims.ExpiresAt != nil {
				params.AccessExpiresAt = claims.ExpiresAt.Time
			}
		}
	}

	if params.RefreshToken == "" && params.UserID == 0 && params.SessionID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session to log out")
	}

	h.clearSessionCookies(c)
	if err := h.flow.Logout(c.Request().Context(), params); err != nil {
		h.logger.Error("logout incomplete",
			zap.Uint("user_id", params.UserID),
			zap.Uint("session_id", params.SessionID),
			zap.Bool("all_devices", params.AllDevices),
			zap.Error(err))
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) listSessions(c echo.Context) error {
	claims := jwtmw.GetClaims(c)
	sessions, err := h.flow.Sessions(c.Request().Context(), claims.UserID, claims.SessionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (h *Handler) revokeSession(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}

	claims := jwtmw.GetClaims(c)
	if err := h.flow.RevokeSession(c.Request().Context(), claims.UserID, uint(id)); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return httpError(err)
	}
	if uint(id) == claims.SessionID {
		h.clearSessionCookies(c)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) recordCSRFFailure(c echo.Context, reason string) {
	h.metrics.CSRFFailure(reason)
	h.audit.Record(c.Request().Context(), audit.Event{
		Type:      audit.EventCSRFFailed,
		Severity:  audit.SeverityWarning,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Details:   map[string]any{"reason": reason, "path": c.Request().URL.Path},
	})
}
