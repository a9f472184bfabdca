package authapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/services/authflow"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"go.uber.org/zap"
)

func (h *Handler) setSessionCookies(c echo.Context, t authflow.Tokens) {
	c.SetCookie(&http.Cookie{
		Name:     h.cfg.RefreshToken.CookieName,
		Value:    t.RefreshToken,
		Path:     h.cfg.RefreshToken.CookiePath,
		Expires:  t.RefreshExpires,
		MaxAge:   int(time.Until(t.RefreshExpires).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
	c.SetCookie(h.binder.Cookie(t.CSRFToken))
	c.SetCookie(&http.Cookie{
		Name:     h.cfg.Session.CookieName,
		Value:    strconv.FormatUint(uint64(t.SessionID), 10),
		Path:     "/",
		Expires:  t.RefreshExpires,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearSessionCookies(c echo.Context) {
	expire := func(name, path string) {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   h.cfg.IsProduction(),
			SameSite: http.SameSiteStrictMode,
		})
	}
	expire(h.cfg.RefreshToken.CookieName, h.cfg.RefreshToken.CookiePath)
	expire(h.cfg.Session.CookieName, "/")
	c.SetCookie(h.binder.ExpiredCookie())
}

func (h *Handler) refreshTokenFromCookie(c echo.Context) (string, bool) {
	ck, err := c.Cookie(h.cfg.RefreshToken.CookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(ck.Value)
	return v, v != ""
}

// checkCookieCSRF validates a cookie-authenticated request against the CSRF
// header, the CSRF cookie and the record bound to sessionID. A session with no
// live binding gets 401 so the browser logs in again; any other mismatch is
// 403. Neither lets the request through.
func (h *Handler) checkCookieCSRF(c echo.Context, sessionID uint) error {
	if !h.cfg.CSRF.Enabled {
		return nil
	}

	var cookie string
	if ck, err := c.Cookie(h.binder.CookieName()); err == nil {
		cookie = strings.TrimSpace(ck.Value)
	}
	header := strings.TrimSpace(c.Request().Header.Get(h.binder.HeaderName()))

	err := h.binder.Validate(c.Request().Context(), header, cookie, sessionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, csrf.ErrValidationFailed):
		reason := csrf.Reason(err)
		h.recordCSRFFailure(c, reason)
		switch reason {
		case csrf.ReasonNoBinding, csrf.ReasonExpired, csrf.ReasonMissingSession:
			h.clearSessionCookies(c)
			return echo.NewHTTPError(http.StatusUnauthorized, msgInvalidCredentials).SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusForbidden, "CSRF validation failed")
	default:
		h.logger.Error("csrf check unavailable", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "CSRF check unavailable").SetInternal(err)
	}
}
