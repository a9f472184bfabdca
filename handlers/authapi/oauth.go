package authapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	jwtmw "github.com/tech-arch1tect/authkit/middleware/jwt"
	"github.com/tech-arch1tect/authkit/services/authcode"
	"github.com/tech-arch1tect/authkit/services/oauth"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/zap"
)

func (h *Handler) oauthProvider(c echo.Context) error {
	if h.oauth == nil || !strings.EqualFold(c.Param("provider"), h.oauth.ProviderName()) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown identity provider")
	}
	return nil
}

// beginOAuth redirects the browser to the provider. A valid bearer token turns
// the flow into an identity link for that user.
func (h *Handler) beginOAuth(c echo.Context) error {
	if err := h.oauthProvider(c); err != nil {
		return err
	}

	opts := oauth.BeginOptions{RedirectHint: c.QueryParam("redirect")}
	if bearer, err := jwtmw.BearerToken(c.Request()); err == nil {
		claims, err := h.tokens.Verify(bearer)
		if err != nil {
			return httpError(err)
		}
		opts.LinkUserID = claims.UserID
	}

	authz, err := h.oauth.BeginAuthorization(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	return c.Redirect(http.StatusFound, authz.URL)
}

// oauthCallback never renders an error page itself; every outcome is a
// redirect to the configured frontend.
func (h *Handler) oauthCallback(c echo.Context) error {
	if err := h.oauthProvider(c); err != nil {
		return err
	}

	if idpErr := c.QueryParam("error"); idpErr != "" {
		h.logger.Warn("identity provider returned an error", zap.String("error", idpErr))
		return h.redirectOAuthError(c, "access_denied", c.QueryParam("error_description"))
	}

	ctx := c.Request().Context()
	result, err := h.oauth.HandleCallback(ctx, c.QueryParam("code"), c.QueryParam("state"))
	if err != nil {
		h.logger.Warn("oauth callback failed", zap.Error(err))
		return h.redirectOAuthError(c, oauthErrorCode(err), "")
	}

	login, err := h.flow.CompleteLogin(ctx, result.User, device(c), session.AuthMethodOAuth)
	if err != nil {
		return h.redirectOAuthError(c, "server_error", "")
	}

	h.setSessionCookies(c, login.Tokens)

	target := h.successTarget(result.RedirectHint)
	q := target.Query()
	q.Set("token", login.AccessToken)
	q.Set("csrf", login.CSRFToken)
	q.Set("expires_in", strconv.Itoa(login.ExpiresIn))
	if result.Linked {
		q.Set("linked", "true")
	}
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

// successTarget resolves the redirect hint against the success URL. The hint
// was already vetted when the flow began.
func (h *Handler) successTarget(hint string) *url.URL {
	base, err := url.Parse(h.cfg.OAuth.FrontendSuccessURL)
	if err != nil {
		base = &url.URL{Path: "/"}
	}
	if hint == "" {
		return base
	}
	ref, err := url.Parse(hint)
	if err != nil {
		return base
	}
	return base.ResolveReference(ref)
}

func (h *Handler) redirectOAuthError(c echo.Context, code, description string) error {
	target, err := url.Parse(h.cfg.OAuth.FrontendErrorURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, code)
	}
	q := target.Query()
	q.Set("error", code)
	if description != "" && !h.cfg.IsProduction() {
		q.Set("error_description", description)
	}
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

// authorize issues a first-party authorization code for the bearer's user.
// Requests with an unregistered redirect URI are answered directly, never
// redirected.
func (h *Handler) authorize(c echo.Context) error {
	if h.codes == nil {
		return echo.NewHTTPError(http.StatusNotFound, "authorization code grant disabled")
	}

	clientID := c.QueryParam("client_id")
	redirectURI := c.QueryParam("redirect_uri")
	state := c.QueryParam("state")

	if c.QueryParam("response_type") != "code" {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported_response_type")
	}
	if _, err := h.codes.Client(clientID, redirectURI); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid client or redirect uri").SetInternal(err)
	}

	issued, err := h.codes.IssueAuthorizationCode(c.Request().Context(), jwtmw.GetUserID(c), authcode.IssueParams{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               c.QueryParam("scope"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
		IP:                  c.RealIP(),
	})

	target, perr := url.Parse(redirectURI)
	if perr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid redirect uri")
	}
	q := target.Query()
	switch {
	case err == nil:
		q.Set("code", issued.Code)
	case errors.Is(err, authcode.ErrInvalidScope):
		q.Set("error", "invalid_scope")
	case errors.Is(err, authcode.ErrInvalidRequest):
		q.Set("error", "invalid_request")
	default:
		return httpError(err)
	}
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}
