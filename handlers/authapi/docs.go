package authapi

import (
	"net/http"

	"github.com/tech-arch1tect/authkit/openapi"
	"github.com/tech-arch1tect/authkit/server"
	"github.com/tech-arch1tect/authkit/session"
)

// tokenForm documents the /auth/token body. The handler reads the fields with
// FormValue.
type tokenForm struct {
	GrantType    string `form:"grant_type" required:"true"`
	Code         string `form:"code"`
	CodeVerifier string `form:"code_verifier"`
	ClientID     string `form:"client_id"`
	RedirectURI  string `form:"redirect_uri"`
	RefreshToken string `form:"refresh_token"`
}

type sessionsResponse struct {
	Sessions []session.UserSession `json:"sessions"`
}

type healthResponse struct {
	Status string `json:"status"`
}

const (
	bearerScheme = "bearer"
	cookieScheme = "refreshCookie"
	codeScheme   = "authorizationCode"
)

// Describe returns the OpenAPI document for the routes Register mounts.
func (h *Handler) Describe() *openapi.Document {
	title := h.cfg.App.Name
	if title == "" {
		title = "authkit"
	}
	doc := openapi.New(title, "1.0.0").
		Description("Login, token rotation, sessions and delegated sign-in.").
		Tag("auth", "Credentials and token rotation").
		Tag("sessions", "Device sessions of the signed-in user").
		BearerAuth(bearerScheme, "Short-lived access token").
		CookieAuth(cookieScheme, h.cfg.RefreshToken.CookieName, "Rotating refresh token")
	if h.codes != nil {
		doc.AuthorizationCode(codeScheme, "/auth/authorize", "/auth/token", "/auth/token")
	}

	doc.Route(http.MethodGet, "/healthz").
		Summary("Liveness probe").
		Response(http.StatusOK, healthResponse{}, "Service is up").
		Build()

	doc.Route(http.MethodPost, "/auth/login").
		Summary("Sign in with email and password").
		Tags("auth").
		Body(loginRequest{}, "Credentials").
		Response(http.StatusOK, loginResponse{}, "Access token, with refresh and CSRF cookies set").
		Response(http.StatusUnauthorized, server.ErrorResponse{}, "Invalid credentials").
		Response(http.StatusTooManyRequests, server.ErrorResponse{}, "Too many attempts").
		Build()

	doc.Route(http.MethodPost, "/auth/refresh").
		Summary("Rotate the refresh token").
		Description("Cookie callers must echo the CSRF cookie in the "+h.cfg.CSRF.HeaderName+" header. Concurrent calls with the same token share one rotation.").
		Tags("auth").
		HeaderParam(h.cfg.CSRF.HeaderName, "Double-submit CSRF token").
		CookieParam(h.cfg.Session.CookieName, "Session bound to the refresh token").
		Body(refreshRequest{}, "Refresh token for clients that cannot hold cookies").
		Security(cookieScheme).
		Response(http.StatusOK, tokenResponse{}, "New token pair").
		Response(http.StatusUnauthorized, server.ErrorResponse{}, "Token expired, revoked or reused").
		Response(http.StatusForbidden, server.ErrorResponse{}, "CSRF check failed").
		Response(http.StatusConflict, server.ErrorResponse{}, "Rotation raced and lost").
		Build()

	doc.Route(http.MethodPost, "/auth/logout").
		Summary("End the current session or all sessions").
		Tags("auth").
		HeaderParam(h.cfg.CSRF.HeaderName, "CSRF token bound to the session").
		Body(logoutRequest{}, "Logout options").
		Security(bearerScheme, cookieScheme).
		Response(http.StatusNoContent, nil, "Signed out").
		Response(http.StatusUnauthorized, server.ErrorResponse{}, "No session to sign out").
		Response(http.StatusForbidden, server.ErrorResponse{}, "CSRF check failed").
		Build()

	doc.Route(http.MethodPost, "/auth/token").
		Summary("OAuth 2.0 token endpoint").
		Tags("auth").
		FormBody(tokenForm{}, "authorization_code or refresh_token grant").
		Response(http.StatusOK, oauthTokenResponse{}, "Token pair").
		Response(http.StatusBadRequest, tokenError{}, "Invalid grant or request").
		Response(http.StatusUnauthorized, tokenError{}, "Unknown client").
		Build()

	if h.oauth != nil {
		doc.Route(http.MethodGet, "/auth/oauth/:provider").
			Summary("Start sign-in with the identity provider").
			Tags("auth").
			QueryParam("redirect", "Frontend path to return to", false).
			Redirect("Identity provider authorization page").
			Response(http.StatusNotFound, server.ErrorResponse{}, "Unknown provider").
			Build()

		doc.Route(http.MethodGet, "/auth/oauth/:provider/callback").
			Summary("Identity provider callback").
			Tags("auth").
			QueryParam("code", "Authorization code", false).
			QueryParam("state", "State issued by the start endpoint", false).
			QueryParam("error", "Error reported by the provider", false).
			Redirect("Frontend success or error page").
			Build()
	}

	if h.codes != nil {
		doc.Route(http.MethodGet, "/auth/authorize").
			Summary("Issue an authorization code to a registered client").
			Tags("auth").
			QueryParam("response_type", "Must be code", true).
			QueryParam("client_id", "Registered client", true).
			QueryParam("redirect_uri", "Registered redirect URI", true).
			QueryParam("code_challenge", "PKCE challenge", true).
			QueryParam("code_challenge_method", "S256 or plain", false).
			QueryParam("scope", "Requested scope", false).
			QueryParam("state", "Opaque client state", false).
			Security(bearerScheme).
			Redirect("Client redirect URI carrying the code or an error").
			Response(http.StatusBadRequest, server.ErrorResponse{}, "Unknown client or redirect URI").
			Build()
	}

	doc.Route(http.MethodGet, "/auth/sessions").
		Summary("List active sessions").
		Tags("sessions").
		Security(bearerScheme).
		Response(http.StatusOK, sessionsResponse{}, "Active sessions, current one flagged").
		Response(http.StatusUnauthorized, server.ErrorResponse{}, "Missing or invalid access token").
		Build()

	doc.Route(http.MethodDelete, "/auth/sessions/:id").
		Summary("Revoke a session").
		Tags("sessions").
		HeaderParam(h.cfg.CSRF.HeaderName, "CSRF token bound to the session").
		Security(bearerScheme).
		Response(http.StatusNoContent, nil, "Session revoked").
		Response(http.StatusNotFound, server.ErrorResponse{}, "No such session").
		Response(http.StatusForbidden, server.ErrorResponse{}, "CSRF check failed or re-authentication required").
		Build()

	return doc
}
