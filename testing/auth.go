package e2etesting

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// AuthHelper drives the auth endpoints as one browser would.
type AuthHelper struct {
	app    *E2EApp
	Client *HTTPClient
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
	CSRFToken    string `json:"csrfToken"`
	SessionID    uint   `json:"sessionId"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (e *E2EApp) Browser(userAgent string) *AuthHelper {
	client := e.Client()
	client.UserAgent = userAgent
	return &AuthHelper{app: e, Client: client}
}

func (e *E2EApp) CreateUser(t *testing.T, email, password string) uint {
	t.Helper()
	user, err := e.AuthSvc.CreateUser(context.Background(), email, password)
	require.NoError(t, err, "failed to create test user")
	return user.ID
}

func (h *AuthHelper) Login(email, password string) (*Response, error) {
	return h.Client.Post("/auth/login", map[string]string{"email": email, "password": password}, nil)
}

func (h *AuthHelper) MustLogin(t *testing.T, email, password string) TokenResponse {
	t.Helper()
	resp, err := h.Login(email, password)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	var tokens TokenResponse
	require.NoError(t, resp.GetJSON(&tokens))
	return tokens
}

// Refresh rotates using the refresh cookie and the double-submit header.
func (h *AuthHelper) Refresh() (*Response, error) {
	return h.Client.Post("/auth/refresh", nil, h.csrfHeader())
}

func (h *AuthHelper) Logout(accessToken string, allDevices bool) (*Response, error) {
	headers := h.csrfHeader()
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	return h.Client.Post("/auth/logout", map[string]bool{"allDevices": allDevices}, headers)
}

func (h *AuthHelper) Sessions(accessToken string) (*Response, error) {
	return h.Client.Request(&RequestOptions{
		Method:  http.MethodGet,
		Path:    "/auth/sessions",
		Headers: map[string]string{"Authorization": "Bearer " + accessToken},
	})
}

func (h *AuthHelper) RefreshCookie() string {
	cfg := h.app.Config.RefreshToken
	return h.Client.Cookie(cfg.CookiePath+"/refresh", cfg.CookieName)
}

func (h *AuthHelper) csrfHeader() map[string]string {
	cfg := h.app.Config.CSRF
	return map[string]string{cfg.HeaderName: h.Client.Cookie("/", cfg.CookieName)}
}
