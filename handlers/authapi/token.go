package authapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/services/authcode"
	"github.com/tech-arch1tect/authkit/services/authflow"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/zap"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	CSRFToken    string `json:"csrf_token,omitempty"`
	SessionID    uint   `json:"session_id"`
}

func toOAuthTokenResponse(t authflow.Tokens) oauthTokenResponse {
	return oauthTokenResponse{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
		RefreshToken: t.RefreshToken,
		CSRFToken:    t.CSRFToken,
		SessionID:    t.SessionID,
	}
}

// token is the form-encoded token endpoint for public clients. Errors use the
// RFC 6749 error body rather than the server's error envelope.
func (h *Handler) token(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")

	switch grant := c.FormValue("grant_type"); grant {
	case grantAuthorizationCode:
		return h.exchangeCode(c)
	case grantRefreshToken:
		return h.refreshGrant(c)
	case "":
		return c.JSON(http.StatusBadRequest, tokenError{Error: "invalid_request", ErrorDescription: "grant_type is required"})
	default:
		return c.JSON(http.StatusBadRequest, tokenError{Error: "unsupported_grant_type"})
	}
}

func (h *Handler) exchangeCode(c echo.Context) error {
	if h.codes == nil {
		return c.JSON(http.StatusBadRequest, tokenError{Error: "unsupported_grant_type"})
	}

	p := authcode.ExchangeParams{
		Code:         c.FormValue("code"),
		CodeVerifier: c.FormValue("code_verifier"),
		ClientID:     c.FormValue("client_id"),
		RedirectURI:  c.FormValue("redirect_uri"),
		IP:           c.RealIP(),
	}
	if p.Code == "" || p.ClientID == "" || p.RedirectURI == "" || p.CodeVerifier == "" {
		return c.JSON(http.StatusBadRequest, tokenError{Error: "invalid_request"})
	}

	ctx := c.Request().Context()
	record, err := h.codes.ExchangeCode(ctx, p)
	if err != nil {
		return h.tokenFailure(c, err)
	}

	login, err := h.flow.CompleteLoginByID(ctx, record.UserID, device(c), session.AuthMethodAuthorizationCode)
	if err != nil {
		return h.tokenFailure(c, err)
	}
	return c.JSON(http.StatusOK, toOAuthTokenResponse(login.Tokens))
}

func (h *Handler) refreshGrant(c echo.Context) error {
	token := strings.TrimSpace(c.FormValue("refresh_token"))
	if token == "" {
		return c.JSON(http.StatusBadRequest, tokenError{Error: "invalid_request", ErrorDescription: "refresh_token is required"})
	}

	res, err := h.flow.Refresh(c.Request().Context(), token, 0, device(c))
	if err != nil {
		return h.tokenFailure(c, err)
	}
	return c.JSON(http.StatusOK, toOAuthTokenResponse(res.Tokens))
}

func (h *Handler) tokenFailure(c echo.Context, err error) error {
	status, body := tokenErrorFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("token request failed", zap.Error(err))
	}
	if h.cfg.IsProduction() && body.Error != "invalid_grant" {
		body.ErrorDescription = ""
	}
	return c.JSON(status, body)
}
