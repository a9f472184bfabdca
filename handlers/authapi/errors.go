package authapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/authcode"
	"github.com/tech-arch1tect/authkit/services/authflow"
	"github.com/tech-arch1tect/authkit/services/coordinator"
	"github.com/tech-arch1tect/authkit/services/csrf"
	"github.com/tech-arch1tect/authkit/services/jwt"
	"github.com/tech-arch1tect/authkit/services/oauth"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"github.com/tech-arch1tect/authkit/session"
)

const msgInvalidCredentials = "invalid or expired credentials"

// httpError maps service errors onto status codes. Messages stay generic; the
// cause rides along as Internal and is only rendered outside production.
func httpError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, refreshtoken.ErrRefreshTokenNotFound),
		errors.Is(err, refreshtoken.ErrRefreshTokenExpired),
		errors.Is(err, refreshtoken.ErrRefreshTokenRevoked),
		errors.Is(err, refreshtoken.ErrReuseDetected),
		errors.Is(err, coordinator.ErrSuspiciousRefresh),
		errors.Is(err, authflow.ErrSessionMismatch),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionInactive),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, jwt.ErrInvalidToken),
		errors.Is(err, jwt.ErrMalformedToken),
		errors.Is(err, jwt.ErrInvalidSignature),
		errors.Is(err, jwt.ErrExpiredToken),
		errors.Is(err, jwt.ErrTokenRevoked):
		status, msg = http.StatusUnauthorized, msgInvalidCredentials
	case errors.Is(err, refreshtoken.ErrRotationConflict):
		status, msg = http.StatusConflict, "refresh already in progress, retry"
	case errors.Is(err, csrf.ErrValidationFailed):
		status, msg = http.StatusForbidden, "CSRF validation failed"
	case errors.Is(err, authcode.ErrInvalidGrant):
		status, msg = http.StatusBadRequest, "invalid_grant"
	case errors.Is(err, oauth.ErrInvalidState), errors.Is(err, oauth.ErrInvalidRedirect):
		status, msg = http.StatusBadRequest, "invalid authorization request"
	case errors.Is(err, oauth.ErrProviderAlreadyLinked), errors.Is(err, oauth.ErrEmailUnverified):
		status, msg = http.StatusConflict, "identity cannot be linked to this account"
	case errors.Is(err, oauth.ErrProviderUnavailable), errors.Is(err, oauth.ErrIdentityValidation):
		status, msg = http.StatusBadGateway, "identity provider error"
	case errors.Is(err, jwt.ErrSigningKeyUnavailable):
		status, msg = http.StatusInternalServerError, "token signing unavailable"
	}
	return echo.NewHTTPError(status, msg).SetInternal(err)
}

// oauthErrorCode is the error code placed on the frontend error redirect.
func oauthErrorCode(err error) string {
	switch {
	case errors.Is(err, oauth.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, oauth.ErrProviderUnavailable):
		return "temporarily_unavailable"
	case errors.Is(err, oauth.ErrProviderAlreadyLinked):
		return "already_linked"
	case errors.Is(err, oauth.ErrEmailUnverified):
		return "email_unverified"
	case errors.Is(err, oauth.ErrIdentityValidation):
		return "identity_validation_failed"
	default:
		return "server_error"
	}
}

// tokenError is the RFC 6749 section 5.2 error body used by /auth/token.
type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func tokenErrorFor(err error) (int, tokenError) {
	switch {
	case errors.Is(err, authcode.ErrInvalidClient):
		return http.StatusUnauthorized, tokenError{Error: "invalid_client"}
	case errors.Is(err, authcode.ErrInvalidCodeVerifier):
		return http.StatusBadRequest, tokenError{Error: "invalid_grant", ErrorDescription: "code verifier mismatch"}
	case errors.Is(err, authcode.ErrInvalidGrant),
		errors.Is(err, authcode.ErrInvalidRedirectURI),
		errors.Is(err, refreshtoken.ErrRefreshTokenNotFound),
		errors.Is(err, refreshtoken.ErrRefreshTokenExpired),
		errors.Is(err, refreshtoken.ErrRefreshTokenRevoked),
		errors.Is(err, refreshtoken.ErrReuseDetected),
		errors.Is(err, coordinator.ErrSuspiciousRefresh),
		errors.Is(err, session.ErrSessionInactive),
		errors.Is(err, session.ErrSessionNotFound):
		return http.StatusBadRequest, tokenError{Error: "invalid_grant"}
	case errors.Is(err, refreshtoken.ErrRotationConflict):
		return http.StatusConflict, tokenError{Error: "temporarily_unavailable"}
	default:
		return http.StatusInternalServerError, tokenError{Error: "server_error"}
	}
}
