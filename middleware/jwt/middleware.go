package jwt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/services/jwt"
)

const (
	UserIDKey = "_jwt_user_id"
	ClaimsKey = "_jwt_claims"
)

type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// ReauthChecker reports whether a session is too stale for a sensitive action.
type ReauthChecker interface {
	NeedsReauthentication(ctx context.Context, sessionID uint, threshold time.Duration) (bool, error)
}

func RequireJWT(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := BearerToken(c.Request())
			if err != nil {
				return err
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, jwt.ErrExpiredToken):
					return echo.NewHTTPError(http.StatusUnauthorized, "JWT token has expired")
				case errors.Is(err, jwt.ErrTokenRevoked):
					return echo.NewHTTPError(http.StatusUnauthorized, "JWT token has been revoked")
				case errors.Is(err, jwt.ErrMalformedToken):
					return echo.NewHTTPError(http.StatusUnauthorized, "Malformed JWT token")
				case errors.Is(err, jwt.ErrInvalidSignature):
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid JWT token signature")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid JWT token")
				}
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(ClaimsKey, claims)

			return next(c)
		}
	}
}

// RequireFreshSession must run after RequireJWT. A zero threshold uses the
// configured reauthentication window.
func RequireFreshSession(checker ReauthChecker, threshold time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims == nil || claims.SessionID == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Session required")
			}

			stale, err := checker.NeedsReauthentication(c.Request().Context(), claims.SessionID, threshold)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "Session check failed").SetInternal(err)
			}
			if stale {
				return echo.NewHTTPError(http.StatusUnauthorized, "Reauthentication required")
			}
			return next(c)
		}
	}
}

func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tokenString == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "JWT token required")
	}
	return tokenString, nil
}

func GetUserID(c echo.Context) uint {
	if userID, ok := c.Get(UserIDKey).(uint); ok {
		return userID
	}
	return 0
}

func GetClaims(c echo.Context) *jwt.Claims {
	if claims, ok := c.Get(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}
