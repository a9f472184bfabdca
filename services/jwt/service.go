package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken          = errors.New("invalid access token")
	ErrExpiredToken          = errors.New("access token has expired")
	ErrMalformedToken        = errors.New("malformed access token")
	ErrInvalidSignature      = errors.New("invalid access token signature")
	ErrTokenRevoked          = errors.New("access token has been revoked")
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
)

// AccessClaims is the identity a caller asks to embed in an access token.
type AccessClaims struct {
	UserID            uint
	Email             string
	Roles             []string
	DeviceFingerprint string
	SessionID         uint
}

type Claims struct {
	UserID            uint     `json:"uid"`
	Email             string   `json:"email,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	DeviceFingerprint string   `json:"dfp,omitempty"`
	SessionID         uint     `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

type AccessToken struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevocationChecker is consulted on every verification when present.
type RevocationChecker interface {
	IsTokenRevoked(jti string) (bool, error)
	IsUserTokenRevoked(userID uint, issuedAt time.Time) (bool, error)
}

type Service struct {
	config     *config.Config
	logger     *logging.Service
	revocation RevocationChecker
	now        func() time.Time
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger.Named("jwt"),
		now:    time.Now,
	}
}

func (s *Service) SetRevocationChecker(checker RevocationChecker) {
	s.revocation = checker
}

func (s *Service) AccessExpirySeconds() int {
	return int(s.config.JWT.AccessExpiry.Seconds())
}

func (s *Service) IssueAccessToken(c AccessClaims) (*AccessToken, error) {
	if s.config.JWT.SecretKey == "" {
		s.logger.Error("cannot sign access token: signing key is empty")
		return nil, ErrSigningKeyUnavailable
	}

	now := s.now()
	expiresAt := now.Add(s.config.JWT.AccessExpiry)
	jti := uuid.New().String()

	claims := Claims{
		UserID:            c.UserID,
		Email:             c.Email,
		Roles:             c.Roles,
		DeviceFingerprint: c.DeviceFingerprint,
		SessionID:         c.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.config.JWT.Issuer,
			Subject:   strconv.FormatUint(uint64(c.UserID), 10),
			Audience:  jwt.ClaimStrings{s.config.JWT.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWT.SecretKey))
	if err != nil {
		s.logger.Error("failed to sign access token", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyUnavailable, err)
	}

	return &AccessToken{
		Token:     signed,
		JTI:       jti,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, issuer, audience and expiry, then revocation.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.JWT.Issuer),
		jwt.WithAudience(s.config.JWT.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid algorithm family: %v", token.Header["alg"])
		}
		return []byte(s.config.JWT.SecretKey), nil
	})
	if err != nil {
		s.logger.Debug("access token validation failed", zap.Error(err))

		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.revocation != nil {
		if err := s.checkRevocation(claims); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

// A revocation lookup failure fails closed.
func (s *Service) checkRevocation(claims *Claims) error {
	revoked, err := s.revocation.IsTokenRevoked(claims.ID)
	if err != nil {
		s.logger.Error("failed to check token revocation status", zap.Error(err))
		return ErrInvalidToken
	}
	if revoked {
		return ErrTokenRevoked
	}

	if claims.IssuedAt == nil {
		return nil
	}
	revoked, err = s.revocation.IsUserTokenRevoked(claims.UserID, claims.IssuedAt.Time)
	if err != nil {
		s.logger.Error("failed to check user revocation status", zap.Error(err))
		return ErrInvalidToken
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}
