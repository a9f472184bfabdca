package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ProviderTokens is what the identity provider returns from the token endpoint.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	IDToken      string
}

// ProviderIdentity is the verified content of an ID token.
type ProviderIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider is an OpenID Connect identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state, verifier, nonce string) string
	Exchange(ctx context.Context, code, verifier string) (*ProviderTokens, error)
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*ProviderIdentity, error)
}

var signingAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256}

type idTokenClaims struct {
	Nonce         string `json:"nonce"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

type OIDCProvider struct {
	name     string
	oauth    *oauth2.Config
	issuer   string
	clientID string
	client   *http.Client
	keys     *KeySet
	skew     time.Duration
	logger   *logging.Service
	now      func() time.Time
}

func NewOIDCProvider(cfg config.OAuthConfig, logger *logging.Service) *OIDCProvider {
	logger = logger.Named("oidc")
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	return &OIDCProvider{
		name: cfg.ProviderName,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		issuer:   cfg.Issuer,
		clientID: cfg.ClientID,
		client:   client,
		keys:     NewKeySet(cfg.JWKSURL, client, cfg.JWKSCacheTTL, logger),
		skew:     cfg.ClockSkew,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *OIDCProvider) Name() string {
	return p.name
}

func (p *OIDCProvider) AuthCodeURL(state, verifier, nonce string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier string) (*ProviderTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < http.StatusInternalServerError {
			p.logger.Info("provider rejected code exchange",
				zap.Int("status", rerr.Response.StatusCode),
				zap.String("error_code", rerr.ErrorCode))
			return nil, fmt.Errorf("%w: code exchange rejected", ErrIdentityValidation)
		}
		p.logger.Warn("code exchange failed", zap.Error(err))
		return nil, fmt.Errorf("%w: code exchange: %v", ErrProviderUnavailable, err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrIdentityValidation)
	}

	return &ProviderTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		IDToken:      rawID,
	}, nil
}

// VerifyIDToken checks signature against the published key set, then issuer,
// audience, expiry and nonce.
func (p *OIDCProvider) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*ProviderIdentity, error) {
	tok, err := josejwt.ParseSigned(rawIDToken, signingAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed id token", ErrIdentityValidation)
	}
	if len(tok.Headers) != 1 {
		return nil, fmt.Errorf("%w: unexpected signature count", ErrIdentityValidation)
	}

	key, err := p.keys.Key(ctx, tok.Headers[0].KeyID)
	if err != nil {
		return nil, err
	}

	var std josejwt.Claims
	var extra idTokenClaims
	if err := tok.Claims(key.Key, &std, &extra); err != nil {
		return nil, fmt.Errorf("%w: signature verification failed", ErrIdentityValidation)
	}

	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: id token has no expiry", ErrIdentityValidation)
	}
	expected := josejwt.Expected{
		Issuer:      p.issuer,
		AnyAudience: josejwt.Audience{p.clientID},
		Time:        p.now(),
	}
	if err := std.ValidateWithLeeway(expected, p.skew); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityValidation, err)
	}
	if std.Subject == "" {
		return nil, fmt.Errorf("%w: id token has no subject", ErrIdentityValidation)
	}
	if nonce != "" && extra.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrIdentityValidation)
	}

	return &ProviderIdentity{
		Provider:      p.name,
		Subject:       std.Subject,
		Email:         extra.Email,
		EmailVerified: extra.EmailVerified,
		Name:          extra.Name,
	}, nil
}
