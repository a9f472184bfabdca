package testutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/config"
)

// FakeIdP is an httptest OpenID provider. Call Authorize with the URL the
// service produced, then hand Code to the callback.
type FakeIdP struct {
	t      *testing.T
	Server *httptest.Server
	key    *rsa.PrivateKey
	kid    string

	ClientID string
	Code     string

	mu            sync.Mutex
	challenge     string
	nonce         string
	Subject       string
	Email         string
	EmailVerified bool
	Audience      string
	TokenStatus   int
	// ForceNonce overrides the nonce placed in the ID token.
	ForceNonce string

	JWKSHits  atomic.Int32
	TokenHits atomic.Int32
}

func NewFakeIdP(t *testing.T) *FakeIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &FakeIdP{
		t:             t,
		key:           key,
		kid:           "test-key-1",
		ClientID:      "authkit-client",
		Code:          "provider-code",
		Subject:       "idp-subject-1",
		Email:         "alice@example.com",
		EmailVerified: true,
		TokenStatus:   http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", f.serveJWKS)
	mux.HandleFunc("/token", f.serveToken)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// Configure points an OAuth config at this provider.
func (f *FakeIdP) Configure(cfg *config.OAuthConfig) {
	cfg.Enabled = true
	cfg.ClientID = f.ClientID
	cfg.AuthURL = f.Server.URL + "/authorize"
	cfg.TokenURL = f.Server.URL + "/token"
	cfg.JWKSURL = f.Server.URL + "/jwks"
	cfg.Issuer = f.Server.URL
}

// Authorize records the PKCE challenge and nonce from an authorization URL.
func (f *FakeIdP) Authorize(authURL string) {
	u, err := url.Parse(authURL)
	require.NoError(f.t, err)

	q := u.Query()
	require.Equal(f.t, "S256", q.Get("code_challenge_method"))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenge = q.Get("code_challenge")
	f.nonce = q.Get("nonce")
}

func (f *FakeIdP) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	f.JWKSHits.Add(1)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &f.key.PublicKey,
		KeyID:     f.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (f *FakeIdP) serveToken(w http.ResponseWriter, r *http.Request) {
	f.TokenHits.Add(1)

	f.mu.Lock()
	status := f.TokenStatus
	challenge := f.challenge
	nonce := f.nonce
	if f.ForceNonce != "" {
		nonce = f.ForceNonce
	}
	f.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"temporarily_unavailable"}`))
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if r.PostForm.Get("code") != f.Code || base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "provider-access-token",
		"refresh_token": "provider-refresh-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"id_token":      f.IDToken(nonce),
	})
}

// IDToken signs an ID token with the provider key.
func (f *FakeIdP) IDToken(nonce string) string {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: f.key, KeyID: f.kid}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(f.t, err)

	audience := f.Audience
	if audience == "" {
		audience = f.ClientID
	}
	now := time.Now()
	std := josejwt.Claims{
		Issuer:   f.Server.URL,
		Subject:  f.Subject,
		Audience: josejwt.Audience{audience},
		IssuedAt: josejwt.NewNumericDate(now),
		Expiry:   josejwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	extra := map[string]any{
		"nonce":          nonce,
		"email":          f.Email,
		"email_verified": f.EmailVerified,
		"name":           "Test User",
	}

	raw, err := josejwt.Signed(signer).Claims(std).Claims(extra).Serialize()
	require.NoError(f.t, err)
	return raw
}
