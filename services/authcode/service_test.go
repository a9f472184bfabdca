package authcode

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/pkce"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/testutils"
)

const (
	testClient   = "web-app"
	testRedirect = "http://localhost:3000/callback"
)

func newTestService(t *testing.T) (*Service, *audit.MemorySink) {
	t.Helper()

	cfg := testutils.GetTestConfig()
	registry, err := LoadRegistry(cfg.AuthCode)
	require.NoError(t, err)

	db := testutils.SetupTestDB(t, &AuthorizationCode{})
	svc := NewService(db, registry, cfg, nil)
	sink := audit.NewMemorySink()
	svc.SetAuditSink(sink)
	return svc, sink
}

func issue(t *testing.T, svc *Service, verifier string) string {
	t.Helper()
	issued, err := svc.IssueAuthorizationCode(context.Background(), 7, IssueParams{
		ClientID:            testClient,
		RedirectURI:         testRedirect,
		Scope:               "openid",
		CodeChallenge:       pkce.ChallengeS256(verifier),
		CodeChallengeMethod: pkce.MethodS256,
		IP:                  "203.0.113.9",
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Code)
	return issued.Code
}

func exchange(svc *Service, code, verifier string) (*AuthorizationCode, error) {
	return svc.ExchangeCode(context.Background(), ExchangeParams{
		Code:         code,
		CodeVerifier: verifier,
		ClientID:     testClient,
		RedirectURI:  testRedirect,
		IP:           "203.0.113.9",
	})
}

func TestExchangeCode_SingleUse(t *testing.T) {
	svc, sink := newTestService(t)
	verifier, err := pkce.GenerateVerifier()
	require.NoError(t, err)
	code := issue(t, svc, verifier)

	record, err := exchange(svc, code, verifier)
	require.NoError(t, err)
	assert.Equal(t, uint(7), record.UserID)
	assert.True(t, record.Used)
	assert.Equal(t, "openid", record.Scope)

	_, err = exchange(svc, code, verifier)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	assert.Equal(t, 1, sink.Count(audit.EventAuthCodeIssued))
	assert.Equal(t, 1, sink.Count(audit.EventAuthCodeExchanged))
	assert.Equal(t, 1, sink.Count(audit.EventAuthCodeRejected))
}

func TestExchangeCode_WrongVerifierDoesNotBurnCode(t *testing.T) {
	svc, _ := newTestService(t)
	verifier, _ := pkce.GenerateVerifier()
	other, _ := pkce.GenerateVerifier()
	code := issue(t, svc, verifier)

	_, err := exchange(svc, code, other)
	assert.ErrorIs(t, err, ErrInvalidCodeVerifier)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.ErrorIs(t, err, pkce.ErrInvalidCodeVerifier)

	_, err = exchange(svc, code, verifier)
	assert.NoError(t, err)
}

func TestExchangeCode_BindingMismatch(t *testing.T) {
	verifier, _ := pkce.GenerateVerifier()

	tests := []struct {
		name   string
		params func(code string) ExchangeParams
	}{
		{name: "client", params: func(code string) ExchangeParams {
			return ExchangeParams{Code: code, CodeVerifier: verifier, ClientID: "other", RedirectURI: testRedirect}
		}},
		{name: "redirect", params: func(code string) ExchangeParams {
			return ExchangeParams{Code: code, CodeVerifier: verifier, ClientID: testClient, RedirectURI: testRedirect + "/"}
		}},
		{name: "unknown code", params: func(string) ExchangeParams {
			return ExchangeParams{Code: "nope", CodeVerifier: verifier, ClientID: testClient, RedirectURI: testRedirect}
		}},
		{name: "missing redirect", params: func(code string) ExchangeParams {
			return ExchangeParams{Code: code, CodeVerifier: verifier, ClientID: testClient}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			code := issue(t, svc, verifier)

			_, err := svc.ExchangeCode(context.Background(), tt.params(code))
			assert.ErrorIs(t, err, ErrInvalidGrant)
			assert.NotErrorIs(t, err, ErrInvalidCodeVerifier)
		})
	}
}

func TestExchangeCode_Expired(t *testing.T) {
	svc, _ := newTestService(t)
	verifier, _ := pkce.GenerateVerifier()
	code := issue(t, svc, verifier)

	svc.now = func() time.Time { return time.Now().UTC().Add(6 * time.Minute) }

	_, err := exchange(svc, code, verifier)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeCode_ConcurrentExchangeOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	verifier, _ := pkce.GenerateVerifier()
	code := issue(t, svc, verifier)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := exchange(svc, code, verifier); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestIssueAuthorizationCode_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	challenge := pkce.ChallengeS256("a-verifier-that-is-long-enough-to-pass-the-rfc-rules")

	_, err := svc.IssueAuthorizationCode(ctx, 1, IssueParams{ClientID: "unknown", RedirectURI: testRedirect, CodeChallenge: challenge, CodeChallengeMethod: "S256"})
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = svc.IssueAuthorizationCode(ctx, 1, IssueParams{ClientID: testClient, RedirectURI: "https://evil.example/cb", CodeChallenge: challenge, CodeChallengeMethod: "S256"})
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)

	_, err = svc.IssueAuthorizationCode(ctx, 1, IssueParams{ClientID: testClient, RedirectURI: testRedirect, CodeChallenge: "short", CodeChallengeMethod: "S256"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.IssueAuthorizationCode(ctx, 1, IssueParams{ClientID: testClient, RedirectURI: testRedirect, CodeChallenge: challenge, CodeChallengeMethod: "S512"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPlainMethodIsDefault(t *testing.T) {
	svc, _ := newTestService(t)
	verifier, _ := pkce.GenerateVerifier()

	issued, err := svc.IssueAuthorizationCode(context.Background(), 3, IssueParams{
		ClientID:      testClient,
		RedirectURI:   testRedirect,
		CodeChallenge: verifier,
	})
	require.NoError(t, err)

	record, err := exchange(svc, issued.Code, verifier)
	require.NoError(t, err)
	assert.Equal(t, pkce.MethodPlain, record.CodeChallengeMethod)
}

func TestCleanupExpired(t *testing.T) {
	svc, _ := newTestService(t)
	verifier, _ := pkce.GenerateVerifier()
	issue(t, svc, verifier)

	n, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err = svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
clients:
  - id: mobile
    name: Mobile app
    redirect_uris:
      - com.example.app:/oauth
    scopes: [openid, profile]
  - id: web-app
    redirect_uris:
      - http://localhost:3000/alt
`), 0o600))

	cfg := testutils.GetTestConfig().AuthCode
	cfg.ClientsFile = path

	r, err := LoadRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	mobile, ok := r.Lookup("mobile")
	require.True(t, ok)
	assert.True(t, mobile.AllowsRedirect("com.example.app:/oauth"))
	assert.True(t, mobile.AllowsScope("openid profile"))
	assert.False(t, mobile.AllowsScope("openid admin"))

	web, ok := r.Lookup("web-app")
	require.True(t, ok)
	assert.True(t, web.AllowsRedirect(testRedirect))
	assert.True(t, web.AllowsRedirect("http://localhost:3000/alt"))

	require.NoError(t, os.WriteFile(path, []byte("clients:\n  - name: nameless\n"), 0o600))
	_, err = LoadRegistry(cfg)
	assert.Error(t, err)
}
