package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentials struct {
	Email    string `json:"email" doc:"Account email"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

type account struct {
	ID      uint      `json:"id"`
	Roles   []string  `json:"roles,omitempty"`
	Created time.Time `json:"created"`
	Parent  *account  `json:"parent,omitempty"`
	secret  string
}

type envelope struct {
	account
	Token string `json:"token"`
}

type grantForm struct {
	GrantType string `form:"grant_type" required:"true"`
	Code      string `form:"code"`
	Ignored   string
}

func TestDocument_Routes(t *testing.T) {
	doc := New("test", "1.0.0").
		BearerAuth("bearer", "access token").
		CookieAuth("cookie", "refresh_token", "refresh token")

	doc.Route(http.MethodPost, "/login").
		Summary("login").
		Body(credentials{}, "creds").
		Response(http.StatusOK, envelope{}, "ok").
		Response(http.StatusUnauthorized, nil, "denied").
		Build()
	doc.Route(http.MethodDelete, "/sessions/:id").
		Security("bearer").
		Response(http.StatusNoContent, nil, "gone").
		Build()
	doc.Route(http.MethodPost, "/token").
		FormBody(grantForm{}, "grant").
		Response(http.StatusOK, account{}, "ok").
		Build()

	require.NoError(t, doc.Validate(context.Background()))

	spec := doc.Spec()
	del := spec.Paths.Find("/sessions/{id}")
	require.NotNil(t, del)
	require.NotNil(t, del.Delete)
	require.Len(t, del.Delete.Parameters, 1)
	assert.Equal(t, "path", del.Delete.Parameters[0].Value.In)
	assert.True(t, del.Delete.Parameters[0].Value.Required)

	login := spec.Paths.Find("/login").Post
	body := login.RequestBody.Value.Content["application/json"].Schema
	assert.Equal(t, "#/components/schemas/Credentials", body.Ref)

	creds := spec.Components.Schemas["Credentials"].Value
	assert.ElementsMatch(t, []string{"email", "password"}, creds.Required)
	assert.Equal(t, "Account email", creds.Properties["email"].Value.Description)

	env := spec.Components.Schemas["Envelope"].Value
	assert.Contains(t, env.Properties, "id")
	assert.Contains(t, env.Properties, "token")

	acct := spec.Components.Schemas["Account"].Value
	assert.NotContains(t, acct.Properties, "secret")
	assert.Equal(t, "date-time", acct.Properties["created"].Value.Format)
	assert.Equal(t, "#/components/schemas/Account", acct.Properties["parent"].Ref)

	form := spec.Paths.Find("/token").Post.RequestBody.Value.Content["application/x-www-form-urlencoded"].Schema.Value
	assert.Len(t, form.Properties, 2)
	assert.Equal(t, []string{"grant_type"}, form.Required)
}

func TestDocument_Handlers(t *testing.T) {
	doc := New("test", "1.0.0")
	doc.Route(http.MethodGet, "/healthz").Response(http.StatusOK, nil, "ok").Build()

	e := echo.New()
	e.GET("/openapi.json", doc.JSONHandler())
	e.GET("/openapi.yaml", doc.YAMLHandler())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "3.0.3", raw["openapi"])

	loaded, err := openapi3.NewLoader().LoadFromData(rec.Body.Bytes())
	require.NoError(t, err)
	assert.NotNil(t, loaded.Paths.Find("/healthz"))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")
}

func TestEchoPathToOpenAPI(t *testing.T) {
	assert.Equal(t, "/auth/oauth/{provider}/callback", echoPathToOpenAPI("/auth/oauth/:provider/callback"))
	assert.Equal(t, "/healthz", echoPathToOpenAPI("/healthz"))
}
