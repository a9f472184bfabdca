package e2etesting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type HTTPClient struct {
	Client    *http.Client
	BaseURL   string
	UserAgent string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		Client:  &http.Client{Timeout: 30 * time.Second},
		BaseURL: baseURL,
	}
}

type RequestOptions struct {
	Method   string
	Path     string
	Body     any
	Headers  map[string]string
	FormData url.Values
}

type Response struct {
	*http.Response
	Body []byte
}

func (r *Response) GetJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

func (r *Response) GetString() string {
	return string(r.Body)
}

func (r *Response) AssertStatus(t *testing.T, expectedStatus int) {
	t.Helper()
	require.Equal(t, expectedStatus, r.StatusCode, "unexpected status code. Response: %s", r.GetString())
}

func (r *Response) AssertRedirect(t *testing.T, locationPrefix string) {
	t.Helper()
	require.True(t, r.StatusCode >= 300 && r.StatusCode < 400, "expected redirect status code, got %d", r.StatusCode)
	require.True(t, strings.HasPrefix(r.Header.Get("Location"), locationPrefix), "redirected to %s", r.Header.Get("Location"))
}

func (c *HTTPClient) Get(path string) (*Response, error) {
	return c.Request(&RequestOptions{Method: http.MethodGet, Path: path})
}

func (c *HTTPClient) Post(path string, body any, headers map[string]string) (*Response, error) {
	return c.Request(&RequestOptions{Method: http.MethodPost, Path: path, Body: body, Headers: headers})
}

func (c *HTTPClient) PostForm(path string, data url.Values) (*Response, error) {
	return c.Request(&RequestOptions{Method: http.MethodPost, Path: path, FormData: data})
}

func (c *HTTPClient) Delete(path string, headers map[string]string) (*Response, error) {
	return c.Request(&RequestOptions{Method: http.MethodDelete, Path: path, Headers: headers})
}

func (c *HTTPClient) Request(opts *RequestOptions) (*Response, error) {
	var bodyReader io.Reader
	var contentType string

	if opts.FormData != nil {
		bodyReader = strings.NewReader(opts.FormData.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else if opts.Body != nil {
		jsonBody, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		contentType = "application/json"
	}

	req, err := http.NewRequest(opts.Method, c.BaseURL+opts.Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{Response: resp, Body: body}, nil
}

// Cookie returns the value the jar would send to path.
func (c *HTTPClient) Cookie(path, name string) string {
	if c.Client.Jar == nil {
		return ""
	}
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return ""
	}
	for _, ck := range c.Client.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *HTTPClient) WithCookieJar() *HTTPClient {
	jar, _ := cookiejar.New(nil)
	return &HTTPClient{
		Client: &http.Client{
			Timeout:       c.Client.Timeout,
			Jar:           jar,
			CheckRedirect: c.Client.CheckRedirect,
		},
		BaseURL:   c.BaseURL,
		UserAgent: c.UserAgent,
	}
}

func (c *HTTPClient) WithoutRedirects() *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: c.Client.Timeout,
			Jar:     c.Client.Jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		BaseURL:   c.BaseURL,
		UserAgent: c.UserAgent,
	}
}
