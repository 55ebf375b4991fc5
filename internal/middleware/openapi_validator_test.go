package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"friendclub/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPISpecIsValid(t *testing.T) {
	router, err := NewOpenAPIRouter(api.OpenAPI)
	require.NoError(t, err)
	assert.NotNil(t, router)
}

func TestAllRoutesAreDocumentedInOpenAPI(t *testing.T) {
	router, err := NewOpenAPIRouter(api.OpenAPI)
	require.NoError(t, err)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/feed"},
		{http.MethodGet, "/api/messages/export"},
		{http.MethodPost, "/api/message"},
		{http.MethodDelete, "/api/message/abc123"},
		{http.MethodGet, "/api/my-posts"},
		{http.MethodPost, "/api/auth/login"},
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodGet, "/api/auth/me"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			_, _, err := router.FindRoute(req)
			assert.NoError(t, err)
		})
	}
}

func TestOpenAPIValidator(t *testing.T) {
	validate := OpenAPIValidator(DefaultOpenAPIValidatorConfig(api.OpenAPI, true))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid post",
			method:     http.MethodPost,
			path:       "/api/message",
			body:       `{"text":"hi","expiresIn":"5m","postToBsky":true}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown expiration",
			method:     http.MethodPost,
			path:       "/api/message",
			body:       `{"text":"hi","expiresIn":"7d"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "media must be a data url",
			method:     http.MethodPost,
			path:       "/api/message",
			body:       `{"text":"hi","gifDataUrl":"https://x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "login missing password",
			method:     http.MethodPost,
			path:       "/api/auth/login",
			body:       `{"identifier":"alice.test"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "valid login",
			method:     http.MethodPost,
			path:       "/api/auth/login",
			body:       `{"identifier":"alice.test","password":"pw"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "undocumented path passes",
			method:     http.MethodGet,
			path:       "/static/app.js",
			wantStatus: http.StatusOK,
		},
		{
			name:       "skipped path",
			method:     http.MethodGet,
			path:       "/health/ready",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body string
			handler := validate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				body = string(b)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusOK {
				// the body is still readable downstream
				assert.Equal(t, tt.body, body)
			} else {
				assert.Contains(t, w.Body.String(), "Request validation failed")
			}
		})
	}
}

func TestOpenAPIValidator_Disabled(t *testing.T) {
	called := false
	handler := OpenAPIValidator(DefaultOpenAPIValidatorConfig(api.OpenAPI, false))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}

func TestOpenAPIValidator_BrokenSpecPassesThrough(t *testing.T) {
	called := false
	handler := OpenAPIValidator(DefaultOpenAPIValidatorConfig([]byte("not: [valid"), true))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/feed", nil))

	assert.True(t, called)
}

func TestNewOpenAPIRouter_Invalid(t *testing.T) {
	_, err := NewOpenAPIRouter([]byte("openapi: 3.0.3\ninfo: {}\n"))
	assert.Error(t, err)
}
