package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "allowed origin",
			allowed:    []string{"https://fc.example.com"},
			origin:     "https://fc.example.com",
			method:     http.MethodGet,
			wantOrigin: "https://fc.example.com",
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "disallowed origin",
			allowed:    []string{"https://fc.example.com"},
			origin:     "https://evil.example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "wildcard",
			allowed:    []string{"*"},
			origin:     "https://anywhere.example.com",
			method:     http.MethodPost,
			wantOrigin: "https://anywhere.example.com",
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "preflight",
			allowed:    []string{"https://fc.example.com"},
			origin:     "https://fc.example.com",
			method:     http.MethodOptions,
			wantOrigin: "https://fc.example.com",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "no origin header",
			allowed:    []string{"*"},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := CORS(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/feed", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantNext, called)
			if tt.wantOrigin != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
			}
		})
	}
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{input: "https://a.example", want: []string{"https://a.example"}},
		{input: " https://a.example , https://b.example ", want: []string{"https://a.example", "https://b.example"}},
		{input: "https://a.example,,", want: []string{"https://a.example"}},
		{input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOrigins(tt.input))
		})
	}
}
