package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"friendclub/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_ReturnsOK(t *testing.T) {
	tests := []struct {
		name   string
		method string
	}{
		{"GET request", http.MethodGet},
		{"HEAD request", http.MethodHead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Health(w, httptest.NewRequest(tt.method, "/health", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestHealthCheckResult_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(HealthCheckResult{Status: "up"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"status":"up"}`, string(data))
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestReady(t *testing.T) {
	up := func(context.Context) (map[string]any, error) { return map[string]any{"n": 1}, nil }
	down := func(context.Context) (map[string]any, error) { return nil, errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]Check
		wantStatus int
		wantState  string
	}{
		{
			name:       "no dependencies",
			checks:     map[string]Check{},
			wantStatus: http.StatusOK,
			wantState:  "ready",
		},
		{
			name:       "all up",
			checks:     map[string]Check{"database": up, "relay": PingCheck(stubPinger{})},
			wantStatus: http.StatusOK,
			wantState:  "ready",
		},
		{
			name:       "one down",
			checks:     map[string]Check{"database": up, "stream": down},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "not_ready",
		},
		{
			name:       "relay down",
			checks:     map[string]Check{"relay": PingCheck(stubPinger{err: errors.New("connection closed")})},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Ready(tt.checks)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := testutil.DecodeJSON[struct {
				Status string                       `json:"status"`
				Checks map[string]HealthCheckResult `json:"checks"`
			}](t, w)
			assert.Equal(t, tt.wantState, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestDatabaseCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	metadata, err := DatabaseCheck(db)(context.Background())
	require.NoError(t, err)
	assert.Contains(t, metadata, "connections_open")

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	_, err = DatabaseCheck(db)(context.Background())
	assert.EqualError(t, err, "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamCheck(t *testing.T) {
	cursor := func() int64 { return 42 }

	metadata, err := StreamCheck(func() bool { return true }, cursor)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), metadata["cursor"])

	_, err = StreamCheck(func() bool { return false }, cursor)(context.Background())
	assert.Error(t, err)
}
