package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sensechat/internal/handlers"
	"github.com/eldtechnologies/sensechat/internal/models"
	"github.com/eldtechnologies/sensechat/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.UpsertUser(context.Background(), &models.User{ID: "alice", Name: "Alice", Language: "en", StylePreset: "casual"}))

	h := handlers.NewHandler(handlers.Options{Store: db, Logger: zerolog.Nop()})
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := httptest.NewServer(NewRouter(Deps{
		Logger:   zerolog.Nop(),
		Handler:  h,
		Users:    db,
		Realtime: ws,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouterRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		code   int
	}{
		{"root", http.MethodGet, "/", "", "", http.StatusOK},
		{"users", http.MethodGet, "/api/v1/users", "", "", http.StatusOK},
		{"user", http.MethodGet, "/api/v1/users/alice", "", "", http.StatusOK},
		{"online", http.MethodGet, "/api/v1/users/online", "", "", http.StatusOK},
		{"health without providers", http.MethodGet, "/api/v1/health", "", "", http.StatusServiceUnavailable},
		{"embed needs user", http.MethodPost, "/api/v1/embed", "", `{"text":"hi"}`, http.StatusUnauthorized},
		{"embed", http.MethodPost, "/api/v1/embed", "alice", `{"text":"hi"}`, http.StatusCreated},
		{"render without providers", http.MethodPost, "/api/v1/render", "alice", `{"message_id":"x","recipient_id":"alice"}`, http.StatusNotFound},
		{"inbox", http.MethodGet, "/api/v1/inbox", "alice", "", http.StatusOK},
		{"websocket mounted", http.MethodGet, "/api/v1/ws", "", "", http.StatusTeapot},
		{"unknown", http.MethodGet, "/api/v1/nope", "", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, body)
			require.NoError(t, err)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.user != "" {
				req.Header.Set("X-User-ID", tt.user)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		})
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/users")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sensechat_http_requests_total{method="GET",path="/api/v1/users",status="200"}`)
}
