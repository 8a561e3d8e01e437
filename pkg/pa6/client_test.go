package pa6

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProject = "0d4c4c4e-1a2b-4c3d-8e9f-0a1b2c3d4e5f"
	apiPrefix   = "/polyanalyst/api/v1.0/"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient creates a Client pointing at the given httptest server with
// instant poll and backoff sleeps.
func newTestClient(t *testing.T, url string, mutate ...func(*Options)) *Client {
	t.Helper()

	opts := Options{
		URL:       url,
		Username:  "alice",
		Password:  "secret",
		RetryWait: time.Millisecond,
		Logger:    discardLogger(),
	}

	for _, m := range mutate {
		m(&opts)
	}

	c, err := New(opts)
	require.NoError(t, err)

	c.sleep = noopSleep
	c.unloadDelay = 0

	return c
}

// newTestServer starts a server whose mux routes are registered by setup.
func newTestServer(t *testing.T, setup func(mux *http.ServeMux)) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	setup(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// route is the mux pattern for an endpoint under the versioned API root.
func route(method, endpoint string) string {
	return method + " " + apiPrefix + endpoint
}

func writeJSON(t *testing.T, w http.ResponseWriter, code int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func apiError(title, message string) map[string]any {
	return map[string]any{"error": map[string]string{"title": title, "message": message}}
}

// serveNodes registers a project/nodes handler returning nodes.
func serveNodes(t *testing.T, mux *http.ServeMux, nodes ...Node) {
	t.Helper()

	mux.HandleFunc(route("GET", "project/nodes"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testProject, r.URL.Query().Get("prjUUID"))
		writeJSON(t, w, http.StatusOK, map[string]any{"nodes": nodes})
	})
}

func newTestProject(t *testing.T, c *Client) *Project {
	t.Helper()

	p, err := c.Project(t.Context(), testProject)
	require.NoError(t, err)

	return p
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"missing url", Options{Username: "a"}, ErrInvalidArgument},
		{"bad url", Options{URL: "not a url", Username: "a"}, ErrInvalidArgument},
		{"no credentials", Options{URL: "http://pa:5043"}, ErrInvalidArgument},
		{"busy status retried", Options{URL: "http://pa:5043", Token: "t", RetryStatuses: []int{502, 503}}, ErrInvalidArgument},
		{"unsupported version", Options{URL: "http://pa:5043", Token: "t", APIVersion: "2.0"}, ErrUnsupportedVersion},
		{"missing ca file", Options{URL: "https://pa:5043", Token: "t", CAFile: "/nonexistent/ca.pem"}, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_BaseURL(t *testing.T) {
	c, err := New(Options{URL: "https://pa.example.com:5043/ignored/path", Token: "t", APIVersion: "1"})
	require.NoError(t, err)

	assert.Equal(t, "https://pa.example.com:5043/polyanalyst/api/v1", c.BaseURL())
	assert.Equal(t, "1", c.Version())
}

func TestDo_ErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		body        string
		wantErr     error
		wantTitle   string
		wantMessage string
	}{
		{
			name:        "json envelope",
			code:        http.StatusBadRequest,
			body:        `{"error":{"title":"Invalid parameter","message":"prjUUID is missing"}}`,
			wantErr:     ErrBadRequest,
			wantTitle:   "Invalid parameter",
			wantMessage: "prjUUID is missing",
		},
		{
			name:        "legacy 500 array",
			code:        http.StatusInternalServerError,
			body:        `["Error","Unhandled exception"]`,
			wantErr:     ErrServerError,
			wantMessage: "Unhandled exception",
		},
		{
			name:        "legacy 403 not logged in",
			code:        http.StatusForbidden,
			body:        `You are not logged in to PolyAnalyst Server`,
			wantErr:     ErrNotLoggedIn,
			wantMessage: "You are not logged in to PolyAnalyst Server",
		},
		{
			name:        "legacy 403 limited",
			code:        http.StatusForbidden,
			body:        `Access to this operation is limited to project owners and administrator`,
			wantErr:     ErrForbidden,
			wantMessage: "Access to this operation is limited to project owners and administrator",
		},
		{
			name:        "busy",
			code:        http.StatusServiceUnavailable,
			wantErr:     ErrBusy,
			wantMessage: "PolyAnalyst server is busy",
		},
		{
			name:        "already exists wins over status",
			code:        http.StatusInternalServerError,
			body:        `{"error":{"title":"Error","message":"Folder already exists"}}`,
			wantErr:     ErrAlreadyExists,
			wantTitle:   "Error",
			wantMessage: "Folder already exists",
		},
		{
			name:        "stale wrapper",
			code:        http.StatusBadRequest,
			body:        `{"error":{"title":"Error","message":"Wrapper with guid abc not found"}}`,
			wantErr:     ErrStaleReference,
			wantTitle:   "Error",
			wantMessage: "Wrapper with guid abc not found",
		},
		{
			name:        "not found plain text",
			code:        http.StatusNotFound,
			body:        "no such endpoint\n",
			wantErr:     ErrNotFound,
			wantMessage: "no such endpoint",
		},
		{
			name:        "empty body falls back to status text",
			code:        http.StatusConflict,
			wantErr:     ErrConflict,
			wantMessage: "Conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(mux *http.ServeMux) {
				mux.HandleFunc(route("GET", "server/info"), func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.code)
					_, _ = w.Write([]byte(tt.body))
				})
			})

			c := newTestClient(t, srv.URL)

			_, err := c.get(t.Context(), "server/info", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.code, apiErr.StatusCode)
			assert.Equal(t, "server/info", apiErr.Endpoint)
			assert.Equal(t, tt.wantTitle, apiErr.Title)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.code, StatusCode(err))
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 400, Endpoint: "project/save", Title: "Bad", Message: "no project", Err: ErrBadRequest}
	assert.Equal(t, "pa6: HTTP 400 from project/save: Bad. Message: 'no project'", err.Error())

	err = &APIError{StatusCode: 503, Endpoint: "project/unload", Message: "PolyAnalyst server is busy", Err: ErrBusy}
	assert.Equal(t, "pa6: HTTP 503 from project/unload: PolyAnalyst server is busy", err.Error())
	assert.True(t, IsBusy(err))
}

func TestDo_RetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32

	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.HandleFunc(route("GET", "server/info"), func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}

			writeJSON(t, w, http.StatusOK, map[string]any{"version": "6.5", "build": 3050})
		})
	})

	c := newTestClient(t, srv.URL)

	info, err := c.ServerInfo(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "6.5", info.Version())
	assert.Equal(t, int64(3050), info.Build())
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ZeroRetryCount(t *testing.T) {
	var calls atomic.Int32

	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.HandleFunc(route("GET", "server/info"), func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})
	})

	c := newTestClient(t, srv.URL, func(o *Options) { o.RetryCount = Int(0) })

	_, err := c.ServerInfo(t.Context())
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_CommandsAreNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := newTestServer(t, func(mux *http.ServeMux) {
		serveNodes(t, mux, workflow...)
		mux.HandleFunc(route("POST", "project/execute"), func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusGatewayTimeout)
		})
	})

	c := newTestClient(t, srv.URL)

	_, err := newTestProject(t, c).Execute(t.Context())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_BusyIsNotRetriedByTransport(t *testing.T) {
	var calls atomic.Int32

	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.HandleFunc(route("GET", "server/info"), func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	})

	c := newTestClient(t, srv.URL)

	_, err := c.ServerInfo(t.Context())
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_MalformedSuccessBody(t *testing.T) {
	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.HandleFunc(route("GET", "server/info"), func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>proxy login</html>"))
		})
		mux.HandleFunc(route("GET", "project/reports"), func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	c := newTestClient(t, srv.URL)

	_, err := c.ServerInfo(t.Context())
	assert.ErrorIs(t, err, ErrMalformedResponse)

	p := &Project{c: c, uuid: testProject}
	_, err = p.ReportList(t.Context())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)

	_, err := c.ServerInfo(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Zero(t, StatusCode(err))
}

func TestDo_AcceptedIsSuccess(t *testing.T) {
	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.HandleFunc(route("POST", "scheduler/run-task"), func(w http.ResponseWriter, r *http.Request) {
			var body map[string]int64
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(12), body["taskId"])
			w.WriteHeader(http.StatusAccepted)
		})
	})

	c := newTestClient(t, srv.URL)

	require.NoError(t, c.RunTask(t.Context(), 12))
}

func TestDo_CanceledContext(t *testing.T) {
	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.HandleFunc(route("GET", "server/info"), func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, http.StatusOK, map[string]any{})
		})
	})

	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := c.ServerInfo(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
