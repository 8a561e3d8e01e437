package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megaputer/pa6-go/internal/config"
	"github.com/megaputer/pa6-go/pkg/pa6"
)

const (
	apiPrefix   = "/polyanalyst/api/v1.0/"
	testProject = "6f1c2d3e-4b5a-4c7d-8e9f-0a1b2c3d4e5f"
)

// fakeServer is a minimal PolyAnalyst server: it accepts any login and
// counts logouts. Tests add the endpoints they exercise.
type fakeServer struct {
	*httptest.Server
	mux     *http.ServeMux
	logouts atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{mux: http.NewServeMux()}

	fs.mux.HandleFunc("POST "+apiPrefix+"login", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("uname"))
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "cli-session", Path: "/"})
	})
	fs.mux.HandleFunc("POST "+apiPrefix+"logout", func(http.ResponseWriter, *http.Request) {
		fs.logouts.Add(1)
	})

	fs.Server = httptest.NewServer(fs.mux)
	t.Cleanup(fs.Close)

	return fs
}

func (fs *fakeServer) handle(t *testing.T, method, endpoint string, v any) {
	t.Helper()

	fs.mux.HandleFunc(method+" "+apiPrefix+endpoint, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, v)
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// runCLI executes the root command against url with an isolated config and
// data directory. Polling is fast so waits finish quickly.
func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	t.Setenv(config.EnvURL, url)
	t.Setenv(config.EnvUsername, "alice")
	t.Setenv(config.EnvPassword, "secret")
	t.Setenv(config.EnvProfile, "")
	t.Setenv(config.EnvToken, "")

	cfgPath := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[network]
retry_wait = "1ms"

[polling]
interval = "2ms"

[logging]
log_level = "error"
`), 0o600))

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath, "-q"}, args...))

	err := cmd.ExecuteContext(t.Context())

	return out.String(), err
}

func TestCLI_Info(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle(t, "GET", "server/info", map[string]any{"version": "6.5", "build": 4321})

	out, err := runCLI(t, srv.URL, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:  6.5")
	assert.Contains(t, out, "Build:    4321")
	assert.Equal(t, int32(1), srv.logouts.Load())
}

func TestCLI_InfoLeavesUploadJournalAlone(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle(t, "GET", "server/info", map[string]any{"version": "6.5", "build": 4321})

	_, err := runCLI(t, srv.URL, "info")
	require.NoError(t, err)
	assert.NoFileExists(t, config.JournalPath("default"))
}

func TestCLI_InfoJSON(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle(t, "GET", "server/info", map[string]any{"version": "6.5", "build": 4321})

	out, err := runCLI(t, srv.URL, "-o", "json", "info")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "6.5", got["version"])
}

func TestCLI_Versions(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("GET /polyanalyst/api/versions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []string{"1.0", "2.0"})
	})

	out, err := runCLI(t, srv.URL, "versions")
	require.NoError(t, err)
	assert.Equal(t, "1.0 (supported)\n2.0\n", out)
}

func TestCLI_Nodes(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle(t, "GET", "project/nodes", map[string]any{"nodes": []pa6.Node{
		{ID: 1, Name: "Cars", Type: "DataSource", Status: "synchronized"},
		{ID: 2, Name: "Summary", Type: "Dataset", Status: "incomplete", ErrMsg: "not run"},
	}})

	out, err := runCLI(t, srv.URL, "nodes", "-p", testProject)
	require.NoError(t, err)
	assert.Equal(t, ""+
		"ID  NAME     TYPE        STATUS        ERROR\n"+
		"1   Cars     DataSource  synchronized\n"+
		"2   Summary  Dataset     incomplete    not run\n", out)
}

func TestCLI_NodesRequiresProject(t *testing.T) {
	srv := newFakeServer(t)

	_, err := runCLI(t, srv.URL, "nodes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"project"`)
}

func TestCLI_InvalidProjectUUID(t *testing.T) {
	srv := newFakeServer(t)

	_, err := runCLI(t, srv.URL, "nodes", "-p", "not-a-uuid")
	assert.ErrorIs(t, err, pa6.ErrInvalidArgument)
}

func TestCLI_GlobalFlagValidation(t *testing.T) {
	srv := newFakeServer(t)

	_, err := runCLI(t, srv.URL, "-o", "xml", "info")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")

	_, err = runCLI(t, srv.URL, "-v", "info")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestCLI_WaitReportsFailures(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("GET "+apiPrefix+"project/export/status", func(w http.ResponseWriter, r *http.Request) {
		state := "Exported"
		if r.URL.Query().Get("exportId") == "8" {
			state = "Error"
		}

		writeJSON(t, w, map[string]any{"state": state, "message": "export " + state})
	})

	out, err := runCLI(t, srv.URL, "-o", "json", "wait", "export:7", "export:8")
	require.ErrorIs(t, err, pa6.ErrOperationFailed)
	assert.Contains(t, err.Error(), "1 of 2 operations failed")

	var results []waitResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, waitResult{Kind: "export", ID: "7", State: "Exported", Outcome: "succeeded"}, results[0])
	assert.Equal(t, "failed", results[1].Outcome)
}

func TestCLI_WaitRejectsBadOperation(t *testing.T) {
	srv := newFakeServer(t)

	_, err := runCLI(t, srv.URL, "wait", "export")
	assert.ErrorIs(t, err, pa6.ErrInvalidArgument)
}

func TestCLI_Mkdir(t *testing.T) {
	srv := newFakeServer(t)

	var got map[string]any

	srv.mux.HandleFunc("POST "+apiPrefix+"folder/create", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	_, err := runCLI(t, srv.URL, "mkdir", "/reports/2026")
	require.NoError(t, err)
	assert.Equal(t, "/reports", got["path"])
	assert.Equal(t, "2026", got["name"])
}

func TestCLI_UploadsListEmpty(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "uploads", "list")
	require.NoError(t, err)
	assert.Equal(t, "FILE  SIZE  CREATED  ENDPOINT\n", out)
	assert.FileExists(t, config.JournalPath("default"))
	assert.Zero(t, srv.logouts.Load())
}
