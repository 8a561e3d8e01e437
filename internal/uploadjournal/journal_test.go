package uploadjournal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megaputer/pa6-go/pkg/pa6"
	"github.com/megaputer/pa6-go/pkg/tus"
)

var _ tus.Journal = (*Journal)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal", "test.db")

	j, err := Open(t.Context(), path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

// fixedClock returns increasing timestamps one second apart.
func fixedClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0

	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestRecordListForget(t *testing.T) {
	j, _ := openTestJournal(t)
	j.now = fixedClock()

	idA, err := j.Record(t.Context(), "https://pa/file/upload/a", "a.csv", 10)
	require.NoError(t, err)

	idB, err := j.Record(t.Context(), "https://pa/file/upload/b", "b.csv", 0)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	entries, err := j.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.csv", entries[0].FileName)
	assert.Equal(t, int64(10), entries[0].Size)
	assert.True(t, entries[0].CreatedAt.Before(entries[1].CreatedAt))

	require.NoError(t, j.Forget(t.Context(), idA))
	require.NoError(t, j.Forget(t.Context(), "unknown"))

	entries, err = j.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, idB, entries[0].ID)
}

func TestRecord_SameEndpointReplacesID(t *testing.T) {
	j, _ := openTestJournal(t)

	_, err := j.Record(t.Context(), "https://pa/file/upload/a", "a.csv", 10)
	require.NoError(t, err)

	id, err := j.Record(t.Context(), "https://pa/file/upload/a", "a.csv", 10)
	require.NoError(t, err)

	entries, err := j.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	j, path := openTestJournal(t)

	_, err := j.Record(t.Context(), "https://pa/file/upload/a", "a.csv", 1)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	again, err := Open(t.Context(), path, discardLogger())
	require.NoError(t, err)
	defer again.Close()

	entries, err := again.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type fakeTerminator struct {
	mu     sync.Mutex
	calls  []string
	result map[string]error
}

func (f *fakeTerminator) TerminateUpload(_ context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, endpoint)

	return f.result[endpoint]
}

func TestSweep(t *testing.T) {
	j, _ := openTestJournal(t)
	j.now = fixedClock()

	for _, name := range []string{"ok", "gone", "broken"} {
		_, err := j.Record(t.Context(), "https://pa/file/upload/"+name, name+".csv", 5)
		require.NoError(t, err)
	}

	term := &fakeTerminator{result: map[string]error{
		"https://pa/file/upload/gone":   fmt.Errorf("file/upload: %w", pa6.ErrNotFound),
		"https://pa/file/upload/broken": fmt.Errorf("file/upload: %w", pa6.ErrServerError),
	}}

	res, err := j.Sweep(t.Context(), term)
	require.Error(t, err)
	assert.ErrorIs(t, err, pa6.ErrServerError)
	assert.Equal(t, SweepResult{Terminated: 1, Gone: 1, Failed: 1}, res)
	assert.Len(t, term.calls, 3)

	entries, err := j.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "broken.csv", entries[0].FileName)
}

func TestSweep_Empty(t *testing.T) {
	j, _ := openTestJournal(t)

	res, err := j.Sweep(t.Context(), &fakeTerminator{})
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestSweep_Cancelled(t *testing.T) {
	j, _ := openTestJournal(t)

	_, err := j.Record(t.Context(), "https://pa/file/upload/a", "a.csv", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	term := &fakeTerminator{}

	cancel()

	_, err = j.Sweep(ctx, term)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, term.calls)
}

// TestJournal_KeepsUnsettledUpload drives a tus upload whose transfer,
// verify and terminate calls all fail, leaving the session journaled.
func TestJournal_KeepsUnsettledUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Location", "/file/upload/s1")
			w.WriteHeader(http.StatusCreated)
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	j, _ := openTestJournal(t)
	client := tus.NewClient(srv.Client(), discardLogger())

	_, err := client.Upload(t.Context(), srv.URL+"/file/upload", "data.bin", strings.NewReader("payload"),
		tus.UploadOptions{Journal: j})
	require.Error(t, err)

	entries, err := j.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, srv.URL+"/file/upload/s1", entries[0].Endpoint)
	assert.Equal(t, int64(7), entries[0].Size)
}

func TestJournal_ForgetsCompletedUpload(t *testing.T) {
	var (
		mu       sync.Mutex
		received int64
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPost:
			w.Header().Set("Location", "/file/upload/s1")
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			n, _ := io.Copy(io.Discard, r.Body)
			received += n
			w.Header().Set("Upload-Offset", fmt.Sprint(received))
			w.WriteHeader(http.StatusNoContent)
		case http.MethodHead:
			w.Header().Set("Upload-Offset", fmt.Sprint(received))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	j, _ := openTestJournal(t)
	client := tus.NewClient(srv.Client(), discardLogger())

	res, err := client.Upload(t.Context(), srv.URL+"/file/upload", "data.bin", strings.NewReader("payload"),
		tus.UploadOptions{Journal: j})
	require.NoError(t, err)
	assert.True(t, res.Complete())

	entries, err := j.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
