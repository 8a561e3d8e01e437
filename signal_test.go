package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWaitRegistry_Track(t *testing.T) {
	var waits waitRegistry

	doneExport := waits.track(asyncop.Operation{ID: "42", Kind: asyncop.KindExport}, "")
	doneWave := waits.track(asyncop.Operation{ID: "7", Kind: asyncop.KindExecute}, "p-1")
	doneAgain := waits.track(asyncop.Operation{ID: "42", Kind: asyncop.KindExport}, "")

	assert.Equal(t, []string{"pa6 wait execute:7 --project p-1", "pa6 wait export:42"}, waits.pending())

	doneExport()
	assert.Len(t, waits.pending(), 2)

	doneAgain()
	doneWave()
	assert.Empty(t, waits.pending())
}

func TestInterruptContext_LogsAbandonedOperations(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	defer cancel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var waits waitRegistry

	done := waits.track(asyncop.Operation{ID: "42", Kind: asyncop.KindImport}, "")
	defer done()

	ctx := interruptContext(parent, logger, &waits)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled within 2s of SIGINT")
	}

	assert.NoError(t, parent.Err())
	assert.Contains(t, buf.String(), "operation keeps running on the server")
	assert.Contains(t, buf.String(), `resume="pa6 wait import:42"`)
}

func TestInterruptContext_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	ctx := interruptContext(parent, quietLogger(), &waitRegistry{})

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled within 2s of parent cancel")
	}
}
