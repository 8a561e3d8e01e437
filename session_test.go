package main

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megaputer/pa6-go/internal/config"
	"github.com/megaputer/pa6-go/pkg/pa6"
)

// sessionCommand returns a command carrying a CLI context for srv, as the
// root pre-run would set it up.
func sessionCommand(t *testing.T, srv *fakeServer) (*cobra.Command, *CLIContext) {
	t.Helper()

	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))

	cfg := config.DefaultConfig()
	cfg.Network.RetryWait = "1ms"
	cfg.Profiles["default"] = config.Profile{URL: srv.URL, Username: "alice", Password: "secret"}

	rp, err := config.ResolveProfile(cfg, "")
	require.NoError(t, err)

	cc := &CLIContext{Cfg: rp, Logger: quietLogger(), Flags: CLIFlags{Quiet: true}, Out: io.Discard}

	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(t.Context(), cliContextKey{}, cc))

	return cmd, cc
}

func TestWithUploadSession_ClosesJournalOnError(t *testing.T) {
	srv := newFakeServer(t)
	cmd, cc := sessionCommand(t, srv)

	boom := errors.New("boom")

	err := withUploadSession(cmd, func(_ context.Context, cc *CLIContext, _ *pa6.Client) error {
		assert.NotNil(t, cc.journal)
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Nil(t, cc.journal)
	assert.FileExists(t, config.JournalPath("default"))
	assert.Equal(t, int32(1), srv.logouts.Load())
}

func TestWithSession_NoJournal(t *testing.T) {
	srv := newFakeServer(t)
	cmd, cc := sessionCommand(t, srv)

	err := withSession(cmd, func(context.Context, *CLIContext, *pa6.Client) error {
		return nil
	})
	require.NoError(t, err)

	assert.Nil(t, cc.journal)
	assert.NoFileExists(t, config.JournalPath("default"))
}
