package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/megaputer/pa6-go/internal/config"
	"github.com/megaputer/pa6-go/internal/uploadjournal"
	"github.com/megaputer/pa6-go/pkg/asyncop"
	"github.com/megaputer/pa6-go/pkg/pa6"
)

// CLIFlags are the global flags every command needs.
type CLIFlags struct {
	Output string
	Quiet  bool
}

// CLIContext carries what the root pre-run resolved to the subcommands.
type CLIContext struct {
	Cfg    *config.ResolvedProfile
	Logger *slog.Logger
	Flags  CLIFlags
	Out    io.Writer

	journal *uploadjournal.Journal
	waits   waitRegistry
}

// Statusf prints a status message to stderr unless --quiet is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Journal opens the profile's upload journal on first use.
func (cc *CLIContext) Journal(ctx context.Context) (*uploadjournal.Journal, error) {
	if cc.journal != nil {
		return cc.journal, nil
	}

	path := config.JournalPath(cc.Cfg.Name)
	if path == "" {
		return nil, fmt.Errorf("cannot determine upload journal location for profile %q", cc.Cfg.Name)
	}

	j, err := uploadjournal.Open(ctx, path, cc.Logger)
	if err != nil {
		return nil, err
	}

	cc.journal = j

	return j, nil
}

// Close releases the journal, if one was opened. Commands that open the
// journal defer closeJournal, so a failing command still releases it.
func (cc *CLIContext) Close() error {
	if cc.journal == nil {
		return nil
	}

	err := cc.journal.Close()
	cc.journal = nil

	return err
}

func (cc *CLIContext) closeJournal() {
	if err := cc.Close(); err != nil {
		cc.Logger.Warn("closing upload journal", slog.String("error", err.Error()))
	}
}

// trackWait records op as awaited until the returned func is called, so an
// interrupt can report it as still running.
func (cc *CLIContext) trackWait(op asyncop.Operation, project string) func() {
	return cc.waits.track(op, project)
}

// newClient builds a client from the profile. Server-side warnings are
// logged and echoed as status lines. The upload journal is attached only when
// journaled is set.
func (cc *CLIContext) newClient(ctx context.Context, journaled bool) (*pa6.Client, error) {
	opts, err := cc.Cfg.ClientOptions()
	if err != nil {
		return nil, err
	}

	opts.Logger = cc.Logger
	opts.Diagnostics = func(d pa6.Diagnostic) {
		cc.Logger.Warn("server diagnostic", slog.String("source", d.Source), slog.String("message", d.Message))
		cc.Statusf("warning (%s): %s\n", d.Source, d.Message)
	}

	if journaled {
		j, err := cc.Journal(ctx)
		if err != nil {
			// Uploads still work without crash recovery.
			cc.Logger.Warn("upload journal unavailable", slog.String("error", err.Error()))
		} else {
			opts.UploadJournal = j
		}
	}

	return pa6.New(opts)
}

// withSession logs in, runs fn and logs out again. A failed logout is only
// logged: fn's result is what the user asked for.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, c *pa6.Client) error) error {
	return runSession(cmd, false, fn)
}

// withUploadSession is withSession with the profile's upload journal opened
// and attached to the client. The journal is closed when fn returns.
func withUploadSession(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, c *pa6.Client) error) error {
	return runSession(cmd, true, fn)
}

func runSession(cmd *cobra.Command, journaled bool, fn func(ctx context.Context, cc *CLIContext, c *pa6.Client) error) error {
	cc := mustCLIContext(cmd.Context())
	ctx := interruptContext(cmd.Context(), cc.Logger, &cc.waits)

	if journaled {
		defer cc.closeJournal()
	}

	c, err := cc.newClient(ctx, journaled)
	if err != nil {
		return err
	}

	if err := c.Login(ctx); err != nil {
		return err
	}

	defer func() {
		if err := c.Logout(context.WithoutCancel(ctx)); err != nil {
			cc.Logger.Warn("logout failed", slog.String("error", err.Error()))
		}
	}()

	return fn(ctx, cc, c)
}

// withProject is withSession plus the project named by --project.
func withProject(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, p *pa6.Project) error) error {
	uuid, err := cmd.Flags().GetString("project")
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
		p, err := c.Project(ctx, uuid)
		if err != nil {
			return err
		}

		return fn(ctx, cc, p)
	})
}

// addProjectFlag registers the required --project flag.
func addProjectFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("project", "p", "", "project UUID")
	_ = cmd.MarkFlagRequired("project")
}
