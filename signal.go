package main

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

// waitRegistry holds the server operations the CLI is blocked on. Keys are
// the wait command that resumes each one.
type waitRegistry struct {
	mu  sync.Mutex
	ops map[string]int
}

// track records op until the returned func is called. project is only needed
// to resume execution waves.
func (r *waitRegistry) track(op asyncop.Operation, project string) func() {
	resume := "pa6 wait " + op.Kind.String() + ":" + op.ID
	if op.Kind == asyncop.KindExecute && project != "" {
		resume += " --project " + project
	}

	r.mu.Lock()
	if r.ops == nil {
		r.ops = make(map[string]int)
	}
	r.ops[resume]++
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.ops[resume]--
		if r.ops[resume] <= 0 {
			delete(r.ops, resume)
		}
	}
}

// pending returns the resume commands of every tracked operation, sorted.
func (r *waitRegistry) pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.ops))
}

// interruptContext returns a context cancelled by the first SIGINT or
// SIGTERM. Cancelling only stops polling, so every operation still in waits
// is logged as left running with the command that resumes it. A second
// signal exits at once.
func interruptContext(parent context.Context, logger *slog.Logger, waits *waitRegistry) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logAbandoned(logger, sig, waits.pending())
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting", slog.String("signal", sig.String()))
			os.Exit(exitError)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

func logAbandoned(logger *slog.Logger, sig os.Signal, resume []string) {
	if len(resume) == 0 {
		logger.Info("interrupted", slog.String("signal", sig.String()))
		return
	}

	for _, cmd := range resume {
		logger.Warn("stopped waiting, operation keeps running on the server",
			slog.String("signal", sig.String()),
			slog.String("resume", cmd),
		)
	}
}
