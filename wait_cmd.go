package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/megaputer/pa6-go/pkg/asyncop"
	"github.com/megaputer/pa6-go/pkg/pa6"
)

// maxConcurrentWaits bounds the pollers running at once.
const maxConcurrentWaits = 8

var waitKinds = map[string]asyncop.Kind{
	"execute":   asyncop.KindExecute,
	"import":    asyncop.KindImport,
	"export":    asyncop.KindExport,
	"load":      asyncop.KindLoad,
	"duplicate": asyncop.KindDuplicate,
}

// parseOperation reads "kind:id", e.g. "export:42".
func parseOperation(s string) (asyncop.Operation, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return asyncop.Operation{}, fmt.Errorf("%w: %q is not kind:id", pa6.ErrInvalidArgument, s)
	}

	k, ok := waitKinds[kind]
	if !ok {
		return asyncop.Operation{}, fmt.Errorf("%w: unknown operation kind %q", pa6.ErrInvalidArgument, kind)
	}

	return asyncop.Operation{ID: id, Kind: k}, nil
}

func newWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait <kind:id>...",
		Short: "Wait for several operations at once",
		Long: `Wait for several server operations concurrently. Each argument is
kind:id with kind one of execute, import, export, load or duplicate.
Execution waves (execute:<wave>) need --project.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := make([]asyncop.Operation, len(args))

			for i, a := range args {
				op, err := parseOperation(a)
				if err != nil {
					return err
				}

				ops[i] = op
			}

			projectUUID, _ := cmd.Flags().GetString("project")

			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				for _, op := range ops {
					defer cc.trackWait(op, projectUUID)()
				}

				results, err := waitAll(ctx, c, projectUUID, ops)
				if err != nil {
					return err
				}

				if err := cc.render(results, func(w io.Writer) {
					rows := make([][]string, 0, len(results))
					for _, r := range results {
						rows = append(rows, []string{r.Kind, r.ID, r.State, r.Outcome})
					}

					printTable(w, []string{"KIND", "ID", "STATE", "OUTCOME"}, rows)
				}); err != nil {
					return err
				}

				var failed int

				for _, r := range results {
					if r.Outcome == asyncop.Failed.String() {
						failed++
					}
				}

				if failed > 0 {
					return fmt.Errorf("%w: %d of %d operations failed", pa6.ErrOperationFailed, failed, len(results))
				}

				return nil
			})
		},
	}

	cmd.Flags().StringP("project", "p", "", "project UUID (required for execute waves)")

	return cmd
}

type waitResult struct {
	Kind    string `json:"kind" yaml:"kind"`
	ID      string `json:"id" yaml:"id"`
	State   string `json:"state" yaml:"state"`
	Outcome string `json:"outcome" yaml:"outcome"`
}

// waitAll waits for every op concurrently. Failed operations are results;
// only errors that stop a poller abort the whole wait.
func waitAll(ctx context.Context, c *pa6.Client, projectUUID string, ops []asyncop.Operation) ([]waitResult, error) {
	var project *pa6.Project

	for _, op := range ops {
		if op.Kind == asyncop.KindExecute && project == nil {
			p, err := c.ProjectHandle(projectUUID)
			if err != nil {
				return nil, fmt.Errorf("execute waves need --project: %w", err)
			}

			project = p
		}
	}

	results := make([]waitResult, len(ops))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWaits)

	for i, op := range ops {
		g.Go(func() error {
			r := waitResult{Kind: op.Kind.String(), ID: op.ID}

			if op.Kind == asyncop.KindExecute {
				if err := project.WaitForWave(ctx, op.ID); err != nil {
					return err
				}

				r.State, r.Outcome = "finished", asyncop.Succeeded.String()
			} else {
				st, err := c.WaitOperation(ctx, op)
				if err != nil {
					return err
				}

				r.State, r.Outcome = string(st.State), st.Outcome.String()
			}

			results[i] = r

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
