package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/megaputer/pa6-go/pkg/asyncop"
	"github.com/megaputer/pa6-go/pkg/pa6"
)

func newNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				nodes, err := p.NodeList(ctx)
				if err != nil {
					return err
				}

				return cc.render(nodes, func(w io.Writer) { printNodes(w, nodes) })
			})
		},
	}

	addProjectFlag(cmd)

	return cmd
}

func printNodes(w io.Writer, nodes []pa6.Node) {
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, []string{strconv.FormatInt(n.ID, 10), n.Name, n.Type, n.Status, n.ErrMsg})
	}

	printTable(w, []string{"ID", "NAME", "TYPE", "STATUS", "ERROR"}, rows)
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-node execution statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var skipHidden *bool
			if cmd.Flags().Changed("skip-hidden") {
				v, _ := cmd.Flags().GetBool("skip-hidden")
				skipHidden = &v
			}

			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				stats, err := p.ExecutionStats(ctx, skipHidden)
				if err != nil {
					return err
				}

				return cc.render(stats, func(w io.Writer) {
					printNodes(w, stats.Nodes)

					keys := make([]string, 0, len(stats.Totals))
					for k := range stats.Totals {
						keys = append(keys, k)
					}

					sort.Strings(keys)
					fmt.Fprintln(w)

					for _, k := range keys {
						fmt.Fprintf(w, "%s: %d\n", k, stats.Totals[k])
					}
				})
			})
		},
	}

	addProjectFlag(cmd)
	cmd.Flags().Bool("skip-hidden", true, "leave hidden nodes out (not sent unless given)")

	return cmd
}

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				tasks, err := p.Tasks(ctx)
				if err != nil {
					return err
				}

				raw := make([]any, len(tasks))
				for i, t := range tasks {
					raw[i] = t.Raw.Value()
				}

				return cc.render(raw, func(w io.Writer) {
					rows := make([][]string, 0, len(tasks))
					for _, t := range tasks {
						rows = append(rows, []string{t.Name, t.Status, formatTime(t.StartTime)})
					}

					printTable(w, []string{"NAME", "STATUS", "STARTED"}, rows)
				})
			})
		},
	}

	addProjectFlag(cmd)

	return cmd
}

func newExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute [node[:type]...]",
		Short: "Execute nodes and their descendants (the whole project when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				ex, err := p.Execute(ctx, parseNodeRefs(args)...)
				if err != nil {
					return err
				}

				return finishExecution(ctx, cmd, cc, p, ex)
			})
		},
	}

	addProjectFlag(cmd)
	addWaitFlag(cmd)

	return cmd
}

func newExecuteToCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute-to <node[:type]>",
		Short: "Execute a node and everything it depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				ex, err := p.ExecuteTo(ctx, parseNodeRef(args[0]))
				if err != nil {
					return err
				}

				return finishExecution(ctx, cmd, cc, p, ex)
			})
		},
	}

	addProjectFlag(cmd)
	addWaitFlag(cmd)

	return cmd
}

func addWaitFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("wait", true, "wait for the operation to finish")
}

type executionOutput struct {
	Wave    string `json:"wave,omitempty" yaml:"wave,omitempty"`
	Outcome string `json:"outcome" yaml:"outcome"`
}

func finishExecution(ctx context.Context, cmd *cobra.Command, cc *CLIContext, p *pa6.Project, ex *pa6.Execution) error {
	out := executionOutput{Wave: ex.Wave, Outcome: asyncop.Running.String()}

	if wait, _ := cmd.Flags().GetBool("wait"); wait {
		cc.Statusf("Waiting for execution %s...\n", waveLabel(ex))

		if !ex.Legacy() {
			defer cc.trackWait(asyncop.Operation{ID: ex.Wave, Kind: asyncop.KindExecute}, p.UUID())()
		}

		outcome, err := p.Wait(ctx, ex)
		if err != nil {
			return err
		}

		out.Outcome = outcome.String()

		if outcome == asyncop.Failed {
			return fmt.Errorf("%w: execution %s", pa6.ErrOperationFailed, waveLabel(ex))
		}
	}

	return cc.render(out, func(w io.Writer) {
		fmt.Fprintf(w, "Execution %s: %s\n", waveLabel(ex), out.Outcome)
	})
}

func waveLabel(ex *pa6.Execution) string {
	if ex.Legacy() {
		return "(synchronous)"
	}

	return ex.Wave
}

// renderStatus prints an operation status and turns failure into an error.
func renderStatus(cc *CLIContext, st pa6.OperationStatus) error {
	if err := cc.render(st, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s: %s (%s)", st.Kind, st.ID, st.State, st.Outcome)

		if st.Message != "" {
			fmt.Fprintf(w, ": %s", st.Message)
		}

		fmt.Fprintln(w)
	}); err != nil {
		return err
	}

	return st.Err()
}

// runOperation waits for op when --wait is set, otherwise prints its id.
func runOperation(ctx context.Context, cmd *cobra.Command, cc *CLIContext, c *pa6.Client, op asyncop.Operation) error {
	if wait, _ := cmd.Flags().GetBool("wait"); !wait {
		return cc.render(map[string]string{"kind": op.Kind.String(), "id": op.ID}, func(w io.Writer) {
			fmt.Fprintf(w, "Started %s %s\n", op.Kind, op.ID)
		})
	}

	cc.Statusf("Waiting for %s %s...\n", op.Kind, op.ID)
	defer cc.trackWait(op, "")()

	st, err := c.WaitOperation(ctx, op)
	if err != nil {
		return err
	}

	return renderStatus(cc, st)
}

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a project into server memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				p, err := projectHandle(cmd, c)
				if err != nil {
					return err
				}

				op, err := p.Load(ctx)
				if err != nil {
					return err
				}

				return runOperation(ctx, cmd, cc, c, op)
			})
		},
	}

	addProjectFlag(cmd)
	addWaitFlag(cmd)

	return cmd
}

// projectHandle opens the --project project without listing its nodes,
// for commands that must work on unloaded projects.
func projectHandle(cmd *cobra.Command, c *pa6.Client) (*pa6.Project, error) {
	uuid, err := cmd.Flags().GetString("project")
	if err != nil {
		return nil, err
	}

	return c.ProjectHandle(uuid)
}

func newUnloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unload",
		Short: "Unload a project from server memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")

			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				p, err := projectHandle(cmd, c)
				if err != nil {
					return err
				}

				if err := p.Unload(ctx, force); err != nil {
					return err
				}

				cc.Statusf("Unloaded project %s\n", p.UUID())

				return nil
			})
		},
	}

	addProjectFlag(cmd)
	cmd.Flags().Bool("force", false, "unload even when the project has unsaved changes")

	return cmd
}

func newSaveCmd() *cobra.Command {
	return newProjectCommand("save", "Save a project", "Saved", (*pa6.Project).Save)
}

func newAbortCmd() *cobra.Command {
	return newProjectCommand("abort", "Abort the running execution of a project", "Aborted execution of", (*pa6.Project).Abort)
}

func newProjectCommand(use, short, done string, action func(*pa6.Project, context.Context) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				if err := action(p, ctx); err != nil {
					return err
				}

				cc.Statusf("%s project %s\n", done, p.UUID())

				return nil
			})
		},
	}

	addProjectFlag(cmd)

	return cmd
}

func newDuplicateCmd() *cobra.Command {
	var opts pa6.DuplicateOptions

	cmd := &cobra.Command{
		Use:   "duplicate",
		Short: "Copy a project on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				p, err := projectHandle(cmd, c)
				if err != nil {
					return err
				}

				op, err := p.Duplicate(ctx, opts)
				if err != nil {
					return err
				}

				return runOperation(ctx, cmd, cc, c, op)
			})
		},
	}

	addProjectFlag(cmd)
	addWaitFlag(cmd)
	cmd.Flags().StringVar(&opts.Name, "name", "", "name of the copy")
	cmd.Flags().StringVar(&opts.Folder, "folder", "", "server folder for the copy")

	return cmd
}

func newExportCmd() *cobra.Command {
	opts := pa6.DefaultExportOptions()

	var noBackups, noMacros bool

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a project to a file in the server's file system",
		Long: `Export a project to a file in the server's file system. The file
extension selects the format: .pa6, .ps6, .psar6, .paar6 or .pagridar6.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.KeepBackups = !noBackups
			opts.KeepMacrosAndVars = !noMacros

			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				p, err := projectHandle(cmd, c)
				if err != nil {
					return err
				}

				op, err := p.Export(ctx, args[0], opts)
				if err != nil {
					return err
				}

				return runOperation(ctx, cmd, cc, c, op)
			})
		},
	}

	addProjectFlag(cmd)
	addWaitFlag(cmd)

	f := cmd.Flags()
	f.StringSliceVar(&opts.IDs, "include", nil, "additional project UUIDs to pack into the archive")
	f.StringVar(&opts.CompressionLevel, "compression", opts.CompressionLevel,
		"store, fastest, fast, normal, maximum or ultra")
	f.BoolVar(&noBackups, "no-backups", false, "leave project backups out")
	f.BoolVar(&noMacros, "no-macros", false, "leave macros and variables out")
	f.BoolVar(&opts.KeepSliceStatistics, "slice-statistics", false, "include report slice statistics")
	f.BoolVar(&opts.OverwriteExisting, "overwrite", false, "replace an existing file")

	return cmd
}

func newImportCmd() *cobra.Command {
	var opts pa6.ImportOptions

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a project file from the server's file system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.FileName = args[0]

			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				op, err := c.ImportProject(ctx, opts)
				if err != nil {
					return err
				}

				return runOperation(ctx, cmd, cc, c, op)
			})
		},
	}

	addWaitFlag(cmd)
	cmd.Flags().StringVar(&opts.Folder, "folder", "", "project folder to import into")
	cmd.Flags().BoolVar(&opts.OverwriteExisting, "overwrite", false, "replace a project with the same id")

	return cmd
}
