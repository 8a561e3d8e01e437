package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/megaputer/pa6-go/pkg/pa6"
)

func newPreviewCmd() *cobra.Command {
	var opts pa6.PreviewOptions

	cmd := &cobra.Command{
		Use:   "preview <node[:type]>",
		Short: "Show the first rows of a dataset node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				d, err := p.Dataset(ctx, parseNodeRef(args[0]))
				if err != nil {
					return err
				}

				rows, err := d.Preview(ctx, opts)
				if err != nil {
					return err
				}

				return cc.render(rows, func(w io.Writer) { printRecords(w, nil, rows) })
			})
		},
	}

	addProjectFlag(cmd)
	cmd.Flags().IntVar(&opts.Precision, "precision", 0, "decimal places for numbers (server default 6)")
	cmd.Flags().BoolVar(&opts.IncludeBlankCells, "blanks", false, "include blank cells")

	return cmd
}

func newRowsCmd() *cobra.Command {
	var start, stop int64

	cmd := &cobra.Command{
		Use:   "rows <node[:type]>",
		Short: "Fetch dataset rows [start, stop)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				d, err := p.Dataset(ctx, parseNodeRef(args[0]))
				if err != nil {
					return err
				}

				info, err := d.Info(ctx)
				if err != nil {
					return err
				}

				rows, err := d.Rows(ctx, start, stop)
				if err != nil {
					return err
				}

				records := make([]map[string]any, len(rows))
				for i, r := range rows {
					records[i] = r
				}

				titles := make([]string, 0, len(info.ColumnList()))
				for _, col := range info.ColumnList() {
					titles = append(titles, col.Title)
				}

				return cc.render(records, func(w io.Writer) { printRecords(w, titles, records) })
			})
		},
	}

	addProjectFlag(cmd)
	cmd.Flags().Int64Var(&start, "start", 0, "first row (inclusive)")
	cmd.Flags().Int64Var(&stop, "stop", pa6.ToEnd, "last row (exclusive); -1 means the end")

	return cmd
}

// printRecords tabulates rows. Without explicit columns the keys of the
// first row are used in sorted order.
func printRecords(w io.Writer, columns []string, rows []map[string]any) {
	if len(columns) == 0 && len(rows) > 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}

		slices.Sort(columns)
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := make([]string, len(columns))
		for i, c := range columns {
			line[i] = formatCell(r[c])
		}

		table = append(table, line)
	}

	printTable(w, columns, table)
}

func newParamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Configure Parameters nodes",
	}

	cmd.AddCommand(newParamsSetCmd(), newParamsClearCmd(), newParamsNodesCmd())

	return cmd
}

func newParamsSetCmd() *cobra.Command {
	opts := pa6.DefaultSetOptions()

	var (
		settingsJSON string
		settingsFile string
		noWait       bool
	)

	cmd := &cobra.Command{
		Use:   "set <parameters-node> <node-type>",
		Short: "Set the parameters a Parameters node pushes to nodes of a type",
		Long: `Set the parameters a Parameters node pushes to nodes of a type.
Settings are a JSON object, or an array of objects for array parameters,
given with --settings or read from --file ("-" for stdin).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readSettings(settingsJSON, settingsFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			opts.Wait = !noWait

			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				pr, err := p.Parameters(ctx, parseNodeRef(args[0]))
				if err != nil {
					return err
				}

				res, err := applySettings(ctx, pr, args[1], raw, opts)
				if err != nil {
					return err
				}

				return cc.render(res, func(w io.Writer) {
					fmt.Fprintf(w, "Configured %s on node %d", args[1], pr.ID())

					if res.Wave != "" {
						fmt.Fprintf(w, " (wave %s)", res.Wave)
					}

					fmt.Fprintf(w, ", %d warning(s)\n", len(res.Warnings))
				})
			})
		},
	}

	addProjectFlag(cmd)

	f := cmd.Flags()
	f.StringVar(&settingsJSON, "settings", "", "settings as JSON")
	f.StringVar(&settingsFile, "file", "", "read settings JSON from a file")
	f.IntSliceVar(&opts.Strategies, "strategy", nil, "strategy ids to apply")
	f.BoolVar(&opts.DeclareUnsync, "declare-unsync", opts.DeclareUnsync, "reset the Parameters node status")
	f.BoolVar(&opts.HardUpdate, "hard-update", opts.HardUpdate, "push values into child nodes")
	f.BoolVar(&noWait, "no-wait", false, "return without waiting for the configuration wave")
	cmd.MarkFlagsMutuallyExclusive("settings", "file")
	cmd.MarkFlagsOneRequired("settings", "file")

	return cmd
}

func readSettings(inline, file string, stdin io.Reader) (json.RawMessage, error) {
	if inline != "" {
		return json.RawMessage(inline), nil
	}

	var (
		b   []byte
		err error
	)

	if file == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(file)
	}

	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	return b, nil
}

// applySettings sends an object through Set and an array through SetArray.
func applySettings(
	ctx context.Context, pr *pa6.Parameters, nodeType string, raw json.RawMessage, opts pa6.SetOptions,
) (*pa6.SetResult, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return pr.Set(ctx, nodeType, obj, opts)
	}

	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("%w: settings must be a JSON object or an array of objects", pa6.ErrInvalidArgument)
	}

	return pr.SetArray(ctx, nodeType, arr, opts)
}

func newParamsClearCmd() *cobra.Command {
	var declareUnsync bool

	cmd := &cobra.Command{
		Use:   "clear <parameters-node> [node-type...]",
		Short: "Clear parameters for the given node types (all when none are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, cc *CLIContext, p *pa6.Project) error {
				pr, err := p.Parameters(ctx, parseNodeRef(args[0]))
				if err != nil {
					return err
				}

				warnings, err := pr.Clear(ctx, declareUnsync, args[1:]...)
				if err != nil {
					return err
				}

				cc.Statusf("Cleared parameters on node %d\n", pr.ID())

				return cc.render(warnings, func(w io.Writer) {
					for _, msg := range warnings {
						fmt.Fprintln(w, msg)
					}
				})
			})
		},
	}

	addProjectFlag(cmd)
	cmd.Flags().BoolVar(&declareUnsync, "declare-unsync", false, "reset the Parameters node status")

	return cmd
}

func newParamsNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List node types that accept parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				nodes, err := c.ParameterNodes(ctx)
				if err != nil {
					return err
				}

				return cc.render(nodes, func(w io.Writer) {
					rows := make([][]string, 0, len(nodes))
					for _, n := range nodes {
						rows = append(rows, []string{n.Type, fmt.Sprint(len(n.Parameters)), fmt.Sprint(len(n.Strategies))})
					}

					printTable(w, []string{"TYPE", "PARAMETERS", "STRATEGIES"}, rows)
				})
			})
		},
	}
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect published reports",
	}

	cmd.AddCommand(
		newReportQueryCmd("publications", "Show where a report is published",
			func(ctx context.Context, r *pa6.Report) (any, error) { return r.Publications(ctx) }),
		newReportQueryCmd("components", "List the components of a report",
			func(ctx context.Context, r *pa6.Report) (any, error) { return r.Components(ctx) }),
	)

	return cmd
}

func newReportQueryCmd(use, short string, query func(context.Context, *pa6.Report) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <report-uuid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				r, err := c.Report(args[0])
				if err != nil {
					return err
				}

				v, err := query(ctx, r)
				if err != nil {
					return err
				}

				return cc.render(v, nil)
			})
		},
	}
}
