package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/megaputer/pa6-go/pkg/pa6"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show server build and version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				info, err := c.ServerInfo(ctx)
				if err != nil {
					return err
				}

				return cc.render(info.Value(), func(w io.Writer) {
					fmt.Fprintf(w, "Server:   %s\n", c.BaseURL())
					fmt.Fprintf(w, "Version:  %s\n", info.Version())
					fmt.Fprintf(w, "Build:    %d\n", info.Build())
					fmt.Fprintf(w, "API:      v%s\n", c.Version())
				})
			})
		},
	}
}

func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the API versions the server supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				versions, err := c.Versions(ctx)
				if err != nil {
					return err
				}

				return cc.render(versions, func(w io.Writer) {
					for _, v := range versions {
						mark := ""
						if pa6.IsSupportedVersion(v) {
							mark = " (supported)"
						}

						fmt.Fprintf(w, "%s%s\n", v, mark)
					}
				})
			})
		},
	}
}

// parseNodeRef reads "Name" or "Name:Type". The split is on the last colon
// so names may contain colons when a type is given.
func parseNodeRef(s string) pa6.NodeRef {
	if i := strings.LastIndex(s, ":"); i > 0 && i < len(s)-1 {
		return pa6.NodeRef{Name: s[:i], Type: s[i+1:]}
	}

	return pa6.Named(s)
}

func parseNodeRefs(args []string) []pa6.NodeRef {
	refs := make([]pa6.NodeRef, len(args))
	for i, a := range args {
		refs[i] = parseNodeRef(a)
	}

	return refs
}
