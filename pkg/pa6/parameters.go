package pa6

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

// ParameterNode describes a node type configurable through a Parameters
// node, with its parameters and strategies.
type ParameterNode struct {
	Type       string `json:"type"`
	Parameters []any  `json:"parameters"`
	Strategies []any  `json:"strategies"`
}

// ParameterNodes lists the node types supported by Parameters nodes.
func (c *Client) ParameterNodes(ctx context.Context) ([]ParameterNode, error) {
	var out []ParameterNode
	if _, err := c.get(ctx, "parameters/nodes", nil, &out); err != nil {
		return nil, fmt.Errorf("pa6: listing parameter nodes: %w", err)
	}

	return out, nil
}

// Parameters is a handle on one Parameters node of a project.
type Parameters struct {
	p  *Project
	id int64
}

// Parameters resolves the Parameters node ref.
func (p *Project) Parameters(ctx context.Context, ref NodeRef) (*Parameters, error) {
	n, err := p.FindNode(ctx, ref)
	if err != nil {
		return nil, err
	}

	return &Parameters{p: p, id: n.ID}, nil
}

// ID returns the node id of the Parameters node.
func (pr *Parameters) ID() int64 {
	return pr.id
}

// Nodes lists the node types the Parameters node can configure.
func (pr *Parameters) Nodes(ctx context.Context) ([]ParameterNode, error) {
	return pr.p.c.ParameterNodes(ctx)
}

// SetOptions configures Set and SetArray. Start from DefaultSetOptions.
type SetOptions struct {
	Strategies []int
	// DeclareUnsync resets the status of the Parameters node.
	DeclareUnsync bool
	// HardUpdate pushes new parameters into every child node instead of
	// resetting their statuses. Only meaningful with DeclareUnsync.
	HardUpdate bool
	// Wait blocks until the configuration wave finishes.
	Wait bool
}

// DefaultSetOptions matches the server's defaults and waits for the wave.
func DefaultSetOptions() SetOptions {
	return SetOptions{DeclareUnsync: true, HardUpdate: true, Wait: true}
}

// SetResult reports the outcome of Set. Warnings are the server's
// validation notes; they were also sent to the client's diagnostics.
type SetResult struct {
	Warnings []string
	Wave     string
}

// Set configures nodeType's parameters on the Parameters node.
func (pr *Parameters) Set(ctx context.Context, nodeType string, settings map[string]any, opts SetOptions) (*SetResult, error) {
	return pr.configure(ctx, "parameters/configure", nodeType, settings, opts)
}

// SetArray configures nodeType with a list of parameter sets.
func (pr *Parameters) SetArray(ctx context.Context, nodeType string, settings []map[string]any, opts SetOptions) (*SetResult, error) {
	return pr.configure(ctx, "parameters/configure-array", nodeType, settings, opts)
}

func (pr *Parameters) configure(
	ctx context.Context, endpoint, nodeType string, settings any, opts SetOptions,
) (*SetResult, error) {
	if nodeType == "" {
		return nil, invalidArgf("node type is required")
	}

	strategies := opts.Strategies
	if strategies == nil {
		strategies = []int{}
	}

	body := map[string]any{
		"type":          nodeType,
		"settings":      settings,
		"strategies":    strategies,
		"declareUnsync": opts.DeclareUnsync,
		"hardUpdate":    opts.HardUpdate,
	}

	var warnings []string

	resp, err := pr.p.c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: endpoint,
		query:    pr.query(),
		body:     body,
		out:      &warnings,
		emptyOK:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("pa6: configuring %s parameters: %w", nodeType, err)
	}

	for _, w := range warnings {
		pr.p.c.diagnose(SourceParameters, w)
	}

	res := &SetResult{Warnings: warnings}

	op, err := asyncop.FromHeader(resp.Header(), asyncop.KindConfigure)
	if err != nil {
		return res, nil
	}

	res.Wave = op.ID

	if opts.Wait {
		if err := pr.p.WaitForWave(ctx, op.ID); err != nil {
			return res, err
		}
	}

	return res, nil
}

// Clear removes the parameters and strategies of nodeTypes, or of every
// node type when none are given. It returns the server's warnings.
func (pr *Parameters) Clear(ctx context.Context, declareUnsync bool, nodeTypes ...string) ([]string, error) {
	if nodeTypes == nil {
		nodeTypes = []string{}
	}

	var warnings []string

	_, err := pr.p.c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "parameters/clear",
		query:    pr.query(),
		body:     map[string]any{"nodes": nodeTypes, "declareUnsync": declareUnsync},
		out:      &warnings,
		emptyOK:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("pa6: clearing parameters: %w", err)
	}

	for _, w := range warnings {
		pr.p.c.diagnose(SourceParameters, w)
	}

	return warnings, nil
}

func (pr *Parameters) query() map[string]string {
	return pr.p.query("obj", strconv.FormatInt(pr.id, 10))
}
