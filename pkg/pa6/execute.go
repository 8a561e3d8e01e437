package pa6

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

// AnyWave asks is-running about every execution, save and publish activity
// in the project rather than one wave.
const AnyWave = "-1"

// Execution is a started node execution.
//
// Servers that run executions synchronously return no execution wave; such
// an Execution is Legacy and is awaited through per-node statuses.
type Execution struct {
	Wave  string
	Nodes []NodeRef
}

// Legacy reports whether the server returned no execution wave.
func (e *Execution) Legacy() bool {
	return e.Wave == ""
}

// Operation returns the execution as an async operation.
func (e *Execution) Operation() asyncop.Operation {
	return asyncop.Operation{ID: e.Wave, Kind: asyncop.KindExecute}
}

// Execute starts the given nodes and their descendants. With no refs the
// whole project runs.
func (p *Project) Execute(ctx context.Context, refs ...NodeRef) (*Execution, error) {
	return p.execute(ctx, "project/execute", refs)
}

// ExecuteTo runs the sequence of nodes leading to ref and stops there.
func (p *Project) ExecuteTo(ctx context.Context, ref NodeRef) (*Execution, error) {
	return p.execute(ctx, "project/execute-to-node", []NodeRef{ref})
}

func (p *Project) execute(ctx context.Context, endpoint string, refs []NodeRef) (*Execution, error) {
	nodes, err := p.resolve(ctx, refs)
	if err != nil {
		return nil, err
	}

	targets := make([]NodeRef, len(nodes))
	for i, n := range nodes {
		targets[i] = n.Ref()
	}

	b := p.body()
	b["nodes"] = targets

	resp, err := p.c.post(ctx, endpoint, nil, b, nil)
	if err != nil {
		return nil, fmt.Errorf("pa6: %s: %w", endpoint, err)
	}

	ex := &Execution{Nodes: targets}

	op, err := asyncop.FromHeader(resp.Header(), asyncop.KindExecute)
	switch {
	case err == nil:
		ex.Wave = op.ID
	case errors.Is(err, asyncop.ErrNoOperation):
		p.c.logger.Debug("server returned no execution wave", slog.String("endpoint", endpoint))
	default:
		return nil, err
	}

	p.c.logger.Info("execution started",
		slog.String("project", p.uuid),
		slog.String("wave", ex.Wave),
		slog.Int("nodes", len(targets)),
	)

	return ex, nil
}

// IsRunning reports whether the execution wave is still active. AnyWave
// checks for any activity in the project.
func (p *Project) IsRunning(ctx context.Context, wave string) (bool, error) {
	if _, err := strconv.ParseInt(wave, 10, 64); err != nil {
		return false, invalidArgf("execution wave %q is not a number", wave)
	}

	var doc Document
	if _, err := p.c.get(ctx, "project/is-running", p.query("executionWave", wave), &doc); err != nil {
		return false, err
	}

	res := doc.Get("result")
	if !res.Exists() {
		return false, fmt.Errorf("%w: project/is-running has no result", ErrMalformedResponse)
	}

	return res.Bool(), nil
}

// WaitForWave polls is-running until the wave ends. An ended wave is reported
// as Succeeded: the endpoint does not say how the nodes finished.
func (p *Project) WaitForWave(ctx context.Context, wave string) error {
	poller := newPoller(p.c, asyncop.KindExecute, p.IsRunning, func(running bool) asyncop.Outcome {
		if running {
			return asyncop.Running
		}

		return asyncop.Succeeded
	})

	if _, err := poller.Wait(ctx, asyncop.Operation{ID: wave, Kind: asyncop.KindExecute}); err != nil {
		return fmt.Errorf("pa6: waiting for execution wave %s: %w", wave, err)
	}

	return nil
}

// Wait blocks until ex completes. Legacy executions are awaited node by node
// and fail if any node fails.
func (p *Project) Wait(ctx context.Context, ex *Execution) (asyncop.Outcome, error) {
	if !ex.Legacy() {
		if err := p.WaitForWave(ctx, ex.Wave); err != nil {
			return asyncop.Running, err
		}

		return asyncop.Succeeded, nil
	}

	outcome := asyncop.Succeeded

	for _, ref := range ex.Nodes {
		o, err := p.WaitForNode(ctx, ref, "")
		if err != nil {
			return asyncop.Running, err
		}

		if o == asyncop.Failed {
			outcome = asyncop.Failed
		}
	}

	return outcome, nil
}

// WaitForNode polls the node list until ref reaches a terminal status. When
// wave is set, a wave that ends before the node finishes counts as failure.
func (p *Project) WaitForNode(ctx context.Context, ref NodeRef, wave string) (asyncop.Outcome, error) {
	fetch := func(ctx context.Context, _ string) (nodeProgress, error) {
		n, err := p.FindNode(ctx, ref)
		if err != nil {
			return nodeProgress{}, err
		}

		np := nodeProgress{node: n, waveRunning: true}

		if wave != "" && asyncop.ClassifyNode(n.Status, n.ErrMsg) == asyncop.Running {
			np.waveRunning, err = p.IsRunning(ctx, wave)
		}

		return np, err
	}

	id := wave
	if id == "" {
		id = ref.Name
	}

	poller := newPoller(p.c, asyncop.KindExecute, fetch, nodeProgress.outcome)

	res, err := poller.Wait(ctx, asyncop.Operation{ID: id, Kind: asyncop.KindExecute})
	if err != nil {
		return asyncop.Running, fmt.Errorf("pa6: waiting for node %s: %w", ref, err)
	}

	return res.Outcome, nil
}

type nodeProgress struct {
	node        Node
	waveRunning bool
}

func (np nodeProgress) outcome() asyncop.Outcome {
	o := asyncop.ClassifyNode(np.node.Status, np.node.ErrMsg)
	if o == asyncop.Running && !np.waveRunning {
		return asyncop.Failed
	}

	return o
}
