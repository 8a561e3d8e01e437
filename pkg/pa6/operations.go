package pa6

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

// OperationStatus is the status of a project import, export, load or
// duplicate operation.
type OperationStatus struct {
	Kind     asyncop.Kind
	ID       string
	State    asyncop.State
	Message  string
	Progress float64
	Outcome  asyncop.Outcome
	Raw      Document
}

// Err returns an ErrOperationFailed error for failed operations and nil
// otherwise.
func (s OperationStatus) Err() error {
	if s.Outcome != asyncop.Failed {
		return nil
	}

	if s.Message != "" {
		return fmt.Errorf("%w: %s %s ended in state %q: %s", ErrOperationFailed, s.Kind, s.ID, s.State, s.Message)
	}

	return fmt.Errorf("%w: %s %s ended in state %q", ErrOperationFailed, s.Kind, s.ID, s.State)
}

// MarshalJSON renders the status for command-line output.
func (s OperationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     string  `json:"kind"`
		ID       string  `json:"id"`
		State    string  `json:"state"`
		Message  string  `json:"message,omitempty"`
		Progress float64 `json:"progress,omitempty"`
		Outcome  string  `json:"outcome"`
	}{s.Kind.String(), s.ID, string(s.State), s.Message, s.Progress, s.Outcome.String()})
}

// statusEndpoint describes where and how a kind reports its status. Export
// and import put the state under "state", load and duplicate under "status".
type statusEndpoint struct {
	path       string
	stateField string
}

var statusEndpoints = map[asyncop.Kind]statusEndpoint{
	asyncop.KindExport:    {"project/export/status", "state"},
	asyncop.KindImport:    {"project/import/status", "state"},
	asyncop.KindLoad:      {"project/load/status", "status"},
	asyncop.KindDuplicate: {"project/duplicate/status", "status"},
}

// OperationStatus fetches the current status of op once.
func (c *Client) OperationStatus(ctx context.Context, op asyncop.Operation) (OperationStatus, error) {
	ep, ok := statusEndpoints[op.Kind]
	if !ok {
		return OperationStatus{}, invalidArgf("%s operations have no status endpoint", op.Kind)
	}

	vocab, _ := asyncop.VocabularyFor(op.Kind)

	var doc Document
	if _, err := c.get(ctx, ep.path, map[string]string{op.Kind.QueryKey(): op.ID}, &doc); err != nil {
		return OperationStatus{}, err
	}

	state := asyncop.State(doc.Get(ep.stateField).String())

	return OperationStatus{
		Kind:     op.Kind,
		ID:       op.ID,
		State:    state,
		Message:  doc.Get("message").String(),
		Progress: doc.Get("progress").Float(),
		Outcome:  vocab.Classify(state),
		Raw:      doc,
	}, nil
}

// WaitOperation polls op until it reaches a terminal state. A failed
// operation is returned as a status with Outcome Failed, not as an error;
// use OperationStatus.Err to convert it.
func (c *Client) WaitOperation(ctx context.Context, op asyncop.Operation) (OperationStatus, error) {
	if op.Kind == asyncop.KindExecute || op.Kind == asyncop.KindConfigure {
		return OperationStatus{}, invalidArgf("%s operations are awaited through their project", op.Kind)
	}

	fetch := func(ctx context.Context, id string) (OperationStatus, error) {
		return c.OperationStatus(ctx, asyncop.Operation{ID: id, Kind: op.Kind})
	}

	poller := newPoller(c, op.Kind, fetch, func(s OperationStatus) asyncop.Outcome { return s.Outcome })

	res, err := poller.Wait(ctx, op)
	if err != nil {
		return res.Status, fmt.Errorf("pa6: waiting for %s %s: %w", op.Kind, op.ID, err)
	}

	c.logger.Info("operation finished",
		slog.String("kind", op.Kind.String()),
		slog.String("operation_id", op.ID),
		slog.String("state", string(res.Status.State)),
		slog.String("outcome", res.Outcome.String()),
		slog.Int("polls", res.Polls),
	)

	return res.Status, nil
}

// start posts a command and extracts the operation id from its Location.
func (c *Client) start(ctx context.Context, kind asyncop.Kind, endpoint string, body any) (asyncop.Operation, error) {
	resp, err := c.post(ctx, endpoint, nil, body, nil)
	if err != nil {
		return asyncop.Operation{}, fmt.Errorf("pa6: %s: %w", endpoint, err)
	}

	op, err := asyncop.FromHeader(resp.Header(), kind)
	if err != nil {
		return asyncop.Operation{}, fmt.Errorf("pa6: %s: %w", endpoint, err)
	}

	c.logger.Info("operation started",
		slog.String("kind", kind.String()),
		slog.String("operation_id", op.ID),
	)

	return op, nil
}

// Load starts loading the project into server memory. Servers older than
// build 2815 answer 404.
func (p *Project) Load(ctx context.Context) (asyncop.Operation, error) {
	return p.c.start(ctx, asyncop.KindLoad, "project/load", p.body())
}

// WaitLoad polls a load operation to completion.
func (p *Project) WaitLoad(ctx context.Context, op asyncop.Operation) (OperationStatus, error) {
	return p.c.WaitOperation(ctx, op)
}

// LoadAndWait loads the project and returns an error if loading failed.
func (p *Project) LoadAndWait(ctx context.Context) (OperationStatus, error) {
	op, err := p.Load(ctx)
	if err != nil {
		return OperationStatus{}, err
	}

	st, err := p.WaitLoad(ctx, op)
	if err != nil {
		return st, err
	}

	return st, st.Err()
}

// DuplicateOptions configures Duplicate.
type DuplicateOptions struct {
	Name   string `json:"name,omitempty"`
	Folder string `json:"folder,omitempty"`
}

// Duplicate starts copying the project on the server.
func (p *Project) Duplicate(ctx context.Context, opts DuplicateOptions) (asyncop.Operation, error) {
	b := p.body()
	if opts.Name != "" {
		b["name"] = opts.Name
	}

	if opts.Folder != "" {
		b["folder"] = opts.Folder
	}

	return p.c.start(ctx, asyncop.KindDuplicate, "project/duplicate", b)
}

// ImportOptions configures ImportProject.
type ImportOptions struct {
	FileName          string `json:"fileName" validate:"required"`
	Folder            string `json:"folder,omitempty"`
	OverwriteExisting bool   `json:"overwriteExisting"`
}

// ImportProject starts importing a project file that already sits in the
// server's file system.
func (c *Client) ImportProject(ctx context.Context, opts ImportOptions) (asyncop.Operation, error) {
	if err := validate.Struct(opts); err != nil {
		return asyncop.Operation{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return c.start(ctx, asyncop.KindImport, "project/import", opts)
}
