package pa6

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Project is a handle on one server project. It holds no node cache: every
// lookup fetches a fresh node list.
type Project struct {
	c    *Client
	uuid string
}

// Project returns a handle for the project with the given UUID after checking
// that the server knows it.
func (c *Client) Project(ctx context.Context, projectUUID string) (*Project, error) {
	if _, err := uuid.Parse(projectUUID); err != nil {
		return nil, invalidArgf("project uuid %q: %v", projectUUID, err)
	}

	p := &Project{c: c, uuid: projectUUID}

	if _, err := p.NodeList(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

// ProjectHandle returns a handle for projectUUID without contacting the
// server. Use it for projects that are not loaded yet.
func (c *Client) ProjectHandle(projectUUID string) (*Project, error) {
	if _, err := uuid.Parse(projectUUID); err != nil {
		return nil, invalidArgf("project uuid %q: %v", projectUUID, err)
	}

	return &Project{c: c, uuid: projectUUID}, nil
}

// UUID returns the project identifier.
func (p *Project) UUID() string {
	return p.uuid
}

func (p *Project) query(extra ...string) map[string]string {
	q := map[string]string{"prjUUID": p.uuid}
	for i := 0; i+1 < len(extra); i += 2 {
		q[extra[i]] = extra[i+1]
	}

	return q
}

func (p *Project) body() map[string]any {
	return map[string]any{"prjUUID": p.uuid}
}

// ExecutionStats is the project/execution-statistics response.
type ExecutionStats struct {
	Nodes  []Node         `json:"nodes"`
	Totals map[string]int `json:"nodesStatistics"`
}

// ExecutionStats returns per-node execution statistics. A nil skipHidden
// omits the parameter for servers that reject it.
func (p *Project) ExecutionStats(ctx context.Context, skipHidden *bool) (*ExecutionStats, error) {
	q := p.query()
	if skipHidden != nil {
		q["skipHiddenNodes"] = fmt.Sprint(*skipHidden)
	}

	var out ExecutionStats
	if _, err := p.c.get(ctx, "project/execution-statistics", q, &out); err != nil {
		return nil, fmt.Errorf("pa6: fetching execution statistics: %w", err)
	}

	return &out, nil
}

// Task is one entry of the project task list.
type Task struct {
	Name      string
	Status    string
	StartTime time.Time
	Raw       Document
}

// Tasks returns the project's task list. Start times arrive as Unix
// milliseconds and are converted to UTC.
func (p *Project) Tasks(ctx context.Context) ([]Task, error) {
	var doc Document
	if _, err := p.c.get(ctx, "project/tasks", p.query(), &doc); err != nil {
		return nil, fmt.Errorf("pa6: fetching tasks: %w", err)
	}

	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: project/tasks is not a list", ErrMalformedResponse)
	}

	var tasks []Task

	doc.ForEach(func(_, t gjson.Result) bool {
		tasks = append(tasks, Task{
			Name:      t.Get("name").String(),
			Status:    t.Get("status").String(),
			StartTime: time.UnixMilli(t.Get("startTime").Int()).UTC(),
			Raw:       Document{t},
		})

		return true
	})

	return tasks, nil
}

// ReportList returns the project's reports.
func (p *Project) ReportList(ctx context.Context) ([]map[string]string, error) {
	var out []map[string]string
	if _, err := p.c.get(ctx, "project/reports", p.query(), &out); err != nil {
		return nil, fmt.Errorf("pa6: listing reports: %w", err)
	}

	return out, nil
}

// Status returns the project status document.
func (p *Project) Status(ctx context.Context) (*Document, error) {
	var doc Document
	if _, err := p.c.get(ctx, "project/status", p.query(), &doc); err != nil {
		return nil, fmt.Errorf("pa6: fetching project status: %w", err)
	}

	return &doc, nil
}

// Save starts saving the project's changes.
func (p *Project) Save(ctx context.Context) error {
	return p.command(ctx, "project/save", p.body())
}

// Abort stops the execution of every node in the project.
func (p *Project) Abort(ctx context.Context) error {
	return p.command(ctx, "project/global-abort", p.body())
}

// Repair starts the project repair operation.
func (p *Project) Repair(ctx context.Context) error {
	return p.command(ctx, "project/repair", p.body())
}

// Delete removes the project. Without forceUnload the server refuses to
// delete a project that other users have loaded.
func (p *Project) Delete(ctx context.Context, forceUnload bool) error {
	b := p.body()
	b["forceUnload"] = forceUnload

	return p.command(ctx, "project/delete", b)
}

func (p *Project) command(ctx context.Context, endpoint string, body any) error {
	if _, err := p.c.post(ctx, endpoint, nil, body, nil); err != nil {
		return fmt.Errorf("pa6: %s %s: %w", endpoint, p.uuid, err)
	}

	return nil
}
