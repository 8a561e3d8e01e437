package pa6

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Report is a handle on one project report.
type Report struct {
	c    *Client
	uuid string
}

// SliceStatistics is the opaque slice statistics document of a report,
// keyed by slice.
type SliceStatistics map[string]map[string]any

// Report returns a handle for the report with the given UUID. It performs
// no network I/O.
func (c *Client) Report(reportUUID string) (*Report, error) {
	if _, err := uuid.Parse(reportUUID); err != nil {
		return nil, invalidArgf("report uuid %q: %v", reportUUID, err)
	}

	return &Report{c: c, uuid: reportUUID}, nil
}

// UUID returns the report identifier.
func (r *Report) UUID() string {
	return r.uuid
}

func (r *Report) query() map[string]string {
	return map[string]string{"reportUUID": r.uuid}
}

// Publications returns the report's publication settings.
func (r *Report) Publications(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if _, err := r.c.get(ctx, "report/publications", r.query(), &out); err != nil {
		return nil, fmt.Errorf("pa6: fetching publications of report %s: %w", r.uuid, err)
	}

	return out, nil
}

// Components lists the report's components.
func (r *Report) Components(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if _, err := r.c.get(ctx, "report/components", r.query(), &out); err != nil {
		return nil, fmt.Errorf("pa6: fetching components of report %s: %w", r.uuid, err)
	}

	return out, nil
}

// ExportSliceStatistics returns the report's slice statistics.
func (r *Report) ExportSliceStatistics(ctx context.Context) (SliceStatistics, error) {
	var out SliceStatistics
	if _, err := r.c.get(ctx, "report/slice-statistics/export", r.query(), &out); err != nil {
		return nil, fmt.Errorf("pa6: exporting slice statistics of report %s: %w", r.uuid, err)
	}

	return out, nil
}

// ClearSliceStatistics drops the report's slice statistics.
func (r *Report) ClearSliceStatistics(ctx context.Context) error {
	_, err := r.c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "report/slice-statistics/clear",
		query:    r.query(),
		emptyOK:  true,
	})
	if err != nil {
		return fmt.Errorf("pa6: clearing slice statistics of report %s: %w", r.uuid, err)
	}

	return nil
}

// ImportSliceStatistics replaces the report's slice statistics with stats,
// typically the output of ExportSliceStatistics from another report.
func (r *Report) ImportSliceStatistics(ctx context.Context, stats SliceStatistics) error {
	if stats == nil {
		return invalidArgf("slice statistics are required")
	}

	_, err := r.c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "report/slice-statistics/import",
		query:    r.query(),
		body:     stats,
		emptyOK:  true,
	})
	if err != nil {
		return fmt.Errorf("pa6: importing slice statistics into report %s: %w", r.uuid, err)
	}

	return nil
}
