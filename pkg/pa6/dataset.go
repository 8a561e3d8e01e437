package pa6

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/avast/retry-go/v4"
)

// Sentinel cell values used by the dataset endpoints in place of values JSON
// cannot carry.
const (
	blankCell     = 1e100
	positiveInfty = 8e100
	negativeInfty = -8e100
)

// ToEnd requests rows up to the last row of the dataset.
const ToEnd int64 = -1

// Dataset is a materialized view of a node's data. It is identified on the
// server by a wrapper GUID that the server may drop at any time; calls that
// use it refresh the GUID and retry once when that happens.
type Dataset struct {
	p    *Project
	node Node

	mu   sync.Mutex
	guid string
}

// Column describes one dataset column.
type Column struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
	Flags struct {
		GetTextAlways bool `json:"getTextAlways"`
	} `json:"flags"`
}

// DatasetInfo is the dataset/info response.
type DatasetInfo struct {
	RowCount int64    `json:"rowCount"`
	Columns  []Column `json:"columnsInfo"`

	// LegacyColumns is the older name of Columns.
	LegacyColumns []Column `json:"columns"`
}

// ColumnList returns the dataset columns under either field name.
func (i *DatasetInfo) ColumnList() []Column {
	if len(i.Columns) > 0 {
		return i.Columns
	}

	return i.LegacyColumns
}

// Row maps column titles to cell values. Blank cells are nil and infinite
// values are ±Inf.
type Row map[string]any

// Dataset resolves ref and obtains a wrapper GUID for its data.
func (p *Project) Dataset(ctx context.Context, ref NodeRef) (*Dataset, error) {
	n, err := p.FindNode(ctx, ref)
	if err != nil {
		return nil, err
	}

	d := &Dataset{p: p, node: n}

	if err := d.refresh(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// Node returns the node the dataset belongs to.
func (d *Dataset) Node() Node {
	return d.node
}

// GUID returns the current wrapper GUID.
func (d *Dataset) GUID() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.guid
}

func (d *Dataset) refresh(ctx context.Context) error {
	var out struct {
		WrapperGUID string `json:"wrapperGuid"`
	}

	_, err := d.p.c.get(ctx, "dataset/wrapper-guid",
		d.p.query("obj", strconv.FormatInt(d.node.ID, 10)), &out)
	if err != nil {
		return fmt.Errorf("pa6: obtaining dataset wrapper for %s: %w", d.node.Ref(), err)
	}

	if out.WrapperGUID == "" {
		return fmt.Errorf("%w: dataset/wrapper-guid returned no guid", ErrMalformedResponse)
	}

	d.mu.Lock()
	d.guid = out.WrapperGUID
	d.mu.Unlock()

	return nil
}

// withWrapper runs fn with the current GUID. On ErrStaleReference it
// refreshes the GUID and runs fn exactly once more.
func withWrapper[T any](ctx context.Context, d *Dataset, fn func(guid string) (T, error)) (T, error) {
	attempt := 0

	return retry.DoWithData(
		func() (T, error) {
			attempt++

			if attempt > 1 {
				if err := d.refresh(ctx); err != nil {
					var zero T
					return zero, err
				}
			}

			return fn(d.GUID())
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrStaleReference) }),
	)
}

// Info returns the row count and column layout.
func (d *Dataset) Info(ctx context.Context) (*DatasetInfo, error) {
	return withWrapper(ctx, d, func(guid string) (*DatasetInfo, error) {
		var info DatasetInfo
		if _, err := d.p.c.get(ctx, "dataset/info", map[string]string{"wrapperGuid": guid}, &info); err != nil {
			return nil, err
		}

		return &info, nil
	})
}

// Progress returns the dataset's materialization progress.
func (d *Dataset) Progress(ctx context.Context) (*Document, error) {
	return withWrapper(ctx, d, func(guid string) (*Document, error) {
		var doc Document
		if _, err := d.p.c.get(ctx, "dataset/progress", map[string]string{"wrapperGuid": guid}, &doc); err != nil {
			return nil, err
		}

		return &doc, nil
	})
}

// PreviewOptions configures Preview. Zero values use the server defaults:
// six significant digits, blank cells omitted.
type PreviewOptions struct {
	Precision         int
	IncludeBlankCells bool
}

const defaultPrecision = 6

// Preview returns the first 1000 rows, with strings cut after 250
// characters. Non-default options fail on servers that predate them.
func (d *Dataset) Preview(ctx context.Context, opts PreviewOptions) ([]map[string]any, error) {
	if opts.Precision < 0 {
		return nil, invalidArgf("precision %d is negative", opts.Precision)
	}

	q := d.p.query("name", d.node.Name, "type", d.node.Type)

	if opts.Precision != 0 && opts.Precision != defaultPrecision {
		q["precision"] = strconv.Itoa(opts.Precision)
	}

	if opts.IncludeBlankCells {
		q["writeEmptyValues"] = "true"
	}

	var out []map[string]any
	if _, err := d.p.c.get(ctx, "dataset/preview", q, &out); err != nil {
		return nil, fmt.Errorf("pa6: previewing %s: %w", d.node.Ref(), err)
	}

	return out, nil
}

// Rows returns rows [start, stop). stop may be ToEnd. The range is checked
// against the row count before any data is requested.
func (d *Dataset) Rows(ctx context.Context, start, stop int64) ([]Row, error) {
	if start < 0 || (stop != ToEnd && stop < start) {
		return nil, invalidArgf("row range [%d, %d) is invalid", start, stop)
	}

	info, err := d.Info(ctx)
	if err != nil {
		return nil, err
	}

	if stop == ToEnd {
		stop = info.RowCount
	}

	if start > stop || stop > info.RowCount {
		return nil, invalidArgf("row range [%d, %d) is outside the dataset's %d rows", start, stop, info.RowCount)
	}

	table, err := d.values(ctx, stop)
	if err != nil {
		return nil, err
	}

	if int64(len(table)) < stop {
		return nil, fmt.Errorf("%w: dataset/values returned %d rows, want %d", ErrMalformedResponse, len(table), stop)
	}

	columns := info.ColumnList()
	rows := make([]Row, 0, stop-start)

	for idx := start; idx < stop; idx++ {
		row := make(Row, len(columns))

		for _, col := range columns {
			if col.Flags.GetTextAlways {
				text, err := d.cellText(ctx, idx, col.ID)
				if err != nil {
					return nil, err
				}

				row[col.Title] = text

				continue
			}

			cells := table[idx]
			if col.ID < 0 || col.ID >= len(cells) {
				return nil, fmt.Errorf("%w: row %d has no column %d", ErrMalformedResponse, idx, col.ID)
			}

			row[col.Title] = decodeCell(cells[col.ID])
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func (d *Dataset) values(ctx context.Context, rowCount int64) ([][]any, error) {
	return withWrapper(ctx, d, func(guid string) ([][]any, error) {
		var out struct {
			Table [][]any `json:"table"`
		}

		_, err := d.p.c.do(ctx, call{
			method:   http.MethodGet,
			endpoint: "dataset/values",
			body:     map[string]any{"wrapperGuid": guid, "rowCount": rowCount},
			out:      &out,
		})
		if err != nil {
			return nil, err
		}

		return out.Table, nil
	})
}

func (d *Dataset) cellText(ctx context.Context, row int64, col int) (string, error) {
	return withWrapper(ctx, d, func(guid string) (string, error) {
		var out struct {
			Text string `json:"text"`
		}

		_, err := d.p.c.do(ctx, call{
			method:   http.MethodGet,
			endpoint: "dataset/cell-text",
			body:     map[string]any{"wrapperGuid": guid, "row": row, "col": col},
			out:      &out,
		})
		if err != nil {
			return "", err
		}

		return out.Text, nil
	})
}

// decodeCell maps the server's sentinel numbers to nil and ±Inf.
func decodeCell(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}

	switch f {
	case blankCell:
		return nil
	case positiveInfty:
		return math.Inf(1)
	case negativeInfty:
		return math.Inf(-1)
	default:
		return f
	}
}
