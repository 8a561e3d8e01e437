package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// stderrIsTerminal reports whether progress bars can be drawn.
func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// render writes v in the selected --output format. text draws the human
// form and may be nil, in which case text output falls back to YAML.
func (cc *CLIContext) render(v any, text func(w io.Writer)) error {
	switch {
	case cc.Flags.Output == outputJSON:
		enc := json.NewEncoder(cc.Out)
		enc.SetIndent("", "  ")

		return enc.Encode(sanitize(v))
	case cc.Flags.Output == outputYAML || text == nil:
		enc := yaml.NewEncoder(cc.Out)
		enc.SetIndent(2)

		if err := enc.Encode(sanitize(v)); err != nil {
			return err
		}

		return enc.Close()
	default:
		text(cc.Out)
		return nil
	}
}

// sanitize replaces infinities, which JSON cannot carry, with the strings
// "inf" and "-inf". Values it does not recognize pass through unchanged.
func sanitize(v any) any {
	switch x := v.(type) {
	case float64:
		switch {
		case math.IsInf(x, 1):
			return "inf"
		case math.IsInf(x, -1):
			return "-inf"
		}

		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = sanitize(e)
		}

		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitize(e)
		}

		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitize(e)
		}

		return out
	default:
		return v
	}
}

// formatSize returns a human-readable size such as "1.2 MiB".
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "-"
	}

	if t.Year() == time.Now().Year() {
		return t.Local().Format("Jan _2 15:04")
	}

	return t.Local().Format("Jan _2  2006")
}

// formatCell renders one dataset value for text tables.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		switch {
		case math.IsInf(x, 1):
			return "inf"
		case math.IsInf(x, -1):
			return "-inf"
		}

		return humanize.Ftoa(x)
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}

		return string(b)
	}
}

// printTable writes aligned columns. headers and each row must have the
// same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
