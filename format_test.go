package main

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	in := []map[string]any{
		{"max": math.Inf(1), "min": math.Inf(-1), "n": 2.5, "tags": []any{math.Inf(1), "x"}},
	}

	assert.Equal(t, []any{
		map[string]any{"max": "inf", "min": "-inf", "n": 2.5, "tags": []any{"inf", "x"}},
	}, sanitize(in))

	assert.Equal(t, "plain", sanitize("plain"))
}

func TestRender(t *testing.T) {
	v := map[string]any{"name": "Cars", "rows": 3}

	tests := []struct {
		name   string
		output string
		text   func(io.Writer)
		want   string
	}{
		{"json", outputJSON, nil, "{\n  \"name\": \"Cars\",\n  \"rows\": 3\n}\n"},
		{"yaml", outputYAML, nil, "name: Cars\nrows: 3\n"},
		{"text falls back to yaml", outputText, nil, "name: Cars\nrows: 3\n"},
		{"text", outputText, func(w io.Writer) { _, _ = io.WriteString(w, "Cars\n") }, "Cars\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			cc := &CLIContext{Flags: CLIFlags{Output: tt.output}, Out: &buf}

			require.NoError(t, cc.render(v, tt.text))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"ID", "NAME"}, [][]string{{"1", "Cars"}, {"10", ""}})

	assert.Equal(t, "ID  NAME\n1   Cars\n10\n", buf.String())
}

func TestFormatCell(t *testing.T) {
	assert.Empty(t, formatCell(nil))
	assert.Equal(t, "inf", formatCell(math.Inf(1)))
	assert.Equal(t, "-inf", formatCell(math.Inf(-1)))
	assert.Equal(t, "12.5", formatCell(12.5))
	assert.Equal(t, "3", formatCell(3.0))
	assert.Equal(t, "text", formatCell("text"))
	assert.Equal(t, "true", formatCell(true))
	assert.Equal(t, `{"a":1}`, formatCell(map[string]int{"a": 1}))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "-", formatSize(-1))
	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "1.5 KiB", formatSize(1536))
}
