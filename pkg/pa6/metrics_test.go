package pa6

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

func TestMetrics_RequestsAndPolls(t *testing.T) {
	script := &statusScript{t: t, field: "state", idKey: "exportId", id: "5", steps: []string{"503", "Exported"}}

	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.Handle(route("GET", "project/export/status"), script)
	})

	reg := prometheus.NewRegistry()
	c := newTestClient(t, srv.URL, func(o *Options) { o.Registerer = reg })

	_, err := c.WaitOperation(t.Context(), asyncop.Operation{ID: "5", Kind: asyncop.KindExport})
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.requests.WithLabelValues("project/export/status", "GET", "503")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.requests.WithLabelValues("project/export/status", "GET", "200")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.metrics.polls.WithLabelValues("export")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.busy.WithLabelValues("export")), 0)

	expected := `
# HELP pa6_client_busy_responses_total Busy responses tolerated while waiting for async operations.
# TYPE pa6_client_busy_responses_total counter
pa6_client_busy_responses_total{kind="export"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pa6_client_busy_responses_total"))
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := newTestClient(t, "http://127.0.0.1:1", func(o *Options) { o.Registerer = reg })
	b := newTestClient(t, "http://127.0.0.1:1", func(o *Options) { o.Registerer = reg })

	assert.Same(t, a.metrics.requests, b.metrics.requests)
	assert.Same(t, a.metrics.uploadedBytes, b.metrics.uploadedBytes)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics

	assert.NotPanics(t, func() {
		m.observeRequest("server/info", "GET", 200, 0)
		m.observePoll("load", true)
		m.addUploaded(10)
	})
}
