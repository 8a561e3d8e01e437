package asyncop

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

// noopSleep returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

type exportStatus struct {
	State State
}

// scriptedFetcher replays a fixed sequence of results, repeating the last one.
type scriptedFetcher struct {
	steps []fetchStep
	calls int
}

type fetchStep struct {
	status exportStatus
	err    error
}

func (f *scriptedFetcher) fetch(_ context.Context, _ string) (exportStatus, error) {
	idx := min(f.calls, len(f.steps)-1)
	f.calls++

	return f.steps[idx].status, f.steps[idx].err
}

func newExportPoller(f *scriptedFetcher, tolerance int) *Poller[exportStatus] {
	return &Poller[exportStatus]{
		BusyTolerance: tolerance,
		Fetch:         f.fetch,
		Classify:      func(s exportStatus) Outcome { return ExportVocabulary.Classify(s.State) },
		IsBusy:        func(err error) bool { return errors.Is(err, errBusy) },
		Logger:        slog.Default(),
		Sleep:         noopSleep,
	}
}

func busySteps(n int, then State) []fetchStep {
	steps := make([]fetchStep, 0, n+2)
	for range n {
		steps = append(steps, fetchStep{err: errBusy})
	}

	steps = append(steps,
		fetchStep{status: exportStatus{State: then}},
		fetchStep{status: exportStatus{State: StateExported}},
	)

	return steps
}

func TestWait_BusyToleranceExceeded(t *testing.T) {
	f := &scriptedFetcher{steps: busySteps(3, StateProcessing)}
	p := newExportPoller(f, 2)

	res, err := p.Wait(context.Background(), Operation{ID: "7", Kind: KindExport})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, 3, res.Busy)
}

func TestWait_BusyWithinTolerance(t *testing.T) {
	for _, tolerance := range []int{3, 4, 10} {
		f := &scriptedFetcher{steps: busySteps(3, StateProcessing)}
		p := newExportPoller(f, tolerance)

		res, err := p.Wait(context.Background(), Operation{ID: "7", Kind: KindExport})
		require.NoError(t, err, "tolerance %d", tolerance)
		assert.Equal(t, Succeeded, res.Outcome)
		assert.Equal(t, StateExported, res.Status.State)
		assert.Equal(t, 5, res.Polls)
	}
}

func TestWait_BusyBudgetResetsAfterNonBusy(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{
		{err: errBusy},
		{err: errBusy},
		{status: exportStatus{State: StateProcessing}},
		{err: errBusy},
		{err: errBusy},
		{status: exportStatus{State: StateExported}},
	}}
	p := newExportPoller(f, 2)

	res, err := p.Wait(context.Background(), Operation{ID: "1", Kind: KindExport})
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, 4, res.Busy)
}

func TestWait_TerminalAfterOneFetch(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		state   State
		outcome Outcome
	}{
		{"exported", KindExport, StateExported, Succeeded},
		{"export error", KindExport, StateError, Failed},
		{"imported", KindImport, StateImported, Succeeded},
		{"import cancelled", KindImport, StateCancelled, Failed},
		{"loaded", KindLoad, StateLoaded, Succeeded},
		{"load error", KindLoad, StateError, Failed},
		{"duplicated", KindDuplicate, StateDuplicated, Succeeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vocab, ok := VocabularyFor(tt.kind)
			require.True(t, ok)

			calls := 0
			p := &Poller[exportStatus]{
				Fetch: func(_ context.Context, _ string) (exportStatus, error) {
					calls++
					return exportStatus{State: tt.state}, nil
				},
				Classify: func(s exportStatus) Outcome { return vocab.Classify(s.State) },
				Sleep:    noopSleep,
			}

			res, err := p.Wait(context.Background(), Operation{ID: "x", Kind: tt.kind})
			require.NoError(t, err)
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.outcome, res.Outcome)
		})
	}
}

func TestWait_ProcessingNeedsAnotherFetch(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{
		{status: exportStatus{State: StateProcessing}},
		{status: exportStatus{State: StateExported}},
	}}
	p := newExportPoller(f, 0)

	res, err := p.Wait(context.Background(), Operation{ID: "x", Kind: KindExport})
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, Succeeded, res.Outcome)
}

func TestWait_EmptyStatusKeepsPolling(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{
		{status: exportStatus{}},
		{status: exportStatus{}},
		{status: exportStatus{State: StateExported}},
	}}
	p := newExportPoller(f, 0)

	res, err := p.Wait(context.Background(), Operation{ID: "x", Kind: KindExport})
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, Succeeded, res.Outcome)
}

func TestWait_NonBusyErrorReturnedImmediately(t *testing.T) {
	boom := errors.New("connection refused")
	f := &scriptedFetcher{steps: []fetchStep{{err: boom}}}
	p := newExportPoller(f, 5)

	_, err := p.Wait(context.Background(), Operation{ID: "x", Kind: KindExport})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.calls)
}

func TestWait_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &scriptedFetcher{steps: []fetchStep{{status: exportStatus{State: StateProcessing}}}}
	p := newExportPoller(f, 0)
	p.Sleep = nil
	p.Interval = time.Hour

	_, err := p.Wait(ctx, Operation{ID: "x", Kind: KindExport})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.calls)
}

func TestWait_RequiresOperationID(t *testing.T) {
	p := newExportPoller(&scriptedFetcher{steps: []fetchStep{{}}}, 0)

	_, err := p.Wait(context.Background(), Operation{Kind: KindExport})
	require.ErrorIs(t, err, ErrNoOperation)
}

func TestWait_RequiresCallbacks(t *testing.T) {
	p := &Poller[exportStatus]{}

	_, err := p.Wait(context.Background(), Operation{ID: "1"})
	require.Error(t, err)
}
