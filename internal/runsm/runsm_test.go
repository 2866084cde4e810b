package runsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/eventlog"
	"docseval/internal/model"
	"docseval/internal/storage/memstore"
)

func newMachine(t *testing.T) (*Machine, *memstore.Store) {
	store := memstore.New()
	events := eventlog.New(store, nil)
	return New(store, events), store
}

func TestAdvanceFollowsTheTransitionTable(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusQueued}))

	require.NoError(t, m.Advance(ctx, "run-1", model.RunStatusIngesting))
	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusIngesting, run.Status)

	require.NoError(t, m.Advance(ctx, "run-1", model.RunStatusGeneratingTasks))
	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusGeneratingTasks, run.Status)
}

func TestAdvanceRejectsForbiddenTransition(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusQueued}))

	err := m.Advance(ctx, "run-1", model.RunStatusRunning)
	assert.Error(t, err)
}

func TestAdvanceIsANoOpOnceTerminal(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusCompleted}))

	err := m.Advance(ctx, "run-1", model.RunStatusIngesting)
	assert.NoError(t, err)

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
}

func TestCancelFlipsNonTerminalRunRegardlessOfPhase(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusRunning}))

	require.NoError(t, m.Cancel(ctx, "run-1"))
	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCanceled, run.Status)
}

func TestCancelIsANoOpOnceTerminal(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusFailed}))

	require.NoError(t, m.Cancel(ctx, "run-1"))
	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestFinalizeFlipsNonTerminalWorkersToDone(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusEvaluating}))
	_, err := store.EnsureRunWorkers(ctx, "run-1", []model.Worker{
		{ID: "w1", WorkerLabel: "worker-1", Status: model.WorkerStatusRunning},
		{ID: "w2", WorkerLabel: "worker-2", Status: model.WorkerStatusError},
	})
	require.NoError(t, err)

	totals := &model.RunTotals{TotalTasks: 5, PassedTasks: 4}
	require.NoError(t, m.Finalize(ctx, "run-1", model.RunStatusCompleted, totals))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	require.NotNil(t, run.Totals)
	assert.Equal(t, 4, run.Totals.PassedTasks)
	assert.NotNil(t, run.EndedAt)

	workers, err := store.ListWorkers(ctx, "run-1")
	require.NoError(t, err)
	for _, w := range workers {
		assert.Contains(t, []model.WorkerStatus{model.WorkerStatusDone, model.WorkerStatusError}, w.Status)
	}
}

func TestFinalizeEmitsTerminalEvent(t *testing.T) {
	store := memstore.New()
	events := eventlog.New(store, nil)
	m := New(store, events)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusEvaluating}))

	require.NoError(t, m.Finalize(ctx, "run-1", model.RunStatusCompleted, &model.RunTotals{}))

	evs, err := events.ReadAfter(ctx, "run-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, eventlog.EventRunCompleted, evs[0].EventType)
}
