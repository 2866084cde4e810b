// Package runsm implements the Run State Machine (C8): the acyclic
// status DAG every Run moves through, cancellation, and finalization.
//
// Grounded on the teacher's repository/run.go UpdateRunStatus, which
// branches on the target status before issuing the SQL update; this
// package generalizes that branch into an explicit transition table
// plus the "terminal is sticky" guard spec.md §4.8 requires and the
// teacher's version does not need, since the teacher's run statuses
// were not a closed DAG.
package runsm

import (
	"context"
	"fmt"

	"docseval/internal/eventlog"
	"docseval/internal/model"
	"docseval/internal/storage"
)

// transitions lists, for each non-terminal status, the statuses a
// forward Advance call may move to. Cancellation is handled separately
// by Cancel, since it may interrupt any non-terminal status, not only
// the one listed here.
var transitions = map[model.RunStatus][]model.RunStatus{
	model.RunStatusQueued:          {model.RunStatusIngesting},
	model.RunStatusIngesting:       {model.RunStatusGeneratingTasks},
	model.RunStatusGeneratingTasks: {model.RunStatusRunning},
	model.RunStatusRunning:         {model.RunStatusEvaluating},
	model.RunStatusEvaluating:      {model.RunStatusCompleted, model.RunStatusFailed, model.RunStatusCanceled},
}

var statusEvent = map[model.RunStatus]string{
	model.RunStatusIngesting:       eventlog.EventRunIngesting,
	model.RunStatusGeneratingTasks: eventlog.EventRunGeneratingTasks,
	model.RunStatusRunning:         eventlog.EventRunRunning,
	model.RunStatusEvaluating:      eventlog.EventRunEvaluating,
	model.RunStatusCompleted:       eventlog.EventRunCompleted,
	model.RunStatusFailed:          eventlog.EventRunFailed,
	model.RunStatusCanceled:        eventlog.EventRunCanceled,
}

// Machine drives one Run's status transitions.
type Machine struct {
	store  storage.Store
	events *eventlog.Log
}

// New constructs a Machine.
func New(store storage.Store, events *eventlog.Log) *Machine {
	return &Machine{store: store, events: events}
}

// Advance validates and applies a forward transition. If the run is
// already terminal, Advance is a no-op (the finalizer is authoritative,
// per §4.8) and returns nil.
func (m *Machine) Advance(ctx context.Context, runID string, to model.RunStatus) error {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}

	allowed := transitions[run.Status]
	ok := false
	for _, s := range allowed {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("runsm: forbidden transition %s -> %s", run.Status, to)
	}

	if err := m.store.UpdateRunStatus(ctx, runID, to); err != nil {
		return err
	}
	return m.emit(ctx, runID, to)
}

// Cancel flips a non-terminal run to canceled regardless of its
// current phase and emits run.canceled. A no-op against an already
// terminal run.
func (m *Machine) Cancel(ctx context.Context, runID string) error {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}
	if err := m.store.UpdateRunStatus(ctx, runID, model.RunStatusCanceled); err != nil {
		return err
	}
	return m.emit(ctx, runID, model.RunStatusCanceled)
}

// Finalize moves a run to a terminal status with its aggregated
// totals, stamps endedAt, flips every non-terminal worker to done, and
// emits the matching terminal event. A run that is already terminal is
// left as it is: Finalize returns nil without writing or emitting
// anything.
func (m *Machine) Finalize(ctx context.Context, runID string, status model.RunStatus, totals *model.RunTotals) error {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}
	if err := m.store.FinalizeRun(ctx, runID, status, totals); err != nil {
		return err
	}

	workers, err := m.store.ListWorkers(ctx, runID)
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.Status == model.WorkerStatusDone || w.Status == model.WorkerStatusError {
			continue
		}
		if err := m.store.UpdateWorkerStatus(ctx, w.ID, model.WorkerStatusDone); err != nil {
			return err
		}
	}

	return m.emit(ctx, runID, status)
}

func (m *Machine) emit(ctx context.Context, runID string, status model.RunStatus) error {
	if m.events == nil {
		return nil
	}
	eventType, ok := statusEvent[status]
	if !ok {
		return nil
	}
	_, err := m.events.Append(ctx, runID, eventType, eventlog.Payload{Phase: string(status)})
	return err
}
