// Package storage defines the Store collaborator boundary (§6) and its
// dialect-abstracted SQL implementation plus a document-shaped Mongo
// alternate.
//
// Grounded on internal/shared/storage/interface.go's composition of
// narrow per-entity sub-interfaces into one PersistentStore; this
// module's Store follows the same shape, narrowed to the entities
// spec.md §3 actually names.
package storage

import (
	"context"
	"time"

	"docseval/internal/model"
)

// RunStore covers run lifecycle and cost primitives.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FinalizeRun(ctx context.Context, runID string, status model.RunStatus, totals *model.RunTotals) error
	IncrementRunCost(ctx context.Context, runID string, delta float64) (float64, error)
	IsRunCanceled(ctx context.Context, runID string) (bool, error)
	PersistRunError(ctx context.Context, runErr *model.RunError) error
	ListRunErrors(ctx context.Context, runID string) ([]model.RunError, error)
}

// ArtifactStore covers ingested/derived artifact persistence.
type ArtifactStore interface {
	PersistIngestionArtifacts(ctx context.Context, runID string, artifacts []model.Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]model.Artifact, error)
	ReplaceSkillArtifact(ctx context.Context, runID string, skill model.Artifact) error
}

// TaskStore covers per-run task rows.
type TaskStore interface {
	PersistTasks(ctx context.Context, tasks []model.Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error
	ListTasks(ctx context.Context, runID string) ([]model.Task, error)
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
}

// WorkerStore covers the Worker Pool's persisted activity rows.
type WorkerStore interface {
	EnsureRunWorkers(ctx context.Context, runID string, workers []model.Worker) ([]model.Worker, error)
	UpdateWorkerStatus(ctx context.Context, workerID string, status model.WorkerStatus) error
	ListWorkers(ctx context.Context, runID string) ([]model.Worker, error)
}

// ExecutionStore covers TaskExecution, AgentMemoryState, StepTrace,
// StepCitation, and DeterministicCheckResult persistence.
type ExecutionStore interface {
	CreateTaskExecution(ctx context.Context, exec *model.TaskExecution) error
	UpdateTaskExecutionProgress(ctx context.Context, execID string, stepCount, tokensIn, tokensOut int, costEstimate float64) error
	FinalizeTaskExecution(ctx context.Context, execID string, status model.TaskStatus, stopReason model.StopReason, finalAnswer string) error
	GetTaskExecution(ctx context.Context, execID string) (*model.TaskExecution, error)
	ListTaskExecutions(ctx context.Context, runID string, phase model.Phase) ([]model.TaskExecution, error)

	UpsertTaskAgentState(ctx context.Context, state *model.AgentMemoryState) error
	GetTaskAgentState(ctx context.Context, execID string) (*model.AgentMemoryState, error)

	PersistTaskStep(ctx context.Context, step *model.StepTrace) error
	PersistTaskStepCitations(ctx context.Context, citations []model.StepCitation) error
	ListTaskSteps(ctx context.Context, execID string) ([]model.StepTrace, error)

	PersistDeterministicChecks(ctx context.Context, checks []model.DeterministicCheckResult) error
}

// EvaluationStore covers TaskEvaluation persistence.
type EvaluationStore interface {
	PersistTaskEvaluation(ctx context.Context, eval *model.TaskEvaluation) error
	ListTaskEvaluations(ctx context.Context, runID string, phase model.Phase) ([]model.TaskEvaluation, error)
}

// EventStore covers the Event Log (C1) append/read contract.
type EventStore interface {
	// AppendRunEvent durably appends one event and returns its dense,
	// globally ordered id. seq must be assigned densely and uniquely per
	// run under concurrent appenders.
	AppendRunEvent(ctx context.Context, runID string, eventType string, payload []byte) (int64, error)
	// GetRunEventsAfter cursors strictly by id, never by seq.
	GetRunEventsAfter(ctx context.Context, runID string, afterID int64, limit int) ([]model.RunEvent, error)
}

// SkillSessionStore covers the optimization-session operations.
type SkillSessionStore interface {
	CreateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error
	UpdateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error
	GetSkillSession(ctx context.Context, runID string) (*model.SkillOptimizationSession, error)
}

// Store is the full persistence boundary consumed by the orchestrator.
type Store interface {
	RunStore
	ArtifactStore
	TaskStore
	WorkerStore
	ExecutionStore
	EvaluationStore
	EventStore
	SkillSessionStore

	Close() error
}

// nowUTC returns the current time in UTC. Opaque identifiers come from
// NewID (idgen.go), which mirrors the teacher's crypto/rand-based
// generateID helper rather than pulling in google/uuid.
var nowUTC = func() time.Time { return time.Now().UTC() }
