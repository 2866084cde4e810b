// Package memstore is an in-memory storage.Store used by unit tests.
//
// Per spec.md §9's design note, "in a single-process implementation a
// mutex around the seq allocator is acceptable; across processes, the
// conflict-retry form is required." This is exactly that single-process
// case: one mutex guards the whole store, so seq allocation never needs
// the sqlstore package's optimistic-retry loop.
package memstore

import (
	"context"
	"sync"
	"time"

	"docseval/internal/model"
	"docseval/internal/storage"
)

type Store struct {
	mu sync.Mutex

	runs         map[string]*model.Run
	runErrors    map[string][]model.RunError
	artifacts    map[string][]model.Artifact
	tasks        map[string]*model.Task
	taskOrder    map[string][]string // runID -> ordered task IDs
	workers      map[string][]model.Worker
	executions   map[string]*model.TaskExecution
	execOrder    map[string][]string // runID -> ordered execution IDs
	agentStates  map[string]*model.AgentMemoryState
	steps        map[string][]model.StepTrace // execID -> steps in insertion order
	citations    map[string][]model.StepCitation
	checks       map[string][]model.DeterministicCheckResult
	evaluations  map[string]*model.TaskEvaluation // runID|taskID|phase -> eval
	events       []model.RunEvent
	seqByRun     map[string]int
	skillSess    map[string]*model.SkillOptimizationSession
	nextEventID  int64
}

func New() *Store {
	return &Store{
		runs:        map[string]*model.Run{},
		runErrors:   map[string][]model.RunError{},
		artifacts:   map[string][]model.Artifact{},
		tasks:       map[string]*model.Task{},
		taskOrder:   map[string][]string{},
		workers:     map[string][]model.Worker{},
		executions:  map[string]*model.TaskExecution{},
		execOrder:   map[string][]string{},
		agentStates: map[string]*model.AgentMemoryState{},
		steps:       map[string][]model.StepTrace{},
		citations:   map[string][]model.StepCitation{},
		checks:      map[string][]model.DeterministicCheckResult{},
		evaluations: map[string]*model.TaskEvaluation{},
		seqByRun:    map[string]int{},
		skillSess:   map[string]*model.SkillOptimizationSession{},
	}
}

func (s *Store) Close() error { return nil }

func clone[T any](v T) *T { c := v; return &c }

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = clone(*run)
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(*r), nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	return nil
}

func (s *Store) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, totals *model.RunTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	r.Totals = totals
	now := time.Now().UTC()
	r.EndedAt = &now
	return nil
}

func (s *Store) IncrementRunCost(ctx context.Context, runID string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	r.CostEstimate += delta
	return r.CostEstimate, nil
}

func (s *Store) IsRunCanceled(ctx context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return false, storage.ErrNotFound
	}
	return r.Status == model.RunStatusCanceled, nil
}

func (s *Store) PersistRunError(ctx context.Context, runErr *model.RunError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runErrors[runErr.RunID] = append(s.runErrors[runErr.RunID], *runErr)
	return nil
}

func (s *Store) ListRunErrors(ctx context.Context, runID string) ([]model.RunError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RunError{}, s.runErrors[runID]...), nil
}

func (s *Store) PersistIngestionArtifacts(ctx context.Context, runID string, artifacts []model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[runID] = append(s.artifacts[runID], artifacts...)
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Artifact{}, s.artifacts[runID]...), nil
}

func (s *Store) ReplaceSkillArtifact(ctx context.Context, runID string, skill model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.artifacts[runID][:0:0]
	for _, a := range s.artifacts[runID] {
		if a.Type != model.ArtifactTypeSkill {
			kept = append(kept, a)
		}
	}
	skill.Type = model.ArtifactTypeOptimizedSkill
	s.artifacts[runID] = append(kept, skill)
	return nil
}

func (s *Store) PersistTasks(ctx context.Context, tasks []model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = clone(t)
		s.taskOrder[t.RunID] = append(s.taskOrder[t.RunID], t.ID)
	}
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return storage.ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *Store) ListTasks(ctx context.Context, runID string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Task
	for _, id := range s.taskOrder[runID] {
		out = append(out, *s.tasks[id])
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(*t), nil
}

func (s *Store) EnsureRunWorkers(ctx context.Context, runID string, workers []model.Worker) ([]model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.workers[runID]; ok && len(existing) > 0 {
		return append([]model.Worker{}, existing...), nil
	}
	for i := range workers {
		workers[i].RunID = runID
		if workers[i].Status == "" {
			workers[i].Status = model.WorkerStatusIdle
		}
	}
	s.workers[runID] = workers
	return workers, nil
}

func (s *Store) UpdateWorkerStatus(ctx context.Context, workerID string, status model.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID := range s.workers {
		for i := range s.workers[runID] {
			if s.workers[runID][i].ID == workerID {
				s.workers[runID][i].Status = status
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (s *Store) ListWorkers(ctx context.Context, runID string) ([]model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Worker{}, s.workers[runID]...), nil
}

func (s *Store) CreateTaskExecution(ctx context.Context, exec *model.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = clone(*exec)
	s.execOrder[exec.RunID] = append(s.execOrder[exec.RunID], exec.ID)
	return nil
}

func (s *Store) UpdateTaskExecutionProgress(ctx context.Context, execID string, stepCount, tokensIn, tokensOut int, costEstimate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[execID]
	if !ok {
		return storage.ErrNotFound
	}
	e.StepCount = stepCount
	e.TokensIn = tokensIn
	e.TokensOut = tokensOut
	e.CostEstimate = costEstimate
	return nil
}

func (s *Store) FinalizeTaskExecution(ctx context.Context, execID string, status model.TaskStatus, stopReason model.StopReason, finalAnswer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[execID]
	if !ok {
		return storage.ErrNotFound
	}
	e.Status = status
	e.StopReason = stopReason
	e.FinalAnswer = finalAnswer
	now := time.Now().UTC()
	e.FinishedAt = &now
	return nil
}

func (s *Store) GetTaskExecution(ctx context.Context, execID string) (*model.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[execID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(*e), nil
}

func (s *Store) ListTaskExecutions(ctx context.Context, runID string, phase model.Phase) ([]model.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskExecution
	for _, id := range s.execOrder[runID] {
		e := s.executions[id]
		if e.Phase == phase {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *Store) UpsertTaskAgentState(ctx context.Context, state *model.AgentMemoryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentStates[state.TaskExecutionID] = clone(*state)
	return nil
}

func (s *Store) GetTaskAgentState(ctx context.Context, execID string) (*model.AgentMemoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agentStates[execID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(*st), nil
}

func (s *Store) PersistTaskStep(ctx context.Context, step *model.StepTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.TaskExecutionID] = append(s.steps[step.TaskExecutionID], *step)
	return nil
}

func (s *Store) PersistTaskStepCitations(ctx context.Context, citations []model.StepCitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range citations {
		s.citations[c.StepID] = append(s.citations[c.StepID], c)
	}
	return nil
}

func (s *Store) ListTaskSteps(ctx context.Context, execID string) ([]model.StepTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StepTrace{}, s.steps[execID]...), nil
}

func (s *Store) PersistDeterministicChecks(ctx context.Context, checks []model.DeterministicCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range checks {
		s.checks[c.TaskExecutionID] = append(s.checks[c.TaskExecutionID], c)
	}
	return nil
}

func evalKey(runID, taskID string, phase model.Phase) string {
	return runID + "|" + taskID + "|" + string(phase)
}

func (s *Store) PersistTaskEvaluation(ctx context.Context, eval *model.TaskEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations[evalKey(eval.RunID, eval.TaskID, eval.Phase)] = clone(*eval)
	return nil
}

func (s *Store) ListTaskEvaluations(ctx context.Context, runID string, phase model.Phase) ([]model.TaskEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskEvaluation
	for _, id := range s.execOrder[runID] {
		e := s.executions[id]
		if e.Phase != phase {
			continue
		}
		if ev, ok := s.evaluations[evalKey(runID, e.TaskID, phase)]; ok {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// AppendRunEvent uses a single mutex as the seq allocator, the
// single-process form spec.md §9 explicitly licenses in place of the
// conflict-retry loop sqlstore uses.
func (s *Store) AppendRunEvent(ctx context.Context, runID string, eventType string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqByRun[runID]++
	s.nextEventID++
	e := model.RunEvent{
		ID:        s.nextEventID,
		RunID:     runID,
		Seq:       s.seqByRun[runID],
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, e)
	return e.ID, nil
}

func (s *Store) GetRunEventsAfter(ctx context.Context, runID string, afterID int64, limit int) ([]model.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RunEvent
	for _, e := range s.events {
		if e.RunID == runID && e.ID > afterID {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CreateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skillSess[session.RunID] = clone(*session)
	return nil
}

func (s *Store) UpdateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skillSess[session.RunID] = clone(*session)
	return nil
}

func (s *Store) GetSkillSession(ctx context.Context, runID string) (*model.SkillOptimizationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.skillSess[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(*sess), nil
}

var _ storage.Store = (*Store)(nil)
