// Package workerpool implements the Worker Pool (C7): the fixed-size
// concurrent fleet of worker activities that drain a run's task queue,
// each driving the Agent Loop for one task and then handing the
// finished attempt to the Deterministic Guard and Rubric Judge.
//
// Grounded on internal/apiserver/scheduler/scheduler.go's
// goroutine-per-activity + sync.WaitGroup shape, with its
// Redis-Streams cross-process queue replaced by an in-process buffered
// channel per spec.md §5 ("parallel in-process tasks" — a single run
// owns one orchestrator activity in one process, not a cluster of
// nodes pulling from a shared broker).
package workerpool

import (
	"context"
	"sync"
	"time"

	"docseval/internal/agentloop"
	"docseval/internal/budget"
	"docseval/internal/cache"
	"docseval/internal/eventlog"
	"docseval/internal/guard"
	"docseval/internal/judge"
	"docseval/internal/model"
	"docseval/internal/modelclient"
	"docseval/internal/retrieval"
	"docseval/internal/storage"
	"docseval/pkg/logging"
)

// Deps are the collaborators one Pool needs.
type Deps struct {
	Store    storage.Store
	Events   *eventlog.Log
	Client   modelclient.Client
	Judge    *judge.Judge
	CostFunc budget.CostFunc
	Cache    cache.RunCache
	Logger   *logging.Logger
}

// Pool drains one phase's task queue across a fixed worker fleet.
type Pool struct {
	deps Deps
	log  *logging.Logger
}

// New constructs a Pool.
func New(deps Deps) *Pool {
	if deps.CostFunc == nil {
		deps.CostFunc = budget.DefaultCostFunc
	}
	if deps.Judge == nil {
		deps.Judge = judge.New(deps.Client)
	}
	l := deps.Logger
	if l == nil {
		l = logging.Default("workerpool")
	}
	return &Pool{deps: deps, log: l}
}

// Run spawns min(executionConcurrency, len(workers)) worker activities
// that drain tasks, driving the Agent Loop and judge for each, and
// returns every TaskEvaluation produced. It returns once the queue is
// drained or the run is canceled.
func (p *Pool) Run(ctx context.Context, runID string, phase model.Phase, tasks []model.Task, workers []model.Worker, index *retrieval.Index, cfg model.RunConfig) ([]model.TaskEvaluation, error) {
	queue := make(chan model.Task, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	concurrency := cfg.ExecutionConcurrency
	if concurrency > len(workers) {
		concurrency = len(workers)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	judgeConcurrency := cfg.JudgeConcurrency
	if judgeConcurrency <= 0 {
		judgeConcurrency = 1
	}
	judgeSem := make(chan struct{}, judgeConcurrency)

	var (
		mu    sync.Mutex
		evals []model.TaskEvaluation
		wg    sync.WaitGroup
	)

	for i := 0; i < concurrency; i++ {
		worker := workers[i]
		wg.Add(1)
		go func(w model.Worker) {
			defer wg.Done()
			p.runWorker(ctx, runID, phase, w, queue, judgeSem, index, cfg, &mu, &evals)
		}(worker)
	}
	wg.Wait()

	return evals, nil
}

func (p *Pool) runWorker(ctx context.Context, runID string, phase model.Phase, worker model.Worker, queue <-chan model.Task, judgeSem chan struct{}, index *retrieval.Index, cfg model.RunConfig, mu *sync.Mutex, evals *[]model.TaskEvaluation) {
	wlog := p.log.WithRunID(runID).WithWorkerID(worker.ID)
	if err := p.deps.Store.UpdateWorkerStatus(ctx, worker.ID, model.WorkerStatusIdle); err != nil {
		wlog.WithError(err).Warn("update worker status")
	}

	for task := range queue {
		if canceled, err := p.deps.Store.IsRunCanceled(ctx, runID); err == nil && canceled {
			_ = p.deps.Store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusSkipped)
			continue
		}

		if err := p.deps.Store.UpdateWorkerStatus(ctx, worker.ID, model.WorkerStatusRunning); err != nil {
			wlog.WithError(err).Warn("update worker status")
		}

		eval, err := p.runTask(ctx, runID, phase, worker, task, judgeSem, index, cfg)
		if err != nil {
			wlog.WithTaskID(task.ID).WithError(err).Error("task failed")
		} else if eval.TaskID != "" {
			// Cancelled and cost_limit attempts come back without an
			// evaluation and are not collected.
			mu.Lock()
			*evals = append(*evals, eval)
			mu.Unlock()
		}

		if err := p.deps.Store.UpdateWorkerStatus(ctx, worker.ID, model.WorkerStatusIdle); err != nil {
			wlog.WithError(err).Warn("update worker status")
		}
	}

	if err := p.deps.Store.UpdateWorkerStatus(ctx, worker.ID, model.WorkerStatusDone); err != nil {
		wlog.WithError(err).Warn("update worker status")
	}
}

// runTask drives one (task, worker) attempt end to end: create the
// execution row, run the Agent Loop, run the Deterministic Guard, run
// the Rubric Judge (bounded by the shared judgeSem), finalize the
// execution, and emit task.execution.completed / task.error.
func (p *Pool) runTask(ctx context.Context, runID string, phase model.Phase, worker model.Worker, task model.Task, judgeSem chan struct{}, index *retrieval.Index, cfg model.RunConfig) (model.TaskEvaluation, error) {
	execID := storage.NewID("exec")
	exec := &model.TaskExecution{
		ID:       execID,
		TaskID:   task.ID,
		RunID:    runID,
		WorkerID: worker.ID,
		Phase:    phase,
		Status:   model.TaskStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := p.deps.Store.CreateTaskExecution(ctx, exec); err != nil {
		return model.TaskEvaluation{}, err
	}
	_ = p.deps.Store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusRunning)
	tlog := p.log.WithRunID(runID).WithTaskID(task.ID)
	if _, err := p.deps.Events.Append(ctx, runID, eventlog.EventTaskExecutionStarted, eventlog.Payload{Phase: string(phase), Data: map[string]string{"taskId": task.ID, "executionId": execID}}); err != nil {
		tlog.WithError(err).Warn("emit task.execution.started")
	}

	accountant := budget.New(p.deps.Store, runID, cfg)
	if p.deps.Cache != nil {
		accountant = accountant.WithCache(p.deps.Cache)
	}
	loop := agentloop.New(agentloop.Deps{
		Client:     p.deps.Client,
		Index:      index,
		Accountant: accountant,
		Store:      p.deps.Store,
		Events:     p.deps.Events,
		CostFunc:   p.deps.CostFunc,
		Model:      worker.ModelName,
	})

	outcome, err := loop.Run(ctx, task, execID, runID, cfg)
	if err != nil {
		return p.fallbackEvaluation(ctx, runID, phase, task, execID, err)
	}

	// Cancellation and cost_limit both skip evaluation outright, so the
	// execution's terminal status is known without judging. Everything
	// else stays unfinalized until the judge produces eval.Pass, per
	// P5: a passed/failed TaskExecution status must agree with its
	// TaskEvaluation.pass.
	if outcome.StopReason == model.StopReasonCancelled {
		if err := p.deps.Store.FinalizeTaskExecution(ctx, execID, model.TaskStatusSkipped, outcome.StopReason, outcome.Answer); err != nil {
			return model.TaskEvaluation{}, err
		}
		_ = p.deps.Store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusSkipped)
		return model.TaskEvaluation{}, nil
	}

	guardResult := guard.RunChecks(guard.Attempt{
		Task:       task,
		Answer:     outcome.Answer,
		StepOutput: outcome.StepOutput,
		Citations:  outcome.Citations,
		StepCount:  outcome.StepCount,
		StopReason: outcome.StopReason,
		Index:      index,
	})
	if err := p.deps.Store.PersistDeterministicChecks(ctx, toCheckRows(execID, guardResult.Checks)); err != nil {
		tlog.WithError(err).Warn("persist deterministic checks")
	}

	if outcome.SkipNoEval {
		if err := p.deps.Store.FinalizeTaskExecution(ctx, execID, model.TaskStatusSkipped, outcome.StopReason, outcome.Answer); err != nil {
			return model.TaskEvaluation{}, err
		}
		_ = p.deps.Store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusSkipped)
		return model.TaskEvaluation{}, nil
	}

	judgeSem <- struct{}{}
	eval, err := p.deps.Judge.Evaluate(ctx, judge.Input{
		Task:            task,
		Answer:          outcome.Answer,
		StepOutput:      outcome.StepOutput,
		Citations:       outcome.Citations,
		StepCount:       outcome.StepCount,
		StopReason:      outcome.StopReason,
		Evidence:        evidenceFromIndex(index, task.Name+" "+task.Description+" "+outcome.Answer),
		GuardResult:     guardResult,
		TieBreakEnabled: cfg.TieBreakEnabled,
		JudgeModel:      cfg.JudgeModel,
	})
	<-judgeSem
	if err != nil {
		return p.fallbackEvaluation(ctx, runID, phase, task, execID, err)
	}
	eval.Phase = phase

	finalStatus := model.TaskStatusFailed
	if eval.Pass {
		finalStatus = model.TaskStatusPassed
	}
	if err := p.deps.Store.FinalizeTaskExecution(ctx, execID, finalStatus, outcome.StopReason, outcome.Answer); err != nil {
		return model.TaskEvaluation{}, err
	}

	if err := p.deps.Store.PersistTaskEvaluation(ctx, &eval); err != nil {
		return model.TaskEvaluation{}, err
	}
	_ = p.deps.Store.UpdateTaskStatus(ctx, task.ID, finalStatus)

	if _, err := p.deps.Events.Append(ctx, runID, eventlog.EventTaskExecutionCompleted, eventlog.Payload{Phase: string(phase), Data: map[string]any{"taskId": task.ID, "executionId": execID, "pass": eval.Pass}}); err != nil {
		tlog.WithError(err).Warn("emit task.execution.completed")
	}

	return eval, nil
}

// fallbackEvaluation implements spec.md §4.11's per-task error
// containment: an execution-level failure never fails the run. It
// finalizes the execution as errored and returns a synthetic
// zero-score evaluation so the aggregator still accounts for the task.
func (p *Pool) fallbackEvaluation(ctx context.Context, runID string, phase model.Phase, task model.Task, execID string, cause error) (model.TaskEvaluation, error) {
	_ = p.deps.Store.FinalizeTaskExecution(ctx, execID, model.TaskStatusError, model.StopReasonError, "")
	_ = p.deps.Store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusError)

	failureClass := model.FailureClassPoorStructure
	eval := model.TaskEvaluation{
		TaskID:                 task.ID,
		RunID:                  runID,
		Phase:                  phase,
		Pass:                   false,
		QualityPass:            false,
		ValidityPass:           false,
		ValidityBlockedReasons: []string{"execution_error"},
		FailureClass:           &failureClass,
		Rationale:              "execution failed: " + cause.Error(),
		JudgeModel:             "",
	}
	if err := p.deps.Store.PersistTaskEvaluation(ctx, &eval); err != nil {
		return model.TaskEvaluation{}, err
	}

	if _, pubErr := p.deps.Events.Append(ctx, runID, eventlog.EventTaskError, eventlog.Payload{Phase: string(phase), Message: cause.Error(), Data: map[string]string{"taskId": task.ID, "executionId": execID}}); pubErr != nil {
		p.log.WithRunID(runID).WithTaskID(task.ID).WithError(pubErr).Warn("emit task.error")
	}
	return eval, nil
}

func toCheckRows(execID string, checks []guard.CheckResult) []model.DeterministicCheckResult {
	rows := make([]model.DeterministicCheckResult, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, model.DeterministicCheckResult{
			TaskExecutionID: execID,
			Name:            c.Name,
			Passed:          c.Passed,
			ScoreDelta:      c.ScoreDelta,
			Details:         c.Details,
		})
	}
	return rows
}

// evidenceFromIndex returns the chunks most relevant to the attempt,
// ranked by the same TopK scoring the Agent Loop's retrieve step uses,
// so the alignment call sees the top ≤ judge.MaxEvidenceChunks chunks
// rather than an arbitrary storage-order slice.
func evidenceFromIndex(index *retrieval.Index, query string) []judge.EvidenceChunk {
	if index == nil {
		return nil
	}
	scored := index.TopK(query, judge.MaxEvidenceChunks)
	out := make([]judge.EvidenceChunk, 0, len(scored))
	for _, s := range scored {
		out = append(out, judge.EvidenceChunk{SourceURL: s.Chunk.SourceURL, SnippetHash: s.Chunk.SnippetHash, Text: s.Chunk.Text})
	}
	return out
}
