// Package orchestrator implements the Orchestrator Entry (C11): the
// single background driver for one run, from ingestion through
// finalization.
//
// Grounded on cmd/api-server/main.go's top-level wiring and the
// teacher's pattern of a single background-started activity per
// long-running job (internal/executor/executor.go's scheduler loop),
// narrowed to one run per call instead of a polling loop over every
// pending run — spec.md §4.11 calls for an explicit
// `startRunInBackground(runId)` entry point, not a ticker.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"docseval/internal/eventlog"
	"docseval/internal/ingestor"
	"docseval/internal/model"
	"docseval/internal/phase"
	"docseval/internal/runsm"
	"docseval/internal/storage"
	"docseval/pkg/logging"
)

// Deps are the collaborators the Orchestrator needs.
type Deps struct {
	Store    storage.Store
	Events   *eventlog.Log
	Ingestor ingestor.Ingestor
	Phase    *phase.Executor
	RunSM    *runsm.Machine
	Logger   *logging.Logger
}

// Orchestrator drives runs to completion, one goroutine per run,
// rejecting a duplicate start for a run already in flight in this
// process.
type Orchestrator struct {
	deps Deps
	log  *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New constructs an Orchestrator.
func New(deps Deps) *Orchestrator {
	l := deps.Logger
	if l == nil {
		l = logging.Default("orchestrator")
	}
	return &Orchestrator{deps: deps, log: l, inFlight: make(map[string]struct{})}
}

// StartRunInBackground is idempotent per process: a run already being
// driven by this process is left alone. Returns true if a new
// background goroutine was started.
func (o *Orchestrator) StartRunInBackground(runID string) bool {
	if !o.claim(runID) {
		return false
	}
	go func() {
		defer o.release(runID)
		ctx := context.Background()
		if err := o.drive(ctx, runID); err != nil {
			o.fail(ctx, runID, err)
		}
	}()
	return true
}

func (o *Orchestrator) claim(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[runID]; ok {
		return false
	}
	o.inFlight[runID] = struct{}{}
	return true
}

func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	delete(o.inFlight, runID)
	o.mu.Unlock()
}

// CancelRun writes canceled status for a non-terminal run.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	return o.deps.RunSM.Cancel(ctx, runID)
}

// drive runs the full control flow described in spec.md §2: ingest,
// persist artifacts, generate tasks, provision workers, run the
// baseline phase, run the optimization branch, finalize.
func (o *Orchestrator) drive(ctx context.Context, runID string) error {
	run, err := o.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}

	if err := o.deps.RunSM.Advance(ctx, runID, model.RunStatusIngesting); err != nil {
		return err
	}
	result, err := o.deps.Ingestor.Ingest(ctx, run.DocsURL, ingestor.Options{MaxPages: 200})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if result.NormalizedDocsURL != "" {
		run.DocsURL = result.NormalizedDocsURL
	}
	for _, raw := range result.Artifacts {
		a := model.Artifact{
			ID:          storage.NewID("artifact"),
			RunID:       runID,
			Type:        model.ArtifactType(raw.ArtifactType),
			SourceURL:   raw.SourceURL,
			Content:     raw.Content,
			ContentHash: raw.ContentHash,
			Metadata:    raw.Metadata,
		}
		if err := o.deps.Phase.PersistArtifact(ctx, runID, a); err != nil {
			return fmt.Errorf("persist artifact %s: %w", raw.SourceURL, err)
		}
	}

	if err := o.deps.RunSM.Advance(ctx, runID, model.RunStatusGeneratingTasks); err != nil {
		return err
	}
	tasks := generateTasks(run, result)
	if err := o.deps.Store.PersistTasks(ctx, tasks); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}

	workers := expandWorkers(run.Config)
	ensured, err := o.deps.Store.EnsureRunWorkers(ctx, runID, workers)
	if err != nil {
		return fmt.Errorf("provision workers: %w", err)
	}
	for _, w := range ensured {
		if _, err := o.deps.Events.Append(ctx, runID, eventlog.EventWorkerStarted, eventlog.Payload{Data: map[string]string{"workerId": w.ID, "label": w.WorkerLabel}}); err != nil {
			o.log.WithRunID(runID).WithError(err).Warn("emit worker.started")
		}
	}

	if err := o.deps.RunSM.Advance(ctx, runID, model.RunStatusRunning); err != nil {
		return err
	}
	baselineTotals, baselineEvals, _, err := o.deps.Phase.RunBaseline(ctx, run, tasks, ensured)
	if err != nil {
		return fmt.Errorf("baseline phase: %w", err)
	}

	if err := o.deps.RunSM.Advance(ctx, runID, model.RunStatusEvaluating); err != nil {
		return err
	}
	session, err := o.deps.Phase.RunOptimization(ctx, run, tasks, ensured, baselineTotals, baselineEvals)
	if err != nil {
		return fmt.Errorf("optimization branch: %w", err)
	}

	finalTotals := baselineTotals
	if session != nil && session.OptimizedTotals != nil {
		finalTotals = *session.OptimizedTotals
	}
	return o.deps.RunSM.Finalize(ctx, runID, model.RunStatusCompleted, &finalTotals)
}

// fail implements §4.11's outer error boundary: any error reaching
// here is a RUN_FATAL, recorded as a run error, with the run finalized
// as failed.
func (o *Orchestrator) fail(ctx context.Context, runID string, cause error) {
	rlog := o.log.WithRunID(runID)
	rlog.RunLog("failed_fatally", runID, "error", cause.Error())
	if err := o.deps.Store.PersistRunError(ctx, &model.RunError{
		ID:        storage.NewID("err"),
		RunID:     runID,
		Code:      "RUN_FATAL",
		Message:   cause.Error(),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		rlog.WithError(err).Error("persist run error")
	}
	if err := o.deps.RunSM.Finalize(ctx, runID, model.RunStatusFailed, nil); err != nil {
		rlog.WithError(err).Error("finalize failed run")
	}
}

// expandWorkers turns RunConfig's assignment table into concrete
// Worker rows, one per unit of quantity, labeled deterministically so
// a re-provision call (EnsureRunWorkers is idempotent) is stable.
func expandWorkers(cfg model.RunConfig) []model.Worker {
	var workers []model.Worker
	n := 0
	for _, a := range cfg.Assignments {
		for i := 0; i < a.Quantity; i++ {
			n++
			workers = append(workers, model.Worker{
				ID:            storage.NewID("worker"),
				WorkerLabel:   fmt.Sprintf("worker-%d", n),
				ModelProvider: a.Provider,
				ModelName:     a.Model,
				ModelConfig:   a.Overrides,
				Status:        model.WorkerStatusIdle,
			})
		}
	}
	if len(workers) == 0 {
		workers = append(workers, model.Worker{
			ID:            storage.NewID("worker"),
			WorkerLabel:   "worker-1",
			ModelProvider: "default",
			ModelName:     cfg.RunModel,
			Status:        model.WorkerStatusIdle,
		})
	}
	return workers
}

var headingRe = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)

// generateTasks builds the task set the baseline and optimized phases
// both execute: every user-defined task, one heading-derived task per
// distinct level-1 to level-3 heading found in the ingested pages
// (capped), and
// a small fixed template set, all capped at cfg.MaxTasks.
func generateTasks(run *model.Run, result ingestor.Result) []model.Task {
	var tasks []model.Task

	for _, ut := range run.Config.UserTasks {
		tasks = append(tasks, model.Task{
			ID:              storage.NewID("task"),
			RunID:           run.ID,
			Name:            ut.Name,
			Description:     ut.Description,
			Category:        valueOr(ut.Category, "user_defined"),
			Difficulty:      ut.Difficulty,
			ExpectedSignals: ut.ExpectedSignals,
			Status:          model.TaskStatusPending,
		})
	}

	seen := map[string]struct{}{}
	for _, a := range result.Artifacts {
		if len(tasks) >= run.Config.MaxTasks {
			break
		}
		for _, h := range headingRe.FindAllStringSubmatch(a.Content, -1) {
			heading := strings.TrimSpace(h[1])
			if heading == "" {
				continue
			}
			key := strings.ToLower(heading)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			tasks = append(tasks, model.Task{
				ID:              storage.NewID("task"),
				RunID:           run.ID,
				Name:            "Implement: " + heading,
				Description:     fmt.Sprintf("Using only the documentation, implement the workflow described under %q and explain each step.", heading),
				Category:        "heading_derived",
				ExpectedSignals: []string{heading},
				Status:          model.TaskStatusPending,
			})
			if len(tasks) >= run.Config.MaxTasks {
				break
			}
		}
	}

	templates := []struct{ name, description string }{
		{"Quick start", fmt.Sprintf("Write a step-by-step quick-start guide for a new user of %s, grounded only in its documentation.", run.DocsURL)},
		{"Troubleshooting", "Diagnose and describe the fix for the most commonly documented error condition, citing the relevant page."},
		{"Configuration reference", "Summarize every required and optional configuration option documented, with defaults."},
	}
	for _, t := range templates {
		if len(tasks) >= run.Config.MaxTasks {
			break
		}
		tasks = append(tasks, model.Task{
			ID:          storage.NewID("task"),
			RunID:       run.ID,
			Name:        t.name,
			Description: t.description,
			Category:    "template",
			Status:      model.TaskStatusPending,
		})
	}

	if run.Config.MaxTasks > 0 && len(tasks) > run.Config.MaxTasks {
		tasks = tasks[:run.Config.MaxTasks]
	}
	return tasks
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
