// Package phase implements the Phase Executor (C9): the baseline run,
// the optional skill-optimization branch, and the retrieval index
// rebuild between them.
//
// Grounded on the teacher's Executor.checkAndExecuteRuns/executeRun
// orchestration shape (internal/executor/executor.go) — a top-level
// driver that runs one phase to completion, persists its outputs, and
// only then decides whether a second pass is warranted.
package phase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"docseval/internal/aggregate"
	"docseval/internal/blob"
	"docseval/internal/eventlog"
	"docseval/internal/model"
	"docseval/internal/modelclient"
	"docseval/internal/retrieval"
	"docseval/internal/storage"
	"docseval/internal/workerpool"
	"docseval/pkg/logging"
)

// Deps are the collaborators the Phase Executor needs.
type Deps struct {
	Store  storage.Store
	Events *eventlog.Log
	Client modelclient.Client
	Blob   blob.Store
	Pool   *workerpool.Pool
	Logger *logging.Logger
}

// Executor drives both the baseline phase and the optional
// optimization branch for one run.
type Executor struct {
	deps Deps
	log  *logging.Logger
}

// New constructs an Executor.
func New(deps Deps) *Executor {
	l := deps.Logger
	if l == nil {
		l = logging.Default("phase")
	}
	return &Executor{deps: deps, log: l}
}

// BuildIndex chunks every persisted artifact (resolving blob-backed
// content first) into one Retrieval Index. Called once for the
// baseline phase and again, over the re-derived artifact set, for the
// optimization branch, per §4.2's "the index is phase-scoped" rule.
func (e *Executor) BuildIndex(ctx context.Context, runID string) (*retrieval.Index, error) {
	artifacts, err := e.deps.Store.ListArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}

	var chunks []retrieval.Chunk
	for _, a := range artifacts {
		content, err := e.resolveContent(ctx, a)
		if err != nil {
			e.log.WithRunID(runID).WithError(err).Warn("resolve artifact content", "artifact_id", a.ID)
			continue
		}
		chunks = append(chunks, retrieval.ChunkArtifact(a.SourceURL, content)...)
	}
	return retrieval.NewIndex(chunks), nil
}

func (e *Executor) resolveContent(ctx context.Context, a model.Artifact) (string, error) {
	if a.Content != "" {
		return a.Content, nil
	}
	if a.ObjectKey == "" {
		return "", nil
	}
	r, err := e.deps.Blob.Download(ctx, a.ObjectKey)
	if err != nil {
		return "", err
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PersistArtifact stores one artifact row, writing the body to blob
// storage instead of inline content once it exceeds
// blob.InlineThresholdBytes, per §6.4's inline/object-storage split.
func (e *Executor) PersistArtifact(ctx context.Context, runID string, a model.Artifact) error {
	if len(a.Content) > blob.InlineThresholdBytes {
		key := blob.KeyForHash(runID, a.ContentHash)
		if err := e.deps.Blob.Upload(ctx, key, strings.NewReader(a.Content), int64(len(a.Content)), "text/plain"); err != nil {
			return err
		}
		a.ObjectKey = key
		a.Content = ""
	}
	return e.deps.Store.PersistIngestionArtifacts(ctx, runID, []model.Artifact{a})
}

// RunBaseline runs the baseline phase: build the retrieval index over
// every ingested artifact, drive the Worker Pool across every task,
// and aggregate totals.
func (e *Executor) RunBaseline(ctx context.Context, run *model.Run, tasks []model.Task, workers []model.Worker) (model.RunTotals, []model.TaskEvaluation, *retrieval.Index, error) {
	idx, err := e.BuildIndex(ctx, run.ID)
	if err != nil {
		return model.RunTotals{}, nil, nil, err
	}

	evals, err := e.deps.Pool.Run(ctx, run.ID, model.PhaseBaseline, tasks, workers, idx, run.Config)
	if err != nil {
		return model.RunTotals{}, nil, nil, err
	}

	return aggregate.Totals(evals), evals, idx, nil
}

// optimizedSkillResult is the parsed output of the skill-generation
// model call.
type optimizedSkillResult struct {
	OptimizedSkillMarkdown string   `json:"optimizedSkillMarkdown"`
	OptimizationNotes      []string `json:"optimizationNotes"`
}

var skillSchema = json.RawMessage(`{
	"type": "object",
	"required": ["optimizedSkillMarkdown", "optimizationNotes"],
	"properties": {
		"optimizedSkillMarkdown": {"type": "string"},
		"optimizationNotes": {"type": "array", "items": {"type": "string"}}
	}
}`)

// RunOptimization implements the §4.9 optimization branch: skip it
// when disabled or there are no baseline failures, otherwise generate
// an optimized skill document, rebuild the artifact set and retrieval
// index around it, re-run every task, and compute the delta.
func (e *Executor) RunOptimization(ctx context.Context, run *model.Run, tasks []model.Task, workers []model.Worker, baselineTotals model.RunTotals, baselineEvals []model.TaskEvaluation) (*model.SkillOptimizationSession, error) {
	session := &model.SkillOptimizationSession{RunID: run.ID}

	hasFailures := baselineTotals.FailedTasks > 0
	if !run.Config.EnableSkillOptimization || !hasFailures {
		session.Status = model.SkillSessionStatusSkipped
		session.BaselineTotals = &baselineTotals
		session.OptimizedTotals = &baselineTotals
		if err := e.deps.Store.CreateSkillSession(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	}

	session.Status = model.SkillSessionStatusRunning
	if err := e.deps.Store.CreateSkillSession(ctx, session); err != nil {
		return nil, err
	}
	rlog := e.log.WithRunID(run.ID)
	if _, err := e.deps.Events.Append(ctx, run.ID, eventlog.EventSkillOptimizationStarted, eventlog.Payload{}); err != nil {
		rlog.WithError(err).Warn("emit skill_optimization.started")
	}

	existingSkill, origin := e.existingSiteSkill(ctx, run.ID)
	session.SourceSkillOrigin = origin

	optimized, err := e.generateOptimizedSkill(ctx, run, existingSkill, baselineEvals)
	if err != nil {
		session.Status = model.SkillSessionStatusError
		session.ErrorMessage = err.Error()
		session.BaselineTotals = &baselineTotals
		session.OptimizedTotals = &baselineTotals
		if uerr := e.deps.Store.UpdateSkillSession(ctx, session); uerr != nil {
			return nil, uerr
		}
		if _, perr := e.deps.Events.Append(ctx, run.ID, eventlog.EventSkillOptimizationError, eventlog.Payload{Message: err.Error()}); perr != nil {
			rlog.WithError(perr).Warn("emit skill_optimization.error")
		}
		return session, nil
	}

	hash := sha256.Sum256([]byte(optimized.OptimizedSkillMarkdown))
	skillArtifact := model.Artifact{
		ID:          storage.NewID("artifact"),
		RunID:       run.ID,
		Type:        model.ArtifactTypeOptimizedSkill,
		SourceURL:   "generated://optimized-skill",
		Content:     optimized.OptimizedSkillMarkdown,
		ContentHash: hex.EncodeToString(hash[:]),
	}
	if err := e.deps.Store.ReplaceSkillArtifact(ctx, run.ID, skillArtifact); err != nil {
		return nil, err
	}

	idx, err := e.BuildIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	optimizedEvals, err := e.deps.Pool.Run(ctx, run.ID, model.PhaseOptimized, tasks, workers, idx, run.Config)
	if err != nil {
		return nil, err
	}
	optimizedTotals := aggregate.Totals(optimizedEvals)
	delta := aggregate.Delta(baselineTotals, optimizedTotals)

	session.Status = model.SkillSessionStatusCompleted
	session.BaselineTotals = &baselineTotals
	session.OptimizedTotals = &optimizedTotals
	session.Delta = &delta
	if err := e.deps.Store.UpdateSkillSession(ctx, session); err != nil {
		return nil, err
	}
	if _, err := e.deps.Events.Append(ctx, run.ID, eventlog.EventSkillOptimizationCompleted, eventlog.Payload{Data: delta}); err != nil {
		rlog.WithError(err).Warn("emit skill_optimization.completed")
	}

	return session, nil
}

func (e *Executor) existingSiteSkill(ctx context.Context, runID string) (string, model.SkillOrigin) {
	artifacts, err := e.deps.Store.ListArtifacts(ctx, runID)
	if err != nil {
		return "", model.SkillOriginNone
	}
	for _, a := range artifacts {
		if a.Type == model.ArtifactTypeSkill {
			content, err := e.resolveContent(ctx, a)
			if err != nil {
				return "", model.SkillOriginNone
			}
			return content, model.SkillOriginSite
		}
	}
	return "", model.SkillOriginNone
}

func (e *Executor) generateOptimizedSkill(ctx context.Context, run *model.Run, existingSkill string, failed []model.TaskEvaluation) (optimizedSkillResult, error) {
	var failuresJSON bytes.Buffer
	failuresJSON.WriteString("[")
	first := true
	for _, ev := range failed {
		if ev.Pass {
			continue
		}
		if !first {
			failuresJSON.WriteString(",")
		}
		first = false
		fc := ""
		if ev.FailureClass != nil {
			fc = string(*ev.FailureClass)
		}
		b, _ := json.Marshal(map[string]any{
			"taskId":       ev.TaskID,
			"rationale":    ev.Rationale,
			"scores":       ev.CriterionScores,
			"failureClass": fc,
		})
		failuresJSON.Write(b)
	}
	failuresJSON.WriteString("]")

	messages := []modelclient.Message{
		{Role: "system", Content: "You write an agent skill document that helps a documentation agent avoid the listed failures. Respond with sections: # Purpose, # Retrieval Strategy, # Critical Workflows, # Failure Prevention, # Verification Checklist."},
		{Role: "user", Content: fmt.Sprintf("Docs URL: %s\nExisting site skill:\n%s\n\nFailed evaluations:\n%s", run.DocsURL, existingSkill, failuresJSON.String())},
	}
	res, err := e.deps.Client.CompleteJSON(ctx, modelclient.Config{Model: run.Config.RunModel}, messages, skillSchema)
	if err != nil {
		return optimizedSkillResult{}, err
	}
	var out optimizedSkillResult
	if err := json.Unmarshal(res.Parsed, &out); err != nil {
		return optimizedSkillResult{}, err
	}
	return out, nil
}
