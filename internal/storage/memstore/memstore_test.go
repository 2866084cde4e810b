package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/model"
	"docseval/internal/storage"
)

func TestCreateAndGetRun(t *testing.T) {
	s := New()
	ctx := context.Background()
	run := &model.Run{ID: "run-1", DocsURL: "https://docs.example.com", Status: model.RunStatusQueued}

	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com", got.DocsURL)

	// mutating the returned copy must not affect the stored run
	got.DocsURL = "mutated"
	again, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com", again.DocsURL)
}

func TestGetRunNotFound(t *testing.T) {
	s := New()
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIncrementRunCostAccumulates(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusQueued}))

	total, err := s.IncrementRunCost(ctx, "run-1", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, total, 1e-9)

	total, err = s.IncrementRunCost(ctx, "run-1", 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9)
}

func TestIsRunCanceled(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusRunning}))

	canceled, err := s.IsRunCanceled(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, canceled)

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", model.RunStatusCanceled))
	canceled, err = s.IsRunCanceled(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, canceled)
}

func TestEnsureRunWorkersIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	first, err := s.EnsureRunWorkers(ctx, "run-1", []model.Worker{
		{ID: "w1", WorkerLabel: "worker-1"},
		{ID: "w2", WorkerLabel: "worker-2"},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, model.WorkerStatusIdle, first[0].Status)

	second, err := s.EnsureRunWorkers(ctx, "run-1", []model.Worker{
		{ID: "w3", WorkerLabel: "worker-3"},
	})
	require.NoError(t, err)
	require.Len(t, second, 2, "a second call must return the existing rows, not provision new ones")
	assert.Equal(t, "w1", second[0].ID)
}

func TestPersistTasksPreservesInsertionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PersistTasks(ctx, []model.Task{
		{ID: "t1", RunID: "run-1", Name: "first"},
		{ID: "t2", RunID: "run-1", Name: "second"},
	}))

	tasks, err := s.ListTasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "t2", tasks[1].ID)
}

func TestAppendAndReadRunEventsCursorsByID(t *testing.T) {
	s := New()
	ctx := context.Background()

	id1, err := s.AppendRunEvent(ctx, "run-1", "run.queued", []byte(`{}`))
	require.NoError(t, err)
	id2, err := s.AppendRunEvent(ctx, "run-1", "run.ingesting", []byte(`{}`))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	events, err := s.GetRunEventsAfter(ctx, "run-1", id1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "run.ingesting", events[0].EventType)
	assert.Equal(t, 2, events[0].Seq)
}

func TestPersistTaskEvaluationAndList(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTaskExecution(ctx, &model.TaskExecution{
		ID: "exec-1", TaskID: "t1", RunID: "run-1", Phase: model.PhaseBaseline,
	}))
	require.NoError(t, s.PersistTaskEvaluation(ctx, &model.TaskEvaluation{
		TaskID: "t1", RunID: "run-1", Phase: model.PhaseBaseline, Pass: true,
	}))

	evals, err := s.ListTaskEvaluations(ctx, "run-1", model.PhaseBaseline)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.True(t, evals[0].Pass)
}

func TestReplaceSkillArtifactSwapsType(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PersistIngestionArtifacts(ctx, "run-1", []model.Artifact{
		{ID: "a1", RunID: "run-1", Type: model.ArtifactTypeSkill, SourceURL: "skill.md"},
		{ID: "a2", RunID: "run-1", Type: model.ArtifactTypePage, SourceURL: "page.md"},
	}))

	require.NoError(t, s.ReplaceSkillArtifact(ctx, "run-1", model.Artifact{ID: "a3", RunID: "run-1", SourceURL: "optimized.md"}))

	artifacts, err := s.ListArtifacts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	for _, a := range artifacts {
		assert.NotEqual(t, model.ArtifactTypeSkill, a.Type)
	}
}
