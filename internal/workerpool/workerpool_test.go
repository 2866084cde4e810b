package workerpool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/agentloop"
	"docseval/internal/eventlog"
	"docseval/internal/judge"
	"docseval/internal/model"
	"docseval/internal/modelclient"
	"docseval/internal/retrieval"
	"docseval/internal/storage/memstore"
)

func jsonMsg(t *testing.T, v any) modelclient.JSONResult {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return modelclient.JSONResult{Parsed: b}
}

func testIndex() *retrieval.Index {
	return retrieval.NewIndex([]retrieval.Chunk{
		{SourceURL: "https://docs.example.com/install", SnippetHash: "hash1", Text: "install instructions here with an api key"},
	})
}

func testConfig() model.RunConfig {
	return model.RunConfig{
		ExecutionConcurrency: 2,
		JudgeConcurrency:     1,
		MaxStepsPerTask:      5,
		MaxTokensPerTask:     100000,
		HardCostCapUSD:       100,
	}
}

func buildPool(t *testing.T, client *modelclient.Fake) (*Pool, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	events := eventlog.New(store, nil)
	j := judge.New(client)
	return New(Deps{Store: store, Events: events, Client: client, Judge: j}), store
}

func TestRunProducesOneEvaluationPerTaskAndFinalizesExecutions(t *testing.T) {
	client := &modelclient.Fake{JSONResponses: []modelclient.JSONResult{
		jsonMsg(t, agentloop.PlanResult{PlanItems: []string{"use the api key"}}),
		jsonMsg(t, agentloop.ActResult{
			Answer:     "send the api key in the authorization header",
			StepOutput: "done",
			Done:       true,
			Citations:  []agentloop.ActCitation{{Source: "https://docs.example.com/install", SnippetHash: "hash1", Excerpt: "install instructions"}},
		}),
		jsonMsg(t, agentloop.ReflectResult{ShouldContinue: false, Summary: "finished"}),
		jsonMsg(t, judge.AlignmentResult{IsSupportedByEvidence: true}),
		jsonMsg(t, judge.RubricResult{Scores: model.CriterionScores{Completeness: 9, Correctness: 9, Groundedness: 9, Actionability: 9}}),
	}}
	pool, store := buildPool(t, client)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusRunning}))

	task := model.Task{ID: "t1", RunID: "run-1", Name: "Authenticate", ExpectedSignals: []string{"api key", "authorization header"}}
	require.NoError(t, store.PersistTasks(ctx, []model.Task{task}))
	worker := model.Worker{ID: "w1", RunID: "run-1", WorkerLabel: "w1", ModelName: "test-model"}
	_, err := store.EnsureRunWorkers(ctx, "run-1", []model.Worker{worker})
	require.NoError(t, err)

	evals, err := pool.Run(ctx, "run-1", model.PhaseBaseline, []model.Task{task}, []model.Worker{worker}, testIndex(), testConfig())
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.True(t, evals[0].Pass)

	execs, err := store.ListTaskExecutions(ctx, "run-1", model.PhaseBaseline)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, model.TaskStatusPassed, execs[0].Status)

	workers, err := store.ListWorkers(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, model.WorkerStatusDone, workers[0].Status)

	tasks, err := store.ListTasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusPassed, tasks[0].Status)
}

func TestRunFinalizesExecutionAsFailedWhenEvaluationFails(t *testing.T) {
	client := &modelclient.Fake{JSONResponses: []modelclient.JSONResult{
		jsonMsg(t, agentloop.PlanResult{PlanItems: []string{"look around"}}),
		jsonMsg(t, agentloop.ActResult{Answer: "no answer found", StepOutput: "unable to locate it", Done: true}),
		jsonMsg(t, agentloop.ReflectResult{ShouldContinue: false, Summary: "gave up"}),
		jsonMsg(t, judge.AlignmentResult{IsSupportedByEvidence: true}),
		jsonMsg(t, judge.RubricResult{Scores: model.CriterionScores{Completeness: 9, Correctness: 9, Groundedness: 9, Actionability: 9}}),
	}}
	pool, store := buildPool(t, client)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusRunning}))

	// No citations: guard's citation_presence check fails, so
	// validityBlockedReasons is non-empty and pass=false even though
	// the rubric scores alone would clear the quality threshold.
	task := model.Task{ID: "t1", RunID: "run-1", Name: "Authenticate"}
	require.NoError(t, store.PersistTasks(ctx, []model.Task{task}))
	worker := model.Worker{ID: "w1", RunID: "run-1", WorkerLabel: "w1"}

	evals, err := pool.Run(ctx, "run-1", model.PhaseBaseline, []model.Task{task}, []model.Worker{worker}, testIndex(), testConfig())
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.False(t, evals[0].Pass)

	execs, err := store.ListTaskExecutions(ctx, "run-1", model.PhaseBaseline)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, model.TaskStatusFailed, execs[0].Status, "TaskExecution.status must agree with TaskEvaluation.pass")

	tasks, err := store.ListTasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusFailed, tasks[0].Status)
}

func TestRunCapsConcurrencyAtWorkerCount(t *testing.T) {
	client := &modelclient.Fake{}
	pool, store := buildPool(t, client)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusRunning}))

	worker := model.Worker{ID: "w1", RunID: "run-1", WorkerLabel: "w1"}
	cfg := testConfig()
	cfg.ExecutionConcurrency = 10

	evals, err := pool.Run(ctx, "run-1", model.PhaseBaseline, nil, []model.Worker{worker}, testIndex(), cfg)
	require.NoError(t, err)
	assert.Empty(t, evals)
}

func TestRunSkipsQueuedTasksOnceRunIsCanceled(t *testing.T) {
	client := &modelclient.Fake{}
	pool, store := buildPool(t, client)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusCanceled}))

	task := model.Task{ID: "t1", RunID: "run-1", Name: "Authenticate"}
	require.NoError(t, store.PersistTasks(ctx, []model.Task{task}))
	worker := model.Worker{ID: "w1", RunID: "run-1", WorkerLabel: "w1"}

	evals, err := pool.Run(ctx, "run-1", model.PhaseBaseline, []model.Task{task}, []model.Worker{worker}, testIndex(), testConfig())
	require.NoError(t, err)
	assert.Empty(t, evals)

	tasks, err := store.ListTasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusSkipped, tasks[0].Status)
}

func TestRunSkipsEvaluationWhenCostLimitTrips(t *testing.T) {
	client := &modelclient.Fake{}
	pool, store := buildPool(t, client)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusRunning}))

	task := model.Task{ID: "t1", RunID: "run-1", Name: "Authenticate"}
	require.NoError(t, store.PersistTasks(ctx, []model.Task{task}))
	worker := model.Worker{ID: "w1", RunID: "run-1", WorkerLabel: "w1"}
	cfg := testConfig()
	cfg.HardCostCapUSD = -1 // forces the budget accountant to trip cost_limit before evaluation

	evals, err := pool.Run(ctx, "run-1", model.PhaseBaseline, []model.Task{task}, []model.Worker{worker}, testIndex(), cfg)
	require.NoError(t, err)
	assert.Empty(t, evals)

	tasks, err := store.ListTasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusSkipped, tasks[0].Status)
}
