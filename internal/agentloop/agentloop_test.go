package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/budget"
	"docseval/internal/eventlog"
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
		{SourceURL: "https://docs.example.com/install", SnippetHash: "hash1", Text: "install instructions here"},
	})
}

func testDeps(t *testing.T, client *modelclient.Fake, store *memstore.Store, runID string) Deps {
	t.Helper()
	cfg := model.RunConfig{MaxStepsPerTask: 5, MaxTokensPerTask: 100000, HardCostCapUSD: 100}
	return Deps{
		Client:     client,
		Index:      testIndex(),
		Accountant: budget.New(store, runID, cfg),
		Store:      store,
		Events:     eventlog.New(store, nil),
		Model:      "test-model",
	}
}

func TestRunStopsOnActDoneWithCompletedReason(t *testing.T) {
	client := &modelclient.Fake{JSONResponses: []modelclient.JSONResult{
		jsonMsg(t, PlanResult{PlanItems: []string{"install it"}}),
		jsonMsg(t, ActResult{Answer: "run npm install", StepOutput: "done", Done: true}),
		jsonMsg(t, ReflectResult{ShouldContinue: false, Summary: "finished"}),
	}}
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1"}))
	require.NoError(t, store.CreateTaskExecution(ctx, &model.TaskExecution{ID: "exec-1", TaskID: "t1", RunID: "run-1", Phase: model.PhaseBaseline}))

	loop := New(testDeps(t, client, store, "run-1"))
	task := model.Task{ID: "t1", RunID: "run-1", Name: "install"}
	outcome, err := loop.Run(ctx, task, "exec-1", "run-1", model.RunConfig{MaxStepsPerTask: 5, MaxTokensPerTask: 100000, HardCostCapUSD: 100})

	require.NoError(t, err)
	assert.Equal(t, model.StopReasonCompleted, outcome.StopReason)
	assert.Equal(t, "run npm install", outcome.Answer)
}

func TestRunStopsWhenReflectRequestsHalt(t *testing.T) {
	// The reflect override forces another iteration while stepIndex < 2,
	// so the halt request only takes effect on the third iteration.
	responses := []modelclient.JSONResult{}
	for i := 0; i < 3; i++ {
		responses = append(responses,
			jsonMsg(t, PlanResult{PlanItems: []string{"step"}}),
			jsonMsg(t, ActResult{Answer: "partial answer with citation", Done: false,
				Citations: []ActCitation{{Source: "https://docs.example.com/install", SnippetHash: "hash1"}}}),
			jsonMsg(t, ReflectResult{ShouldContinue: false, StopReason: "cannot find further detail", Summary: "s"}),
		)
	}
	client := &modelclient.Fake{JSONResponses: responses}
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1"}))
	require.NoError(t, store.CreateTaskExecution(ctx, &model.TaskExecution{ID: "exec-1", TaskID: "t1", RunID: "run-1", Phase: model.PhaseBaseline}))

	loop := New(testDeps(t, client, store, "run-1"))
	task := model.Task{ID: "t1", RunID: "run-1", Name: "install", ExpectedSignals: []string{}}
	cfg := model.RunConfig{MaxStepsPerTask: 10, MaxTokensPerTask: 100000, HardCostCapUSD: 100}
	outcome, err := loop.Run(ctx, task, "exec-1", "run-1", cfg)

	require.NoError(t, err)
	assert.Equal(t, model.StopReasonError, outcome.StopReason)
}

func TestRunStopsOnStepLimitWhenLoopNeverTerminates(t *testing.T) {
	responses := []modelclient.JSONResult{}
	for i := 0; i < 20; i++ {
		responses = append(responses,
			jsonMsg(t, PlanResult{PlanItems: []string{"step"}}),
			jsonMsg(t, ActResult{Answer: "a", Done: false}),
			jsonMsg(t, ReflectResult{ShouldContinue: true, Summary: "s"}),
		)
	}
	client := &modelclient.Fake{JSONResponses: responses}
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1"}))
	require.NoError(t, store.CreateTaskExecution(ctx, &model.TaskExecution{ID: "exec-1", TaskID: "t1", RunID: "run-1", Phase: model.PhaseBaseline}))

	cfg := model.RunConfig{MaxStepsPerTask: 2, MaxTokensPerTask: 100000, HardCostCapUSD: 100}
	deps := testDeps(t, client, store, "run-1")
	deps.Accountant = budget.New(store, "run-1", cfg)
	loop := New(deps)
	task := model.Task{ID: "t1", RunID: "run-1", Name: "install"}
	outcome, err := loop.Run(ctx, task, "exec-1", "run-1", cfg)

	require.NoError(t, err)
	assert.Equal(t, model.StopReasonStepLimit, outcome.StopReason)
}

func TestRunStopsImmediatelyWhenRunIsCanceled(t *testing.T) {
	client := &modelclient.Fake{}
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusCanceled}))

	cfg := model.RunConfig{MaxStepsPerTask: 5, MaxTokensPerTask: 100000, HardCostCapUSD: 100}
	loop := New(testDeps(t, client, store, "run-1"))
	task := model.Task{ID: "t1", RunID: "run-1"}
	outcome, err := loop.Run(ctx, task, "exec-1", "run-1", cfg)

	require.NoError(t, err)
	assert.Equal(t, model.StopReasonCancelled, outcome.StopReason)
}

func TestClassifyReflectStopDetectsErrorKeywords(t *testing.T) {
	assert.Equal(t, model.StopReasonError, classifyReflectStop("unable to locate content"))
	assert.Equal(t, model.StopReasonCompleted, classifyReflectStop("task is fully answered"))
}
