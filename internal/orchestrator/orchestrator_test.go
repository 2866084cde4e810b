package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/agentloop"
	"docseval/internal/eventlog"
	"docseval/internal/ingestor"
	"docseval/internal/judge"
	"docseval/internal/model"
	"docseval/internal/modelclient"
	"docseval/internal/phase"
	"docseval/internal/runsm"
	"docseval/internal/storage/memstore"
	"docseval/internal/workerpool"
)

type nopBlob struct{}

func (nopBlob) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return nil
}
func (nopBlob) Download(ctx context.Context, key string) (io.ReadCloser, error) { return nil, nil }
func (nopBlob) Exists(ctx context.Context, key string) (bool, error)            { return false, nil }
func (nopBlob) Delete(ctx context.Context, key string) error                   { return nil }

func jsonMsg(t *testing.T, v any) modelclient.JSONResult {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return modelclient.JSONResult{Parsed: b}
}

func buildOrchestrator(t *testing.T, client *modelclient.Fake) (*Orchestrator, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	events := eventlog.New(store, nil)
	j := judge.New(client)
	pool := workerpool.New(workerpool.Deps{Store: store, Events: events, Client: client, Judge: j})
	phaseExecutor := phase.New(phase.Deps{Store: store, Events: events, Client: client, Blob: nopBlob{}, Pool: pool})
	machine := runsm.New(store, events)
	crawler := &ingestor.Fake{Artifacts: []ingestor.RawArtifact{
		{ArtifactType: "page", SourceURL: "https://docs.example.com/install", Content: "Install the tool and run it."},
	}}
	o := New(Deps{Store: store, Events: events, Ingestor: crawler, Phase: phaseExecutor, RunSM: machine})
	return o, store
}

func testRunConfig() model.RunConfig {
	return model.RunConfig{
		MaxTasks:             1,
		ExecutionConcurrency: 1,
		JudgeConcurrency:     1,
		MaxStepsPerTask:      5,
		MaxTokensPerTask:     100000,
		HardCostCapUSD:       100,
		UserTasks: []model.UserTask{
			{Name: "Install", Description: "Install the tool"},
		},
	}
}

func driveAndWait(t *testing.T, o *Orchestrator, store *memstore.Store, runID string) *model.Run {
	t.Helper()
	started := o.StartRunInBackground(runID)
	require.True(t, started)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetRun(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status in time")
	return nil
}

func TestDriveRunsBaselineToCompletion(t *testing.T) {
	client := &modelclient.Fake{JSONResponses: []modelclient.JSONResult{
		jsonMsg(t, agentloop.PlanResult{PlanItems: []string{"install it"}}),
		jsonMsg(t, agentloop.ActResult{Answer: "run the installer", StepOutput: "done", Done: true}),
		jsonMsg(t, agentloop.ReflectResult{ShouldContinue: false, Summary: "done"}),
		jsonMsg(t, judge.AlignmentResult{IsSupportedByEvidence: true}),
		jsonMsg(t, judge.RubricResult{Scores: model.CriterionScores{Completeness: 9, Correctness: 9, Groundedness: 9, Actionability: 9}}),
	}}
	o, store := buildOrchestrator(t, client)
	ctx := context.Background()
	cfg := testRunConfig()
	cfg.EnableSkillOptimization = false
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", DocsURL: "https://docs.example.com", Status: model.RunStatusQueued, Config: cfg}))

	run := driveAndWait(t, o, store, "run-1")
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	require.NotNil(t, run.Totals)
	assert.Equal(t, 1, run.Totals.TotalTasks)

	tasks, err := store.ListTasks(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	artifacts, err := store.ListArtifacts(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestStartRunInBackgroundRejectsDuplicateStart(t *testing.T) {
	client := &modelclient.Fake{}
	o, store := buildOrchestrator(t, client)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusQueued}))

	o.claim("run-1")
	started := o.StartRunInBackground("run-1")
	assert.False(t, started)
	o.release("run-1")
}

func TestDriveIsANoOpForAnAlreadyTerminalRun(t *testing.T) {
	client := &modelclient.Fake{}
	o, store := buildOrchestrator(t, client)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1", Status: model.RunStatusCompleted}))

	require.NoError(t, o.drive(ctx, "run-1"))
	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
}

func TestGenerateTasksDerivesHeadingTasksAndAppliesCap(t *testing.T) {
	run := &model.Run{ID: "run-1", DocsURL: "https://docs.example.com", Config: model.RunConfig{MaxTasks: 2}}
	result := ingestor.Result{Artifacts: []ingestor.RawArtifact{
		{Content: "# Getting Started\nSome text\n## Advanced Usage\nMore text"},
	}}

	tasks := generateTasks(run, result)
	assert.Len(t, tasks, 2)
	assert.Equal(t, "Implement: Getting Started", tasks[0].Name)
}

func TestGenerateTasksIncludesUserTasksFirst(t *testing.T) {
	run := &model.Run{ID: "run-1", Config: model.RunConfig{
		MaxTasks:  5,
		UserTasks: []model.UserTask{{Name: "Custom task", Description: "do it"}},
	}}
	tasks := generateTasks(run, ingestor.Result{})
	require.NotEmpty(t, tasks)
	assert.Equal(t, "Custom task", tasks[0].Name)
	assert.Equal(t, "user_defined", tasks[0].Category)
}
