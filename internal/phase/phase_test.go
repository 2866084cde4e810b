package phase

import (
	"context"
	"encoding/json"
	"io"
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
	"docseval/internal/workerpool"
)

type nopBlob struct{}

func (nopBlob) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return nil
}
func (nopBlob) Download(ctx context.Context, key string) (io.ReadCloser, error) { return nil, nil }
func (nopBlob) Exists(ctx context.Context, key string) (bool, error)            { return false, nil }
func (nopBlob) Delete(ctx context.Context, key string) error                    { return nil }

func jsonMsg(t *testing.T, v any) modelclient.JSONResult {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return modelclient.JSONResult{Parsed: b}
}

func buildExecutor(t *testing.T, client *modelclient.Fake) (*Executor, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	events := eventlog.New(store, nil)
	j := judge.New(client)
	pool := workerpool.New(workerpool.Deps{Store: store, Events: events, Client: client, Judge: j})
	return New(Deps{Store: store, Events: events, Client: client, Blob: nopBlob{}, Pool: pool}), store
}

func testConfig() model.RunConfig {
	return model.RunConfig{
		ExecutionConcurrency:   1,
		JudgeConcurrency:       1,
		MaxStepsPerTask:        5,
		MaxTokensPerTask:       100000,
		HardCostCapUSD:         100,
		EnableSkillOptimization: true,
	}
}

func failingAttemptResponses(t *testing.T) []modelclient.JSONResult {
	return []modelclient.JSONResult{
		jsonMsg(t, agentloop.PlanResult{PlanItems: []string{"look around"}}),
		jsonMsg(t, agentloop.ActResult{Answer: "no answer available", StepOutput: "unable to find it", Done: true}),
		jsonMsg(t, agentloop.ReflectResult{ShouldContinue: false, Summary: "gave up"}),
		jsonMsg(t, judge.AlignmentResult{IsSupportedByEvidence: false, UnsupportedClaims: []string{"missing"}}),
		jsonMsg(t, judge.RubricResult{Scores: model.CriterionScores{Completeness: 2, Correctness: 2, Groundedness: 2, Actionability: 2}, Rationale: "no example provided"}),
	}
}

func TestBuildIndexChunksEveryPersistedArtifact(t *testing.T) {
	e, store := buildExecutor(t, &modelclient.Fake{})
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &model.Run{ID: "run-1"}))
	require.NoError(t, e.PersistArtifact(ctx, "run-1", model.Artifact{ID: "a1", RunID: "run-1", SourceURL: "https://docs.example.com/install", Content: "Install the tool.\n\nRun it with the api key."}))

	idx, err := e.BuildIndex(ctx, "run-1")
	require.NoError(t, err)
	assert.NotEmpty(t, idx.Chunks())
}

func TestRunBaselineAggregatesTotals(t *testing.T) {
	chunk := retrieval.ChunkArtifact("https://docs.example.com/install", "Install the tool.")[0]
	client := &modelclient.Fake{JSONResponses: []modelclient.JSONResult{
		jsonMsg(t, agentloop.PlanResult{PlanItems: []string{"install it"}}),
		jsonMsg(t, agentloop.ActResult{Answer: "run the installer", StepOutput: "done", Done: true,
			Citations: []agentloop.ActCitation{{Source: chunk.SourceURL, SnippetHash: chunk.SnippetHash, Excerpt: chunk.Text}}}),
		jsonMsg(t, agentloop.ReflectResult{ShouldContinue: false, Summary: "done"}),
		jsonMsg(t, judge.AlignmentResult{IsSupportedByEvidence: true}),
		jsonMsg(t, judge.RubricResult{Scores: model.CriterionScores{Completeness: 9, Correctness: 9, Groundedness: 9, Actionability: 9}}),
	}}
	e, store := buildExecutor(t, client)
	ctx := context.Background()
	run := &model.Run{ID: "run-1", Config: testConfig()}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NoError(t, e.PersistArtifact(ctx, "run-1", model.Artifact{ID: "a1", RunID: "run-1", SourceURL: "https://docs.example.com/install", Content: "Install the tool."}))

	task := model.Task{ID: "t1", RunID: "run-1", Name: "Install"}
	worker := model.Worker{ID: "w1", RunID: "run-1", WorkerLabel: "w1"}

	totals, evals, idx, err := e.RunBaseline(ctx, run, []model.Task{task}, []model.Worker{worker})
	require.NoError(t, err)
	require.NotNil(t, idx)
	require.Len(t, evals, 1)
	assert.Equal(t, 1, totals.TotalTasks)
	assert.Equal(t, 1, totals.PassedTasks)
}

func TestRunOptimizationSkipsWhenDisabled(t *testing.T) {
	e, store := buildExecutor(t, &modelclient.Fake{})
	ctx := context.Background()
	run := &model.Run{ID: "run-1", Config: model.RunConfig{EnableSkillOptimization: false}}
	require.NoError(t, store.CreateRun(ctx, run))

	session, err := e.RunOptimization(ctx, run, nil, nil, model.RunTotals{TotalTasks: 1, FailedTasks: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SkillSessionStatusSkipped, session.Status)
}

func TestRunOptimizationSkipsWhenNoBaselineFailures(t *testing.T) {
	e, store := buildExecutor(t, &modelclient.Fake{})
	ctx := context.Background()
	run := &model.Run{ID: "run-1", Config: testConfig()}
	require.NoError(t, store.CreateRun(ctx, run))

	session, err := e.RunOptimization(ctx, run, nil, nil, model.RunTotals{TotalTasks: 1, FailedTasks: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SkillSessionStatusSkipped, session.Status)
}

func TestRunOptimizationGeneratesSkillAndRebuildsIndex(t *testing.T) {
	baselineFailure := model.TaskEvaluation{TaskID: "t1", RunID: "run-1", Pass: false, Rationale: "no example provided"}

	skillMarkdown := "# Purpose\n...\n# Retrieval Strategy\n...\n# Critical Workflows\n...\n# Failure Prevention\n...\n# Verification Checklist\n..."
	skillChunk := retrieval.ChunkArtifact("generated://optimized-skill", skillMarkdown)[0]
	optimizeCall := jsonMsg(t, map[string]any{
		"optimizedSkillMarkdown": skillMarkdown,
		"optimizationNotes":      []string{"cover the missing example"},
	})
	client := &modelclient.Fake{JSONResponses: append([]modelclient.JSONResult{optimizeCall},
		[]modelclient.JSONResult{
			jsonMsg(t, agentloop.PlanResult{PlanItems: []string{"use the example"}}),
			jsonMsg(t, agentloop.ActResult{Answer: "here is the example", StepOutput: "done", Done: true,
				Citations: []agentloop.ActCitation{{Source: skillChunk.SourceURL, SnippetHash: skillChunk.SnippetHash, Excerpt: skillChunk.Text}}}),
			jsonMsg(t, agentloop.ReflectResult{ShouldContinue: false, Summary: "done"}),
			jsonMsg(t, judge.AlignmentResult{IsSupportedByEvidence: true}),
			jsonMsg(t, judge.RubricResult{Scores: model.CriterionScores{Completeness: 9, Correctness: 9, Groundedness: 9, Actionability: 9}}),
		}...)}

	e, store := buildExecutor(t, client)
	ctx := context.Background()
	run := &model.Run{ID: "run-1", DocsURL: "https://docs.example.com", Config: testConfig()}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NoError(t, e.PersistArtifact(ctx, "run-1", model.Artifact{ID: "a1", RunID: "run-1", Type: model.ArtifactTypeSkill, SourceURL: "https://docs.example.com/skill", Content: "old skill"}))

	task := model.Task{ID: "t1", RunID: "run-1", Name: "Install"}
	worker := model.Worker{ID: "w1", RunID: "run-1", WorkerLabel: "w1"}

	session, err := e.RunOptimization(ctx, run, []model.Task{task}, []model.Worker{worker}, model.RunTotals{TotalTasks: 1, FailedTasks: 1}, []model.TaskEvaluation{baselineFailure})
	require.NoError(t, err)
	assert.Equal(t, model.SkillSessionStatusCompleted, session.Status)
	require.NotNil(t, session.OptimizedTotals)
	assert.Equal(t, 1, session.OptimizedTotals.PassedTasks)
	require.NotNil(t, session.Delta)

	artifacts, err := store.ListArtifacts(ctx, "run-1")
	require.NoError(t, err)
	var sawOptimized, sawOldSkill bool
	for _, a := range artifacts {
		if a.Type == model.ArtifactTypeOptimizedSkill {
			sawOptimized = true
		}
		if a.Type == model.ArtifactTypeSkill {
			sawOldSkill = true
		}
	}
	assert.True(t, sawOptimized)
	assert.False(t, sawOldSkill)
}

func TestRunOptimizationRecordsErrorAndFallsBackToBaselineTotals(t *testing.T) {
	e, store := buildExecutor(t, &modelclient.Fake{}) // no scripted responses -> CompleteJSON returns "{}" -> empty markdown
	ctx := context.Background()
	run := &model.Run{ID: "run-1", Config: testConfig()}
	require.NoError(t, store.CreateRun(ctx, run))

	e.deps.Client = failingClient{}
	baselineTotals := model.RunTotals{TotalTasks: 1, FailedTasks: 1}

	session, err := e.RunOptimization(ctx, run, nil, nil, baselineTotals, []model.TaskEvaluation{{TaskID: "t1", Pass: false}})
	require.NoError(t, err)
	assert.Equal(t, model.SkillSessionStatusError, session.Status)
	assert.NotEmpty(t, session.ErrorMessage)
	require.NotNil(t, session.OptimizedTotals)
	assert.Equal(t, baselineTotals, *session.OptimizedTotals)
}

type failingClient struct{}

func (failingClient) CompleteText(ctx context.Context, cfg modelclient.Config, messages []modelclient.Message) (modelclient.TextResult, error) {
	return modelclient.TextResult{}, assert.AnError
}

func (failingClient) CompleteJSON(ctx context.Context, cfg modelclient.Config, messages []modelclient.Message, schema json.RawMessage) (modelclient.JSONResult, error) {
	return modelclient.JSONResult{}, assert.AnError
}
