package mongostore

import (
	"context"

	"docseval/internal/model"
	"docseval/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) CreateTaskExecution(ctx context.Context, exec *model.TaskExecution) error {
	if exec.ID == "" {
		exec.ID = storage.NewID("exec")
	}
	return insertOne(ctx, s.col(colExecutions), exec)
}

func (s *Store) UpdateTaskExecutionProgress(ctx context.Context, execID string, stepCount, tokensIn, tokensOut int, costEstimate float64) error {
	return updateFields(ctx, s.col(colExecutions), execID, bson.D{
		{Key: "stepCount", Value: stepCount},
		{Key: "tokensIn", Value: tokensIn},
		{Key: "tokensOut", Value: tokensOut},
		{Key: "costEstimate", Value: costEstimate},
	})
}

func (s *Store) FinalizeTaskExecution(ctx context.Context, execID string, status model.TaskStatus, stopReason model.StopReason, finalAnswer string) error {
	return updateFields(ctx, s.col(colExecutions), execID, bson.D{
		{Key: "status", Value: status},
		{Key: "stopReason", Value: stopReason},
		{Key: "finalAnswer", Value: finalAnswer},
		{Key: "finishedAt", Value: nowUTC()},
	})
}

func (s *Store) GetTaskExecution(ctx context.Context, execID string) (*model.TaskExecution, error) {
	return findOne[model.TaskExecution](ctx, s.col(colExecutions), bson.D{{Key: "_id", Value: execID}})
}

func (s *Store) ListTaskExecutions(ctx context.Context, runID string, phase model.Phase) ([]model.TaskExecution, error) {
	filter := bson.D{{Key: "runId", Value: runID}, {Key: "phase", Value: phase}}
	return findMany[model.TaskExecution](ctx, s.col(colExecutions), filter, sortByField("startedAt", 1))
}

// UpsertTaskAgentState relies on the same "last writer wins per
// execution" contract as the SQL driver: one writer owns an execution's
// memory row, so a plain ReplaceOne-with-upsert needs no extra locking.
func (s *Store) UpsertTaskAgentState(ctx context.Context, state *model.AgentMemoryState) error {
	opts := upsertReplaceOptions()
	_, err := s.col(colAgentState).ReplaceOne(ctx, bson.D{{Key: "_id", Value: state.TaskExecutionID}}, state, opts)
	return wrapError(err)
}

func (s *Store) GetTaskAgentState(ctx context.Context, execID string) (*model.AgentMemoryState, error) {
	return findOne[model.AgentMemoryState](ctx, s.col(colAgentState), bson.D{{Key: "_id", Value: execID}})
}

func (s *Store) PersistTaskStep(ctx context.Context, step *model.StepTrace) error {
	if step.ID == "" {
		step.ID = storage.NewID("step")
	}
	return insertOne(ctx, s.col(colSteps), step)
}

func (s *Store) PersistTaskStepCitations(ctx context.Context, citations []model.StepCitation) error {
	if len(citations) == 0 {
		return nil
	}
	docs := make([]interface{}, len(citations))
	for i := range citations {
		if citations[i].ID == "" {
			citations[i].ID = storage.NewID("cite")
		}
		docs[i] = citations[i]
	}
	_, err := s.col(colCitations).InsertMany(ctx, docs)
	return wrapError(err)
}

// ListTaskSteps sorts by createdAt, i.e. by insertion time, not by _id.
func (s *Store) ListTaskSteps(ctx context.Context, execID string) ([]model.StepTrace, error) {
	filter := bson.D{{Key: "taskExecutionId", Value: execID}}
	return findMany[model.StepTrace](ctx, s.col(colSteps), filter, sortByField("createdAt", 1))
}

func (s *Store) PersistDeterministicChecks(ctx context.Context, checks []model.DeterministicCheckResult) error {
	if len(checks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(checks))
	for i := range checks {
		docs[i] = checks[i]
	}
	_, err := s.col(colChecks).InsertMany(ctx, docs)
	return wrapError(err)
}
