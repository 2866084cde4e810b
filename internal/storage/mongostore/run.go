package mongostore

import (
	"context"
	"time"

	"docseval/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	return insertOne(ctx, s.col(colRuns), run)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	return findOne[model.Run](ctx, s.col(colRuns), bson.D{{Key: "_id", Value: runID}})
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return updateFields(ctx, s.col(colRuns), runID, bson.D{{Key: "status", Value: status}})
}

func (s *Store) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, totals *model.RunTotals) error {
	return updateFields(ctx, s.col(colRuns), runID, bson.D{
		{Key: "status", Value: status},
		{Key: "totals", Value: totals},
		{Key: "endedAt", Value: time.Now().UTC()},
	})
}

// IncrementRunCost uses $inc, the document-store equivalent of the SQL
// driver's "cost_estimate = cost_estimate + $1" atomic update; Mongo's
// single-document update is itself atomic, so no transaction is needed.
func (s *Store) IncrementRunCost(ctx context.Context, runID string, delta float64) (float64, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res := s.col(colRuns).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: runID}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "costEstimate", Value: delta}}}},
		opts,
	)
	var run model.Run
	if err := res.Decode(&run); err != nil {
		return 0, wrapError(err)
	}
	return run.CostEstimate, nil
}

func (s *Store) IsRunCanceled(ctx context.Context, runID string) (bool, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	return run.Status == model.RunStatusCanceled, nil
}

func (s *Store) PersistRunError(ctx context.Context, runErr *model.RunError) error {
	return insertOne(ctx, s.col(colRunErrors), runErr)
}

func (s *Store) ListRunErrors(ctx context.Context, runID string) ([]model.RunError, error) {
	filter := bson.D{{Key: "runId", Value: runID}}
	return findMany[model.RunError](ctx, s.col(colRunErrors), filter, sortByCreatedAt())
}
