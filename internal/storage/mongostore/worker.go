package mongostore

import (
	"context"

	"docseval/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) EnsureRunWorkers(ctx context.Context, runID string, workers []model.Worker) ([]model.Worker, error) {
	existing, err := s.ListWorkers(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	docs := make([]interface{}, len(workers))
	for i := range workers {
		workers[i].RunID = runID
		if workers[i].Status == "" {
			workers[i].Status = model.WorkerStatusIdle
		}
		docs[i] = workers[i]
	}
	if len(docs) > 0 {
		if _, err := s.col(colWorkers).InsertMany(ctx, docs); err != nil {
			return nil, wrapError(err)
		}
	}
	return workers, nil
}

func (s *Store) UpdateWorkerStatus(ctx context.Context, workerID string, status model.WorkerStatus) error {
	return updateFields(ctx, s.col(colWorkers), workerID, bson.D{{Key: "status", Value: status}})
}

func (s *Store) ListWorkers(ctx context.Context, runID string) ([]model.Worker, error) {
	return findMany[model.Worker](ctx, s.col(colWorkers), bson.D{{Key: "runId", Value: runID}})
}
