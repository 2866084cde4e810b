package mongostore

import (
	"context"

	"docseval/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) PersistTasks(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(tasks))
	for i := range tasks {
		docs[i] = tasks[i]
	}
	_, err := s.col(colTasks).InsertMany(ctx, docs)
	return wrapError(err)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	return updateFields(ctx, s.col(colTasks), taskID, bson.D{{Key: "status", Value: status}})
}

func (s *Store) ListTasks(ctx context.Context, runID string) ([]model.Task, error) {
	return findMany[model.Task](ctx, s.col(colTasks), bson.D{{Key: "runId", Value: runID}}, sortByField("createdAt", 1))
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	return findOne[model.Task](ctx, s.col(colTasks), bson.D{{Key: "_id", Value: taskID}})
}
