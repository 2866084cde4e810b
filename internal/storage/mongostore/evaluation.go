package mongostore

import (
	"context"

	"docseval/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) PersistTaskEvaluation(ctx context.Context, eval *model.TaskEvaluation) error {
	filter := bson.D{
		{Key: "runId", Value: eval.RunID},
		{Key: "taskId", Value: eval.TaskID},
		{Key: "phase", Value: eval.Phase},
	}
	_, err := s.col(colEvaluations).ReplaceOne(ctx, filter, eval, upsertReplaceOptions())
	return wrapError(err)
}

func (s *Store) ListTaskEvaluations(ctx context.Context, runID string, phase model.Phase) ([]model.TaskEvaluation, error) {
	filter := bson.D{{Key: "runId", Value: runID}, {Key: "phase", Value: phase}}
	return findMany[model.TaskEvaluation](ctx, s.col(colEvaluations), filter)
}
