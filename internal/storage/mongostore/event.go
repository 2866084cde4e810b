package mongostore

import (
	"context"

	"docseval/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type seqCounter struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// nextCounter atomically increments and returns a named counter using
// findAndModify, the document-store analogue of sqlstore's
// select-max-then-insert-with-retry loop: Mongo's single-document $inc
// is itself atomic, so no retry is needed here, unlike the SQL form.
func (s *Store) nextCounter(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := s.col(colEventSeqCounter).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}},
		opts,
	)
	var c seqCounter
	if err := res.Decode(&c); err != nil {
		return 0, wrapError(err)
	}
	return c.Value, nil
}

// AppendRunEvent allocates a globally dense id and a per-run dense seq
// from two independent counters, then inserts. Both counters are
// allocated via atomic $inc, so concurrent appenders never collide the
// way sqlstore's SELECT MAX(seq)+1 can, and no unique-violation retry
// loop is required.
func (s *Store) AppendRunEvent(ctx context.Context, runID string, eventType string, payload []byte) (int64, error) {
	id, err := s.nextCounter(ctx, "global:run_events")
	if err != nil {
		return 0, err
	}
	seq, err := s.nextCounter(ctx, "run:"+runID)
	if err != nil {
		return 0, err
	}
	e := model.RunEvent{
		ID:        id,
		RunID:     runID,
		Seq:       int(seq),
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: nowUTC(),
	}
	if err := insertOne(ctx, s.col(colEvents), e); err != nil {
		return 0, err
	}
	return id, nil
}

// GetRunEventsAfter cursors strictly by id, never by seq, matching
// sqlstore's contract.
func (s *Store) GetRunEventsAfter(ctx context.Context, runID string, afterID int64, limit int) ([]model.RunEvent, error) {
	filter := bson.D{
		{Key: "runId", Value: runID},
		{Key: "id", Value: bson.D{{Key: "$gt", Value: afterID}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findMany[model.RunEvent](ctx, s.col(colEvents), filter, opts)
}
