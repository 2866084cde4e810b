package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"docseval/internal/eventbus"
	"docseval/internal/model"

	goredis "github.com/redis/go-redis/v9"
)

func (s *Store) Publish(ctx context.Context, runID string, event model.RunEvent) error {
	key := eventbus.StreamKey(runID)

	args := &goredis.XAddArgs{
		Stream: key,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"id":         event.ID,
			"seq":        event.Seq,
			"event_type": event.EventType,
			"payload":    string(event.Payload),
			"created_at": event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	_, err := s.client.XAdd(ctx, args).Result()
	return err
}

// Subscribe tails the run's stream from "now", delivering events on a
// buffered channel. Callers that need events strictly after a known id
// should prefer Store.GetRunEventsAfter; this channel is best-effort
// live fan-out only.
func (s *Store) Subscribe(ctx context.Context, runID string) (<-chan model.RunEvent, error) {
	key := eventbus.StreamKey(runID)
	ch := make(chan model.RunEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &goredis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   pollBlock,
			}).Result()
			if err != nil {
				if err == goredis.Nil {
					continue
				}
				s.log.WithRunID(runID).WithError(err).Error("subscribe error")
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					e, ok := decodeEvent(runID, msg.Values)
					if !ok {
						continue
					}
					select {
					case ch <- e:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func decodeEvent(runID string, values map[string]interface{}) (model.RunEvent, bool) {
	var e model.RunEvent
	e.RunID = runID
	if v, ok := values["event_type"].(string); ok {
		e.EventType = v
	} else {
		return e, false
	}
	if v, ok := values["id"].(string); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			e.ID = id
		}
	}
	if v, ok := values["seq"].(string); ok {
		if seq, err := strconv.Atoi(v); err == nil {
			e.Seq = seq
		}
	}
	if v, ok := values["payload"].(string); ok {
		e.Payload = json.RawMessage(v)
	}
	if v, ok := values["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.CreatedAt = t
		}
	}
	return e, true
}

var _ eventbus.Bus = (*Store)(nil)
