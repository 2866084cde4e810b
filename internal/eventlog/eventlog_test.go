package eventlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/model"
	"docseval/internal/storage/memstore"
)

func TestAppendPersistsAndReadAfterCursorsByID(t *testing.T) {
	store := memstore.New()
	l := New(store, nil)
	ctx := context.Background()

	id1, err := l.Append(ctx, "run-1", EventRunIngesting, Payload{Phase: "ingesting"})
	require.NoError(t, err)
	id2, err := l.Append(ctx, "run-1", EventRunRunning, Payload{Phase: "running", Message: "started"})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	events, err := l.ReadAfter(ctx, "run-1", id1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventRunRunning, events[0].EventType)

	var payload Payload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "run-1", payload.RunID)
	assert.Equal(t, "started", payload.Message)
}

func TestAppendWithNilBusNeverPanics(t *testing.T) {
	store := memstore.New()
	l := New(store, nil)
	assert.NotPanics(t, func() {
		_, _ = l.Append(context.Background(), "run-1", EventRunCompleted, Payload{})
	})
}

func TestStreamDeliversBacklogThenClosesOnContextCancel(t *testing.T) {
	store := memstore.New()
	l := New(store, nil)
	ctx := context.Background()

	_, err := l.Append(ctx, "run-1", EventRunIngesting, Payload{})
	require.NoError(t, err)
	_, err = l.Append(ctx, "run-1", EventRunCompleted, Payload{})
	require.NoError(t, err)

	streamCtx, cancel := context.WithCancel(ctx)
	events := l.Stream(streamCtx, "run-1", 0)

	var got []model.RunEvent
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for backlog event")
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventRunIngesting, got[0].EventType)
	assert.Equal(t, EventRunCompleted, got[1].EventType)

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream channel did not close after context cancellation")
	}
}

func TestStreamSkipsEventsAtOrBeforeAfterID(t *testing.T) {
	store := memstore.New()
	l := New(store, nil)
	ctx := context.Background()

	id1, err := l.Append(ctx, "run-1", EventRunIngesting, Payload{})
	require.NoError(t, err)
	_, err = l.Append(ctx, "run-1", EventRunRunning, Payload{})
	require.NoError(t, err)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := l.Stream(streamCtx, "run-1", id1)

	select {
	case e := <-events:
		assert.Equal(t, EventRunRunning, e.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event after cursor")
	}
}
