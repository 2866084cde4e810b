package modelclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCompleteTextConsumesResponsesInOrder(t *testing.T) {
	f := &Fake{TextResponses: []TextResult{{Text: "first"}, {Text: "second"}}}
	ctx := context.Background()

	r1, err := f.CompleteText(ctx, Config{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Text)

	r2, err := f.CompleteText(ctx, Config{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Text)
}

func TestFakeCompleteTextPastEndOfScriptReturnsEmptyResult(t *testing.T) {
	f := &Fake{}
	r, err := f.CompleteText(context.Background(), Config{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "m", r.Model)
	assert.Empty(t, r.Text)
}

func TestFakeCompleteJSONPastEndOfScriptReturnsEmptyObject(t *testing.T) {
	f := &Fake{}
	r, err := f.CompleteJSON(context.Background(), Config{Model: "m"}, nil, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(r.Parsed))
}

func TestFakeCompleteJSONReturnsScriptedPayload(t *testing.T) {
	f := &Fake{JSONResponses: []JSONResult{{Parsed: json.RawMessage(`{"ok":true}`)}}}
	r, err := f.CompleteJSON(context.Background(), Config{}, nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(r.Parsed))
}
