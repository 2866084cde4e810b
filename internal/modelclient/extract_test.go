package modelclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractBalancedJSONPlainObject(t *testing.T) {
	got, ok := ExtractBalancedJSON(`{"a": 1}`)
	assert.True(t, ok)
	assert.Equal(t, `{"a": 1}`, got)
}

func TestExtractBalancedJSONStripsFencedCodeBlock(t *testing.T) {
	got, ok := ExtractBalancedJSON("```json\n{\"a\": 1}\n```")
	assert.True(t, ok)
	assert.Equal(t, `{"a": 1}`, got)
}

func TestExtractBalancedJSONToleratesLeadingProse(t *testing.T) {
	got, ok := ExtractBalancedJSON(`Sure, here is the result: {"a": [1, 2, {"b": 3}]} thanks`)
	assert.True(t, ok)
	assert.Equal(t, `{"a": [1, 2, {"b": 3}]}`, got)
}

func TestExtractBalancedJSONIgnoresBracesInsideStrings(t *testing.T) {
	got, ok := ExtractBalancedJSON(`{"text": "not a } brace"}`)
	assert.True(t, ok)
	assert.Equal(t, `{"text": "not a } brace"}`, got)
}

func TestExtractBalancedJSONArray(t *testing.T) {
	got, ok := ExtractBalancedJSON(`[1, 2, 3]`)
	assert.True(t, ok)
	assert.Equal(t, `[1, 2, 3]`, got)
}

func TestExtractBalancedJSONNoJSONPresent(t *testing.T) {
	_, ok := ExtractBalancedJSON("no json here at all")
	assert.False(t, ok)
}
