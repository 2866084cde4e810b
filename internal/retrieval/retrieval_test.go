package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkArtifactSplitsOnParagraphBoundaries(t *testing.T) {
	content := "First paragraph.\n\nSecond paragraph."
	chunks := ChunkArtifact("https://docs.example.com/a", content)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "First paragraph.")
	assert.Contains(t, chunks[0].Text, "Second paragraph.")
	assert.Equal(t, "https://docs.example.com/a", chunks[0].SourceURL)
	assert.NotEmpty(t, chunks[0].SnippetHash)
}

func TestChunkArtifactFlushesBeforeOverflow(t *testing.T) {
	big := strings.Repeat("a", maxChunkChars-10)
	content := big + "\n\n" + strings.Repeat("b", 100)
	chunks := ChunkArtifact("u", content)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "aaa"))
	assert.True(t, strings.HasPrefix(chunks[1].Text, "bbb"))
}

func TestChunkArtifactEmitsTruncatedChunkForOversizedSingleParagraph(t *testing.T) {
	content := strings.Repeat("x", maxChunkChars*2)
	chunks := ChunkArtifact("u", content)
	require.Len(t, chunks, 1)
	assert.LessOrEqual(t, len(chunks[0].Text), maxChunkChars)
}

func TestChunkArtifactEmptyContentYieldsNoChunks(t *testing.T) {
	assert.Empty(t, ChunkArtifact("u", "   \n\n  "))
}

func TestIndexTopKIsDeterministicOnTies(t *testing.T) {
	chunks := []Chunk{
		{SourceURL: "https://b.example.com", SnippetHash: "h2", Text: "configure the widget"},
		{SourceURL: "https://a.example.com", SnippetHash: "h1", Text: "configure the widget"},
	}
	idx := NewIndex(chunks)

	first := idx.TopK("configure widget", 2)
	second := idx.TopK("configure widget", 2)
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	// lexicographically smaller sourceURL wins the tie
	assert.Equal(t, "https://a.example.com", first[0].Chunk.SourceURL)
}

func TestIndexTopKRespectsK(t *testing.T) {
	chunks := []Chunk{
		{SourceURL: "u1", SnippetHash: "h1", Text: "alpha beta gamma"},
		{SourceURL: "u2", SnippetHash: "h2", Text: "alpha beta"},
		{SourceURL: "u3", SnippetHash: "h3", Text: "unrelated text entirely"},
	}
	idx := NewIndex(chunks)
	top := idx.TopK("alpha beta gamma", 1)
	require.Len(t, top, 1)
	assert.Equal(t, "u1", top[0].Chunk.SourceURL)
}

func TestIndexContains(t *testing.T) {
	chunks := []Chunk{{SourceURL: "u1", SnippetHash: "h1", Text: "text"}}
	idx := NewIndex(chunks)
	assert.True(t, idx.Contains("u1", "h1"))
	assert.False(t, idx.Contains("u1", "wrong-hash"))
	assert.False(t, idx.Contains("unknown", "h1"))
}

func TestTokenizeDropsShortTokensAndLowercases(t *testing.T) {
	tokens := Tokenize("The Quick-Fox jumps over an ox!")
	assert.Contains(t, tokens, "the")
	assert.Contains(t, tokens, "quick")
	assert.Contains(t, tokens, "fox")
	assert.Contains(t, tokens, "jumps")
	assert.Contains(t, tokens, "over")
	assert.NotContains(t, tokens, "an")
	assert.NotContains(t, tokens, "ox")
}
