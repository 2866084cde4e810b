// Package retrieval implements the Retrieval Index (C2): chunking
// ingested artifacts into paragraph-aligned slices and scoring them
// against a query.
//
// The chunking shape (ChunkConfig-less, fixed-threshold accumulation)
// follows the corpus's own chunker
// (raphi011-knowhow/internal/parser/chunker.go) in spirit — accumulate
// paragraphs into a chunk, flush when the next one would overflow — but
// the threshold and the emit-one-truncated-chunk fallback are exact
// to the spec, not inherited from that chunker's configurable sizes.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const maxChunkChars = 1200

// Chunk is a paragraph-aligned slice of an artifact.
type Chunk struct {
	SourceURL   string
	SnippetHash string
	Text        string
	StartOffset int
	EndOffset   int
}

// ID returns the chunk's identity tuple as used for citation lookups
// and deterministic tie-breaking.
func (c Chunk) ID() (sourceURL, snippetHash string) {
	return c.SourceURL, c.SnippetHash
}

func snippetHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// ChunkArtifact splits content by blank-line paragraphs, accumulating
// until the next paragraph would exceed maxChunkChars, then emits the
// accumulation as a chunk. A single paragraph longer than the threshold
// is emitted as one chunk truncated to maxChunkChars rather than
// discarded. If the artifact has content but no chunk was emitted, one
// truncated chunk is emitted instead of discarding the artifact.
func ChunkArtifact(sourceURL, content string) []Chunk {
	paragraphs := splitParagraphs(content)
	var chunks []Chunk
	var cur strings.Builder
	offset := 0
	chunkStart := 0

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text == "" {
			return
		}
		if len(text) > maxChunkChars {
			text = strings.TrimSpace(text[:maxChunkChars])
		}
		chunks = append(chunks, Chunk{
			SourceURL:   sourceURL,
			SnippetHash: snippetHash(text),
			Text:        text,
			StartOffset: chunkStart,
			EndOffset:   chunkStart + len(text),
		})
		cur.Reset()
	}

	for _, p := range paragraphs {
		candidateLen := cur.Len()
		if candidateLen > 0 {
			candidateLen += 2 // blank line separator
		}
		candidateLen += len(p)

		if cur.Len() > 0 && candidateLen > maxChunkChars {
			flush()
			chunkStart = offset
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		offset += len(p) + 2
	}
	flush()

	if len(chunks) == 0 && strings.TrimSpace(content) != "" {
		text := content
		if len(text) > maxChunkChars {
			text = text[:maxChunkChars]
		}
		text = strings.TrimSpace(text)
		chunks = append(chunks, Chunk{
			SourceURL:   sourceURL,
			SnippetHash: snippetHash(text),
			Text:        text,
			StartOffset: 0,
			EndOffset:   len(text),
		})
	}
	return chunks
}

func splitParagraphs(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
