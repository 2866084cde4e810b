package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize lowercases, strips non-alphanumeric runs to whitespace, and
// drops tokens under 3 characters.
func Tokenize(s string) []string {
	lower := strings.ToLower(s)
	normalized := tokenStrip.ReplaceAllString(lower, " ")
	fields := strings.Fields(normalized)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// Index scores chunks against a query and is phase-scoped: for the
// optimized phase the caller rebuilds the Index from a substituted
// artifact set (site skill replaced by the generated optimized skill).
type Index struct {
	chunks      []Chunk
	chunkTokens []map[string]struct{}
}

// NewIndex builds an Index over the given chunks.
func NewIndex(chunks []Chunk) *Index {
	idx := &Index{chunks: chunks, chunkTokens: make([]map[string]struct{}, len(chunks))}
	for i, c := range chunks {
		idx.chunkTokens[i] = tokenSet(Tokenize(c.Text))
	}
	return idx
}

// Scored pairs a Chunk with its query score.
type Scored struct {
	Chunk Chunk
	Score float64
}

// TopK scores every chunk against query and returns the top K, breaking
// ties on lexicographic (sourceUrl, snippetHash) so results are
// deterministic across repeated invocations with identical inputs (P8).
func (idx *Index) TopK(query string, k int) []Scored {
	qTokens := tokenSet(Tokenize(query))
	scored := make([]Scored, 0, len(idx.chunks))
	for i, c := range idx.chunks {
		ct := idx.chunkTokens[i]
		if len(ct) == 0 {
			scored = append(scored, Scored{Chunk: c, Score: 0})
			continue
		}
		overlap := 0
		for t := range qTokens {
			if _, ok := ct[t]; ok {
				overlap++
			}
		}
		score := float64(overlap) / math.Sqrt(float64(len(ct)))
		scored = append(scored, Scored{Chunk: c, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.SourceURL != scored[j].Chunk.SourceURL {
			return scored[i].Chunk.SourceURL < scored[j].Chunk.SourceURL
		}
		return scored[i].Chunk.SnippetHash < scored[j].Chunk.SnippetHash
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// Contains reports whether (sourceUrl, snippetHash) identifies a chunk
// present in the index, used by the Deterministic Guard's
// citation_integrity check.
func (idx *Index) Contains(sourceURL, snippetHash string) bool {
	for _, c := range idx.chunks {
		if c.SourceURL == sourceURL && c.SnippetHash == snippetHash {
			return true
		}
	}
	return false
}

// Chunks returns the index's full backing slice, used when building an
// evidence block for the Rubric Judge.
func (idx *Index) Chunks() []Chunk {
	return idx.chunks
}
