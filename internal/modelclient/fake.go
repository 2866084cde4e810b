package modelclient

import (
	"context"
	"encoding/json"
)

// Fake is a deterministic, scriptable Client used by tests and by any
// deployment that hasn't wired a real provider yet. Responses are
// consumed in call order; CompleteJSON ignores schema validation and
// simply returns the next scripted payload.
type Fake struct {
	TextResponses []TextResult
	JSONResponses []JSONResult
	textCalls     int
	jsonCalls     int
}

func (f *Fake) CompleteText(ctx context.Context, cfg Config, messages []Message) (TextResult, error) {
	if f.textCalls >= len(f.TextResponses) {
		return TextResult{Model: cfg.Model}, nil
	}
	r := f.TextResponses[f.textCalls]
	f.textCalls++
	return r, nil
}

func (f *Fake) CompleteJSON(ctx context.Context, cfg Config, messages []Message, schema json.RawMessage) (JSONResult, error) {
	if f.jsonCalls >= len(f.JSONResponses) {
		return JSONResult{Model: cfg.Model, Parsed: json.RawMessage("{}")}, nil
	}
	r := f.JSONResponses[f.jsonCalls]
	f.jsonCalls++
	return r, nil
}

var _ Client = (*Fake)(nil)
