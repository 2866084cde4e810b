// Package ingestor defines the Ingestor collaborator boundary:
// documentation fetching from a base URL, treated by spec.md §1 as
// external and specified only at its interface. Kept as an interface
// plus a fake, the same way modelclient is — see that package's header
// for the grounding rationale shared by both boundary packages.
package ingestor

import (
	"context"
	"encoding/json"
)

// Options tunes one ingest call (crawl depth, page-count caps, etc).
type Options struct {
	MaxPages int
}

// RawArtifact is one fetched document as returned by Ingest, before it
// is persisted as a model.Artifact row.
type RawArtifact struct {
	ArtifactType string
	SourceURL    string
	Content      string
	ContentHash  string
	Metadata     json.RawMessage
}

// Result is the full output of one ingest call.
type Result struct {
	NormalizedDocsURL string
	Artifacts         []RawArtifact
	LLMsText          string
	LLMsFullText      string
	SkillText         string
	DiscoveredPages   []string
}

// Ingestor fetches and normalizes documentation artifacts from a base
// URL.
type Ingestor interface {
	Ingest(ctx context.Context, docsURL string, opts Options) (Result, error)
}
