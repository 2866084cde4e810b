package ingestor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Fake returns a fixed artifact set regardless of docsURL, used by
// tests and by deployments that haven't wired a real crawler.
type Fake struct {
	Artifacts []RawArtifact
	SkillText string
}

func (f *Fake) Ingest(ctx context.Context, docsURL string, opts Options) (Result, error) {
	arts := f.Artifacts
	for i := range arts {
		if arts[i].ContentHash == "" {
			sum := sha256.Sum256([]byte(arts[i].Content))
			arts[i].ContentHash = hex.EncodeToString(sum[:])
		}
	}
	return Result{
		NormalizedDocsURL: docsURL,
		Artifacts:         arts,
		SkillText:         f.SkillText,
	}, nil
}

var _ Ingestor = (*Fake)(nil)
