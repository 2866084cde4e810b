// Package blob stores large ingested artifacts and the generated
// optimized-skill document in object storage, keyed by their SHA-256
// content hash; the Store row keeps only the object key and hash once
// content exceeds the inline-size threshold. Small artifacts are stored
// inline in the Store row instead.
//
// Grounded on internal/shared/minio/client.go's bucket-scoped
// Upload/Download/Exists/Delete wrapper.
package blob

import (
	"context"
	"io"
)

// InlineThresholdBytes is the size above which Artifact.Content is
// written here instead of stored inline in the Store row.
const InlineThresholdBytes = 32 * 1024

// Config is the connection configuration for the object store, mapped
// from internal/config's MinIO section.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Store is the artifact blob collaborator boundary.
type Store interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// KeyForHash returns the object key used for a content-addressed
// artifact body, namespaced by run so that one bucket can serve every
// run without a collision across unrelated runs sharing a hash.
func KeyForHash(runID, contentHash string) string {
	return "artifacts/" + runID + "/" + contentHash
}
