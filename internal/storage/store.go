package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when a blob does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Store is the object storage contract used for generation artifacts. Paths
// are bucket-relative and slash separated.
type Store interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Delete(ctx context.Context, bucket, path string) error
	PublicURL(bucket, path string) string
}
