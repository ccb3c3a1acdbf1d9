// Package storage keeps uploaded media and audio cues behind an opaque
// reference so the shared state never carries raw bytes.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Provider defines the behavior for any storage backend.
type Provider interface {
	Get(ctx context.Context, bucket, key string) (*FileObject, error)
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// FileObject is the provider-agnostic representation of a file.
type FileObject struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	LastModified  time.Time
}
