package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/config"
)

// Reference is the opaque handle stored in a media descriptor.
type Reference string

const mediaFolder = "media"

type Client struct {
	backend Provider
	bucket  string
	prefix  string
}

// New picks the backend named by cfg.Provider.
func New(cfg config.StorageConfig) (*Client, error) {
	var backend Provider
	switch cfg.Provider {
	case "", "memory":
		backend = NewMemoryProvider()
	case "local":
		lp, err := NewLocalProvider(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		backend = lp
	case "s3":
		sp, err := NewS3ProviderFromOptions(S3Options{
			Endpoint: cfg.Endpoint,
			Region:   cfg.Region,
			KeyID:    cfg.KeyID,
			AppKey:   cfg.AppKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		backend = sp
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	log.Info().Str("module", "storage").Str("provider", cfg.Provider).Str("bucket", cfg.Bucket).Msg("storage ready")
	return NewClient(backend, cfg.Bucket, cfg.Prefix), nil
}

func NewClient(backend Provider, bucket, prefix string) *Client {
	return &Client{backend: backend, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// key maps a reference to a backend key. References that could escape the
// prefix are refused.
func (c *Client) key(ref Reference) (string, error) {
	r := string(ref)
	if r == "" || strings.HasPrefix(r, "/") || strings.Contains(r, "\\") {
		return "", ErrNotFound
	}
	clean := path.Clean(r)
	if clean != r || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", ErrNotFound
	}
	if c.prefix == "" {
		return clean, nil
	}
	return c.prefix + "/" + clean, nil
}

// Store saves body under a fresh reference that keeps the file extension of
// name.
func (c *Client) Store(ctx context.Context, name, contentType string, body io.ReadSeeker) (Reference, error) {
	ext := strings.ToLower(filepath.Ext(name))
	ref := Reference(mediaFolder + "/" + uuid.NewString() + ext)
	key, err := c.key(ref)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := c.backend.Put(ctx, c.bucket, key, body, contentType); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	log.Info().Str("module", "storage").Str("ref", string(ref)).Str("name", name).Msg("media stored")
	return ref, nil
}

// Put writes body under a caller-chosen reference, e.g. a configured audio cue.
func (c *Client) Put(ctx context.Context, ref Reference, contentType string, body io.ReadSeeker) error {
	key, err := c.key(ref)
	if err != nil {
		return err
	}
	return c.backend.Put(ctx, c.bucket, key, body, contentType)
}

// Retrieve opens ref. The caller closes FileObject.Body.
func (c *Client) Retrieve(ctx context.Context, ref Reference) (*FileObject, error) {
	key, err := c.key(ref)
	if err != nil {
		return nil, err
	}
	return c.backend.Get(ctx, c.bucket, key)
}

func (c *Client) Delete(ctx context.Context, ref Reference) error {
	key, err := c.key(ref)
	if err != nil {
		return err
	}
	if err := c.backend.Delete(ctx, c.bucket, key); err != nil {
		return err
	}
	log.Info().Str("module", "storage").Str("ref", string(ref)).Msg("media deleted")
	return nil
}

func (c *Client) Exists(ctx context.Context, ref Reference) (bool, error) {
	key, err := c.key(ref)
	if err != nil {
		return false, nil
	}
	return c.backend.Exists(ctx, c.bucket, key)
}
