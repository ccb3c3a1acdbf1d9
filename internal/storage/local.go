package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
)

type LocalProvider struct {
	// RootPath is the directory where buckets are simulated (e.g., "./data")
	RootPath string
}

func NewLocalProvider(root string) (*LocalProvider, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalProvider{RootPath: root}, nil
}

func (l *LocalProvider) path(bucket, key string) string {
	return filepath.Join(l.RootPath, bucket, filepath.FromSlash(key))
}

func (l *LocalProvider) Get(ctx context.Context, bucket, key string) (*FileObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	ct := mime.TypeByExtension(filepath.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &FileObject{
		Body:          f,
		ContentLength: stat.Size(),
		ContentType:   ct,
		LastModified:  stat.ModTime(),
	}, nil
}

func (l *LocalProvider) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.path(bucket, key)

	// Ensure sub-directories exist (e.g. bucket/media/file.mp4)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, body)
	return err
}

func (l *LocalProvider) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(l.path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (l *LocalProvider) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
