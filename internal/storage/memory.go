package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryProvider keeps objects in process memory; they vanish on restart
// like the rest of the board state.
type MemoryProvider struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{objects: make(map[string]memObject)}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

func (m *MemoryProvider) Get(ctx context.Context, bucket, key string) (*FileObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[memKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &FileObject{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: int64(len(obj.data)),
		ContentType:   obj.contentType,
		LastModified:  obj.modified,
	}, nil
}

func (m *MemoryProvider) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(bucket, key)] = memObject{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

func (m *MemoryProvider) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(bucket, key)
	if _, ok := m.objects[k]; !ok {
		return ErrNotFound
	}
	delete(m.objects, k)
	return nil
}

func (m *MemoryProvider) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[memKey(bucket, key)]
	return ok, nil
}
