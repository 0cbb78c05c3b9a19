package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// MemoryStore is a thread-safe, in-memory Store. Objects are served by
// Handler under <baseURL>/blobs/<id>.
type MemoryStore struct {
	baseURL string
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]*storedBlob),
	}
}

func (s *MemoryStore) Put(_ context.Context, obj Object) (string, error) {
	if err := normalize(&obj); err != nil {
		return "", err
	}

	h := sha256.Sum256(obj.Data)
	meta := Metadata{
		ID:          uuid.New().String(),
		Folder:      obj.Folder,
		FileName:    safeName(obj.Name),
		Kind:        obj.Kind,
		ContentType: obj.ContentType,
		Size:        int64(len(obj.Data)),
		Hash:        fmt.Sprintf("%x", h),
		CreatedAt:   time.Now().UTC(),
	}

	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	return s.URL(meta.ID), nil
}

func (s *MemoryStore) Open(ctx context.Context, url string) (io.ReadCloser, *Metadata, error) {
	prefix := s.baseURL + "/blobs/"
	if !strings.HasPrefix(url, prefix) {
		return nil, nil, ErrBlobNotFound
	}
	return s.Get(ctx, strings.TrimPrefix(url, prefix))
}

// Get returns the object stored under id.
func (s *MemoryStore) Get(_ context.Context, id string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata // copy
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// URL returns the public URL of id.
func (s *MemoryStore) URL(id string) string {
	return s.baseURL + "/blobs/" + id
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
