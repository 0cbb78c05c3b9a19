package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// DefaultGCSBaseURL is the public host for objects in publicly readable buckets.
const DefaultGCSBaseURL = "https://storage.googleapis.com"

// bucket is the slice of the GCS bucket API the Store uses.
type bucket interface {
	write(ctx context.Context, objectPath, contentType string, data []byte) error
	read(ctx context.Context, objectPath string) (io.ReadCloser, *storage.ReaderObjectAttrs, error)
}

type gcsBucket struct {
	handle *storage.BucketHandle
}

func (b gcsBucket) write(ctx context.Context, objectPath, contentType string, data []byte) error {
	wc := b.handle.Object(objectPath).NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = "public, max-age=31536000"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

func (b gcsBucket) read(ctx context.Context, objectPath string) (io.ReadCloser, *storage.ReaderObjectAttrs, error) {
	rc, err := b.handle.Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rc, &rc.Attrs, nil
}

// GCSStore stores objects in a Google Cloud Storage bucket and returns their
// public URLs. The bucket must grant allUsers read access.
type GCSStore struct {
	client     *storage.Client
	bucket     bucket
	bucketName string
	baseURL    string
	now        func() time.Time
}

// NewGCSStore creates a client using application default credentials plus
// any extra opts.
func NewGCSStore(ctx context.Context, bucketName, baseURL string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return newGCSStore(client, gcsBucket{handle: client.Bucket(bucketName)}, bucketName, baseURL), nil
}

func newGCSStore(client *storage.Client, b bucket, bucketName, baseURL string) *GCSStore {
	if baseURL == "" {
		baseURL = DefaultGCSBaseURL
	}
	return &GCSStore{
		client:     client,
		bucket:     b,
		bucketName: bucketName,
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

func (s *GCSStore) Put(ctx context.Context, obj Object) (string, error) {
	if err := normalize(&obj); err != nil {
		return "", err
	}

	objectPath := fmt.Sprintf("%d_%s", s.now().UnixNano(), safeName(obj.Name))
	if obj.Folder != "" {
		objectPath = obj.Folder + "/" + objectPath
	}

	if err := s.bucket.write(ctx, objectPath, obj.ContentType, obj.Data); err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	return s.objectURL(objectPath), nil
}

func (s *GCSStore) Open(ctx context.Context, url string) (io.ReadCloser, *Metadata, error) {
	objectPath, ok := s.objectPath(url)
	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	rc, attrs, err := s.bucket.read(ctx, objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open %s: %w", objectPath, err)
	}

	folder, name := "", objectPath
	if i := strings.LastIndex(objectPath, "/"); i >= 0 {
		folder, name = objectPath[:i], objectPath[i+1:]
	}
	meta := &Metadata{
		ID:       objectPath,
		Folder:   folder,
		FileName: name,
		Kind:     KindRaw,
	}
	if attrs != nil {
		meta.ContentType = attrs.ContentType
		meta.Size = attrs.Size
		meta.CreatedAt = attrs.LastModified
		if strings.HasPrefix(attrs.ContentType, "image/") {
			meta.Kind = KindImage
		}
	}
	return rc, meta, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *GCSStore) objectURL(objectPath string) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucketName, objectPath)
}

func (s *GCSStore) objectPath(url string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/", s.baseURL, s.bucketName)
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	p := strings.TrimPrefix(url, prefix)
	if p == "" || strings.Contains(p, "..") {
		return "", false
	}
	return p, true
}
