package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dentrecord/dentrecord/internal/platform/apierr"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func putObject(t *testing.T, store Store, obj Object) string {
	t.Helper()
	url, err := store.Put(context.Background(), obj)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return url
}

func readAll(t *testing.T, store Store, url string) ([]byte, *Metadata) {
	t.Helper()
	rc, meta, err := store.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("Open(%s): %v", url, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data, meta
}

// ---------------------------------------------------------------------------
// Memory store
// ---------------------------------------------------------------------------

func TestMemoryStore_PutAndOpen(t *testing.T) {
	store := NewMemoryStore("http://localhost:8000/")
	url := putObject(t, store, Object{
		Folder:      "submissions",
		Name:        "xray.png",
		Kind:        KindImage,
		ContentType: "image/png",
		Data:        pngHeader,
	})

	if !strings.HasPrefix(url, "http://localhost:8000/blobs/") {
		t.Errorf("unexpected url %s", url)
	}

	data, meta := readAll(t, store, url)
	if !bytes.Equal(data, pngHeader) {
		t.Error("content mismatch")
	}
	if meta.Folder != "submissions" || meta.FileName != "xray.png" || meta.Kind != KindImage {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Size != int64(len(pngHeader)) {
		t.Errorf("expected size %d, got %d", len(pngHeader), meta.Size)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256(pngHeader)); meta.Hash != want {
		t.Errorf("expected hash %s, got %s", want, meta.Hash)
	}
}

func TestMemoryStore_CopiesInput(t *testing.T) {
	store := NewMemoryStore("http://x")
	data := []byte("report")
	url := putObject(t, store, Object{Name: "r.pdf", Data: data})
	data[0] = 'X'

	got, _ := readAll(t, store, url)
	if string(got) != "report" {
		t.Errorf("stored content changed with caller's slice: %q", got)
	}
}

func TestMemoryStore_OpenUnknown(t *testing.T) {
	store := NewMemoryStore("http://x")
	for _, url := range []string{"http://x/blobs/missing", "https://elsewhere/blobs/1", ""} {
		if _, _, err := store.Open(context.Background(), url); !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("Open(%q): expected ErrBlobNotFound, got %v", url, err)
		}
	}
}

func TestMemoryStore_PutValidation(t *testing.T) {
	store := NewMemoryStore("http://x")
	tests := []struct {
		name string
		obj  Object
		want error
	}{
		{"missing name", Object{Data: []byte("a")}, ErrMissingFileName},
		{"empty data", Object{Name: "a.png"}, ErrEmptyObject},
		{"image kind with text", Object{Name: "a.png", Kind: KindImage, Data: []byte("plain text")}, ErrInvalidContentType},
		{"image kind with svg", Object{Name: "a.svg", Kind: KindImage, ContentType: "image/svg+xml",
			Data: []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`)}, ErrInvalidContentType},
		{"image kind with declared png but html body", Object{Name: "a.png", Kind: KindImage, ContentType: "image/png",
			Data: []byte("<html><body>hi</body></html>")}, ErrInvalidContentType},
		{"too large", Object{Name: "big.bin", Data: make([]byte, MaxFileSize+1)}, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Put(context.Background(), tt.obj); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if store.Len() != 0 {
		t.Errorf("expected nothing stored, got %d", store.Len())
	}
}

func TestMemoryStore_SniffsContentType(t *testing.T) {
	store := NewMemoryStore("http://x")
	url := putObject(t, store, Object{Name: "scan", Kind: KindImage, ContentType: "application/octet-stream", Data: pngHeader})
	_, meta := readAll(t, store, url)
	if meta.ContentType != "image/png" {
		t.Errorf("expected sniffed image/png, got %s", meta.ContentType)
	}
}

func TestMemoryStore_ImageContentTypeIsSniffed(t *testing.T) {
	store := NewMemoryStore("http://x")
	url := putObject(t, store, Object{Name: "scan.gif", Kind: KindImage, ContentType: "image/gif", Data: pngHeader})
	_, meta := readAll(t, store, url)
	if meta.ContentType != "image/png" {
		t.Errorf("expected sniffed image/png over declared type, got %s", meta.ContentType)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore("http://x")
	var wg sync.WaitGroup
	urls := make(chan string, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url, err := store.Put(context.Background(), Object{Name: fmt.Sprintf("f%d.txt", i), Data: []byte("x")})
			if err != nil {
				t.Errorf("Put: %v", err)
				return
			}
			urls <- url
		}(i)
	}
	wg.Wait()
	close(urls)

	for url := range urls {
		if _, _, err := store.Open(context.Background(), url); err != nil {
			t.Errorf("Open(%s): %v", url, err)
		}
	}
	if store.Len() != 50 {
		t.Errorf("expected 50 blobs, got %d", store.Len())
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"xray.png":           "xray.png",
		"../../etc/passwd":   "passwd",
		`C:\scans\tooth.jpg`: "tooth.jpg",
		"my scan (1).png":    "my_scan__1_.png",
		"":                   "file",
		"..":                 "file",
	}
	for in, want := range tests {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// GCS store
// ---------------------------------------------------------------------------

type fakeBucket struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBucket) write(_ context.Context, objectPath, contentType string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.objects[objectPath] = append([]byte(nil), data...)
	f.types[objectPath] = contentType
	return nil
}

func (f *fakeBucket) read(_ context.Context, objectPath string) (io.ReadCloser, *storage.ReaderObjectAttrs, error) {
	data, ok := f.objects[objectPath]
	if !ok {
		return nil, nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), &storage.ReaderObjectAttrs{
		ContentType: f.types[objectPath],
		Size:        int64(len(data)),
	}, nil
}

func TestGCSStore_PutAndOpen(t *testing.T) {
	fb := newFakeBucket()
	store := newGCSStore(nil, fb, "dental-bucket", "")
	store.now = func() time.Time { return time.Unix(0, 42) }

	url := putObject(t, store, Object{Folder: "reports", Name: "report.pdf", Kind: KindRaw, ContentType: "application/pdf", Data: []byte("%PDF-1.3")})
	if url != "https://storage.googleapis.com/dental-bucket/reports/42_report.pdf" {
		t.Fatalf("unexpected url %s", url)
	}
	if fb.types["reports/42_report.pdf"] != "application/pdf" {
		t.Errorf("content type not forwarded: %q", fb.types["reports/42_report.pdf"])
	}

	data, meta := readAll(t, store, url)
	if string(data) != "%PDF-1.3" {
		t.Errorf("unexpected content %q", data)
	}
	if meta.Folder != "reports" || meta.FileName != "42_report.pdf" || meta.Kind != KindRaw {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestGCSStore_OpenForeignURL(t *testing.T) {
	store := newGCSStore(nil, newFakeBucket(), "dental-bucket", "https://cdn.example.com/")
	for _, url := range []string{
		"https://storage.googleapis.com/dental-bucket/a.png",
		"https://cdn.example.com/other-bucket/a.png",
		"https://cdn.example.com/dental-bucket/../secret",
	} {
		if _, _, err := store.Open(context.Background(), url); !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("Open(%q): expected ErrBlobNotFound, got %v", url, err)
		}
	}
}

func TestGCSStore_OpenMissingObject(t *testing.T) {
	store := newGCSStore(nil, newFakeBucket(), "b", "")
	_, _, err := store.Open(context.Background(), "https://storage.googleapis.com/b/reports/1_x.pdf")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestGCSStore_WriteFailure(t *testing.T) {
	fb := newFakeBucket()
	fb.err = errors.New("googleapi: Error 403: forbidden")
	store := newGCSStore(nil, fb, "b", "")

	if _, err := store.Put(context.Background(), Object{Name: "x.pdf", Data: []byte("x")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewGCSStore_RequiresBucket(t *testing.T) {
	if _, err := NewGCSStore(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func newTestServer(store *MemoryStore) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apierr.ErrorHandler(zerolog.Nop())
	NewHandler(store).RegisterRoutes(e.Group(""))
	return e
}

func TestHandler_Download(t *testing.T) {
	store := NewMemoryStore("http://x")
	e := newTestServer(store)
	url := putObject(t, store, Object{Name: "xray.png", Kind: KindImage, ContentType: "image/png", Data: pngHeader})

	req := httptest.NewRequest(http.MethodGet, strings.TrimPrefix(url, "http://x"), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "inline") {
		t.Errorf("expected inline disposition, got %s", cd)
	}
	if !bytes.Equal(rec.Body.Bytes(), pngHeader) {
		t.Error("body mismatch")
	}
}

func TestHandler_DownloadRawIsAttachment(t *testing.T) {
	store := NewMemoryStore("http://x")
	e := newTestServer(store)
	url := putObject(t, store, Object{Name: "report.pdf", Kind: KindRaw, ContentType: "application/pdf", Data: []byte("%PDF")})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, strings.TrimPrefix(url, "http://x"), nil))

	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="report.pdf"` {
		t.Errorf("unexpected disposition %s", cd)
	}
}

func TestHandler_NotFound(t *testing.T) {
	e := newTestServer(NewMemoryStore("http://x"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["message"] != "blob not found" {
		t.Errorf("unexpected message %v", body["message"])
	}
}

func TestHandler_Metadata(t *testing.T) {
	store := NewMemoryStore("http://x")
	e := newTestServer(store)
	url := putObject(t, store, Object{Folder: "annotated", Name: "a.png", Kind: KindImage, Data: pngHeader})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, strings.TrimPrefix(url, "http://x")+"/metadata", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var meta Metadata
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if meta.Folder != "annotated" || meta.ContentType != "image/png" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}
