// Package blobstore stores uploaded images and generated reports. Every
// stored object is addressed by the durable public URL returned from Put.
// The in-memory Store backs development and tests; the GCS Store backs
// production.
package blobstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrEmptyObject        = errors.New("object has no content")
)

// MaxFileSize is the maximum allowed object size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// Kind is the resource class of a stored object.
type Kind string

const (
	KindImage Kind = "image"
	KindRaw   Kind = "raw"
)

// Object is a payload to store. Folder and Name are hints used to build the
// object key; the returned URL is authoritative.
type Object struct {
	Folder      string
	Name        string
	Kind        Kind
	ContentType string
	Data        []byte
}

// Metadata describes a stored object.
type Metadata struct {
	ID          string    `json:"id"`
	Folder      string    `json:"folder"`
	FileName    string    `json:"file_name"`
	Kind        Kind      `json:"kind"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the artifact store contract.
type Store interface {
	// Put stores obj and returns its public URL.
	Put(ctx context.Context, obj Object) (string, error)
	// Open returns the content of an object previously returned by Put.
	Open(ctx context.Context, url string) (io.ReadCloser, *Metadata, error)
}

// rasterTypes are the sniffed content types accepted for KindImage.
var rasterTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// normalize validates obj. Images always carry their sniffed content type;
// other kinds fall back to sniffing when none was declared.
func normalize(obj *Object) error {
	if strings.TrimSpace(obj.Name) == "" {
		return ErrMissingFileName
	}
	if len(obj.Data) == 0 {
		return ErrEmptyObject
	}
	if len(obj.Data) > MaxFileSize {
		return ErrFileTooLarge
	}
	if obj.Kind == "" {
		obj.Kind = KindRaw
	}
	if obj.Kind == KindImage {
		// Image types come from the bytes, never from the client.
		sniffed := http.DetectContentType(obj.Data)
		if !rasterTypes[sniffed] {
			return ErrInvalidContentType
		}
		obj.ContentType = sniffed
	} else if obj.ContentType == "" || obj.ContentType == "application/octet-stream" {
		obj.ContentType = http.DetectContentType(obj.Data)
	}
	obj.Folder = strings.Trim(path.Clean("/"+obj.Folder), "/")
	return nil
}

// safeName reduces a client-supplied file name to its base name with
// characters outside [A-Za-z0-9._-] replaced.
func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if s := b.String(); s != "" && s != "." && s != ".." {
		return s
	}
	return "file"
}
