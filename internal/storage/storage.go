// Package storage persists uploaded invoice documents. The verification
// engine only ever holds the opaque path a Save call returns.
package storage

import (
	"context"
	"errors"
	"io"
)

// Upload size and type limits for invoice documents.
const MaxUploadBytes = 5 << 20 // 5 MiB

var (
	// ErrFileTooLarge: upload exceeds MaxUploadBytes.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	// ErrUnsupportedType: content type outside {pdf, jpg, jpeg, png}.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// allowedTypes maps accepted MIME types to the stored file extension.
var allowedTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
}

// ExtensionFor returns the storage extension for a MIME type, or
// ErrUnsupportedType.
func ExtensionFor(contentType string) (string, error) {
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}
	return ext, nil
}

// FileStore stores and retrieves uploaded documents by opaque path.
type FileStore interface {
	// Save validates type and size, persists the content, and returns the
	// stored path.
	Save(ctx context.Context, contentType string, r io.Reader) (string, error)
	// Open streams back a previously stored document.
	Open(ctx context.Context, storedPath string) (io.ReadCloser, error)
}
