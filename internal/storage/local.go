package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local stores uploads on the local filesystem under a base directory.
// Stored paths are relative to the base so the directory can move between
// environments without invalidating attempt records.
type Local struct {
	base string
}

func NewLocal(base string) (*Local, error) {
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{base: base}, nil
}

func (l *Local) Save(ctx context.Context, contentType string, r io.Reader) (string, error) {
	ext, err := ExtensionFor(contentType)
	if err != nil {
		return "", err
	}

	rel := filepath.Join("invoices", uuid.NewString()+ext)
	abs := filepath.Join(l.base, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", fmt.Errorf("create invoice dir: %w", err)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	// Read one byte past the limit so an oversized upload is detected
	// without buffering the whole stream.
	n, err := io.Copy(f, io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		_ = os.Remove(abs)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if n > MaxUploadBytes {
		_ = os.Remove(abs)
		return "", ErrFileTooLarge
	}
	return rel, nil
}

func (l *Local) Open(ctx context.Context, storedPath string) (io.ReadCloser, error) {
	// Stored paths are generated by Save; reject anything that escapes the
	// base directory in case a tampered path reaches us.
	clean := filepath.Clean(storedPath)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid stored path %q", storedPath)
	}
	f, err := os.Open(filepath.Join(l.base, clean))
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}
