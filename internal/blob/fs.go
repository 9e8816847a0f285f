package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FS is a local-directory blob store for development and tests. Signed
// URLs carry no real capability: with a base URL configured they point at
// the content-serving route, otherwise they are plain file paths (which
// the external transcoder reads directly).
type FS struct {
	root    string
	baseURL string
}

// NewFS creates a filesystem store rooted at dir. baseURL, when non-empty,
// prefixes read URLs (e.g. "http://localhost:8080/api/content").
func NewFS(dir, baseURL string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FS{root: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (f *FS) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

// Upload writes the reader's content below the root, creating parent
// directories as needed. Writes go through a temp file and rename so a
// partially written blob is never visible under its final key.
func (f *FS) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	dst, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to finalize blob: %w", err)
	}
	return nil
}

// Download opens the blob for reading.
func (f *FS) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, 0, err
	}
	file, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return file, info.Size(), nil
}

// SignedURL returns a read or write reference for the key. The filesystem
// backend cannot enforce the TTL.
func (f *FS) SignedURL(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error) {
	p, err := f.path(key)
	if err != nil {
		return "", err
	}
	if op == OpRead && f.baseURL != "" {
		return f.baseURL + "/" + strings.TrimPrefix(key, "/"), nil
	}
	return p, nil
}

// Delete removes the blob, reporting ErrNotFound for absent keys.
func (f *FS) Delete(ctx context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
