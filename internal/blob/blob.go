package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound indicates the requested key does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// Operation selects what a signed URL permits.
type Operation string

const (
	// OpRead grants a time-limited GET on the key.
	OpRead Operation = "read"
	// OpWrite grants a time-limited PUT on the key.
	OpWrite Operation = "write"
)

// Store is durable object storage. Upload must accept a streaming reader of
// unknown length so transcoder output can be piped through without
// materializing whole files in memory.
type Store interface {
	// Upload stores the reader's content under key. Returns only after
	// the write is durable.
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error

	// Download opens a streamed read of the blob. The caller closes the
	// returned reader. Size is -1 when unknown.
	Download(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// SignedURL issues a time-limited capability URL for the key.
	SignedURL(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error)

	// Delete removes the blob. Returns ErrNotFound when the key is
	// already absent, where the backend can detect it.
	Delete(ctx context.Context, key string) error
}
