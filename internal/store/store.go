package store

import (
	"context"
	"errors"
	"time"

	"vidhost/internal/video"
)

// Store errors.
var (
	// ErrNotFound indicates the requested video record does not exist.
	ErrNotFound = errors.New("video not found")

	// ErrExists indicates a create collided with an existing video id.
	ErrExists = errors.New("video already exists")
)

// Filter narrows a listing. Zero values mean "no constraint".
type Filter struct {
	OwnerID       string
	Status        video.Status
	CreatedBefore time.Time
	CreatedAfter  time.Time
}

// Page controls cursor-based pagination. Cursor is an opaque continuation
// token from a previous call; empty means start from the first page.
type Page struct {
	Size   int
	Cursor string
}

// DefaultPageSize is applied when a caller passes a non-positive size.
const DefaultPageSize = 10

// MaxPageSize caps a single page regardless of what the caller asks for.
const MaxPageSize = 100

// Store persists video metadata records. Implementations must make Create
// conditional on the id not existing, and must keep per-field updates from
// clobbering each other (each pipeline step owns disjoint fields).
type Store interface {
	// Create inserts a new record. Returns ErrExists if the id is taken.
	Create(ctx context.Context, v *video.Video) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, videoID string) (*video.Video, error)

	// SetThumbnail records the thumbnail blob key.
	SetThumbnail(ctx context.Context, videoID, thumbnailKey string) error

	// AddRendition records one rendition label -> blob key entry.
	// Re-adding the same label overwrites it (deterministic keys make
	// this idempotent across pipeline retries).
	AddRendition(ctx context.Context, videoID, label, key string) error

	// SetStatus updates the lifecycle state.
	SetStatus(ctx context.Context, videoID string, status video.Status) error

	// List returns one page of records plus the cursor for the next
	// page. An empty next cursor means the listing is exhausted. The
	// ordering is stable per backend but backend-defined: SQLite lists
	// newest-first, DynamoDB in table key order.
	List(ctx context.Context, f Filter, p Page) ([]video.Video, string, error)

	// Delete removes the record or returns ErrNotFound.
	Delete(ctx context.Context, videoID string) error

	// Close releases the underlying connection.
	Close() error
}
