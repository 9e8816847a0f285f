package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"vidhost/internal/blob"
	"vidhost/internal/store"
	"vidhost/internal/video"
)

// ErrForbidden indicates the requester is neither the owner nor an admin.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound re-exports the store's not-found signal so callers depend on
// one error surface.
var ErrNotFound = store.ErrNotFound

// Requester identifies who is asking. Identity verification happens at the
// route boundary; this service only enforces ownership rules.
type Requester struct {
	UserID string
	Admin  bool
}

// Listing is one page of records.
type Listing struct {
	Videos     []video.Video `json:"videos"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// Service answers listing and deletion requests against the metadata store
// and cleans up blobs on delete.
type Service struct {
	store  store.Store
	blobs  blob.Store
	logger zerolog.Logger
}

// New wires a query service.
func New(st store.Store, blobs blob.Store, logger zerolog.Logger) *Service {
	return &Service{store: st, blobs: blobs, logger: logger}
}

// ListPublic returns processed records regardless of owner. The processed
// filter is forced here so an unprocessed record can never leak into a
// public listing whatever filters the caller supplies.
func (s *Service) ListPublic(ctx context.Context, f store.Filter, p store.Page) (*Listing, error) {
	f.Status = video.StatusProcessed

	videos, next, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, fmt.Errorf("list public videos: %w", err)
	}
	return &Listing{Videos: videos, NextCursor: next}, nil
}

// ListOwned returns every record for ownerID, any status. The route layer
// must have verified that the requester is ownerID (or an admin) already.
func (s *Service) ListOwned(ctx context.Context, ownerID string, f store.Filter, p store.Page) (*Listing, error) {
	f.OwnerID = ownerID

	videos, next, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, fmt.Errorf("list owned videos: %w", err)
	}
	return &Listing{Videos: videos, NextCursor: next}, nil
}

// Get returns one record, restricted to its owner or an admin unless it is
// processed (processed records are public).
func (s *Service) Get(ctx context.Context, videoID string, req Requester) (*video.Video, error) {
	v, err := s.store.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != video.StatusProcessed && !req.Admin && req.UserID != v.OwnerID {
		return nil, ErrForbidden
	}
	return v, nil
}

// Delete removes the record and best-effort deletes every associated blob:
// source, thumbnail if set, and all renditions. Blob deletions run first
// so a failure leaves the record in place for a retry; individual
// already-absent blobs are logged and skipped.
func (s *Service) Delete(ctx context.Context, videoID string, req Requester) error {
	v, err := s.store.Get(ctx, videoID)
	if err != nil {
		return err
	}

	if !req.Admin && req.UserID != v.OwnerID {
		return ErrForbidden
	}

	for _, key := range v.BlobKeys() {
		if err := s.blobs.Delete(ctx, key); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				s.logger.Debug().Str("key", key).Msg("blob already absent")
				continue
			}
			s.logger.Warn().Err(err).Str("key", key).Str("video_id", videoID).Msg("failed to delete blob")
		}
	}

	if err := s.store.Delete(ctx, videoID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	s.logger.Info().Str("video_id", videoID).Str("requester", req.UserID).Msg("video deleted")
	return nil
}
