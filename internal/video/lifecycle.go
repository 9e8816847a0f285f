package video

import (
	"context"
	"errors"
	"sync"
)

// Lifecycle errors.
var (
	// ErrTerminal indicates a transition was attempted after the record
	// already reached processed or failed.
	ErrTerminal = errors.New("video is in a terminal state")

	// ErrAlreadySet indicates a set-at-most-once field (thumbnail or a
	// rendition key) was recorded twice within one pipeline run.
	ErrAlreadySet = errors.New("field already recorded")
)

// Recorder is the narrow slice of the metadata store the lifecycle needs.
// Each method persists exactly one field; the store guarantees that
// concurrent updates to different fields do not clobber each other.
type Recorder interface {
	SetThumbnail(ctx context.Context, videoID, thumbnailKey string) error
	AddRendition(ctx context.Context, videoID, label, key string) error
	SetStatus(ctx context.Context, videoID string, status Status) error
}

// Lifecycle enforces the video state machine for one pipeline run. All
// metadata writes from the pipeline go through it so the invariants live in
// one place: keys are recorded at most once, nothing is recorded after a
// terminal transition, and the run always ends processed or failed.
//
// Safe for concurrent use; rendition steps run in parallel.
type Lifecycle struct {
	videoID string
	rec     Recorder

	mu         sync.Mutex
	terminal   bool
	thumbnail  bool
	renditions map[string]bool
}

// NewLifecycle starts a lifecycle for videoID. The record must already
// exist in the processing state; Restart handles failed records re-entering
// the pipeline.
func NewLifecycle(videoID string, rec Recorder) *Lifecycle {
	return &Lifecycle{
		videoID:    videoID,
		rec:        rec,
		renditions: make(map[string]bool),
	}
}

// Restart moves a failed record back to processing so the pipeline can be
// re-triggered with the same deterministic keys.
func (l *Lifecycle) Restart(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminal {
		return ErrTerminal
	}
	return l.rec.SetStatus(ctx, l.videoID, StatusProcessing)
}

// RecordThumbnail persists the thumbnail key. Called only after the
// thumbnail blob upload was confirmed durable.
func (l *Lifecycle) RecordThumbnail(ctx context.Context, key string) error {
	l.mu.Lock()
	if l.terminal {
		l.mu.Unlock()
		return ErrTerminal
	}
	if l.thumbnail {
		l.mu.Unlock()
		return ErrAlreadySet
	}
	l.thumbnail = true
	l.mu.Unlock()

	return l.rec.SetThumbnail(ctx, l.videoID, key)
}

// RecordRendition persists one rendition key. Called only after that
// rendition's blob upload was confirmed durable.
func (l *Lifecycle) RecordRendition(ctx context.Context, label, key string) error {
	l.mu.Lock()
	if l.terminal {
		l.mu.Unlock()
		return ErrTerminal
	}
	if l.renditions[label] {
		l.mu.Unlock()
		return ErrAlreadySet
	}
	l.renditions[label] = true
	l.mu.Unlock()

	return l.rec.AddRendition(ctx, l.videoID, label, key)
}

// MarkProcessed transitions the record to its successful terminal state.
func (l *Lifecycle) MarkProcessed(ctx context.Context) error {
	return l.finish(ctx, StatusProcessed)
}

// MarkFailed transitions the record to its failed terminal state. Already
// recorded keys are left in place; the public listing only trusts
// processed records, so partial renditions are orphaned but harmless.
func (l *Lifecycle) MarkFailed(ctx context.Context) error {
	return l.finish(ctx, StatusFailed)
}

func (l *Lifecycle) finish(ctx context.Context, s Status) error {
	l.mu.Lock()
	if l.terminal {
		l.mu.Unlock()
		return ErrTerminal
	}
	l.terminal = true
	l.mu.Unlock()

	return l.rec.SetStatus(ctx, l.videoID, s)
}
