package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidhost/internal/video"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()

	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testVideo(id, owner string, at time.Time) *video.Video {
	return &video.Video{
		ID:        id,
		OwnerID:   owner,
		Title:     "title " + id,
		SourceKey: video.SourceKey(id),
		Status:    video.StatusProcessing,
		CreatedAt: at,
	}
}

func TestSQLiteCreateAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	v := testVideo("v1", "alice", now)
	v.Description = "a description"
	require.NoError(t, s.Create(ctx, v))

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ID)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, "a description", got.Description)
	assert.Equal(t, video.StatusProcessing, got.Status)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Empty(t, got.ResolutionKeys)
}

func TestSQLiteCreateDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testVideo("v1", "alice", time.Now())))
	assert.ErrorIs(t, s.Create(ctx, testVideo("v1", "bob", time.Now())), ErrExists)
}

func TestSQLiteGetMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteIncrementalUpdates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testVideo("v1", "alice", time.Now())))

	require.NoError(t, s.SetThumbnail(ctx, "v1", "thumbnails/v1.jpg"))
	require.NoError(t, s.AddRendition(ctx, "v1", "360", "videos/v1_360p.mp4"))
	require.NoError(t, s.AddRendition(ctx, "v1", "720", "videos/v1_720p.mp4"))
	require.NoError(t, s.SetStatus(ctx, "v1", video.StatusProcessed))

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "thumbnails/v1.jpg", got.ThumbnailKey)
	assert.Equal(t, video.StatusProcessed, got.Status)
	assert.Equal(t, map[string]string{
		"360": "videos/v1_360p.mp4",
		"720": "videos/v1_720p.mp4",
	}, got.ResolutionKeys)
}

func TestSQLiteAddRenditionUpsert(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testVideo("v1", "alice", time.Now())))
	require.NoError(t, s.AddRendition(ctx, "v1", "360", "videos/v1_360p.mp4"))

	// A pipeline retry writes the same deterministic key again.
	require.NoError(t, s.AddRendition(ctx, "v1", "360", "videos/v1_360p.mp4"))

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, got.ResolutionKeys, 1)
}

func TestSQLiteUpdateMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.SetThumbnail(ctx, "nope", "k"), ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, "nope", video.StatusFailed), ErrNotFound)
	assert.ErrorIs(t, s.AddRendition(ctx, "nope", "360", "k"), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "nope"), ErrNotFound)
}

func TestSQLiteDeleteCascadesRenditions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testVideo("v1", "alice", time.Now())))
	require.NoError(t, s.AddRendition(ctx, "v1", "360", "videos/v1_360p.mp4"))
	require.NoError(t, s.Delete(ctx, "v1"))

	_, err := s.Get(ctx, "v1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Recreating the id starts with no renditions attached.
	require.NoError(t, s.Create(ctx, testVideo("v1", "alice", time.Now())))
	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, got.ResolutionKeys)
}

func TestSQLiteListFilters(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, testVideo("v1", "alice", base)))
	require.NoError(t, s.Create(ctx, testVideo("v2", "bob", base.Add(time.Hour))))

	v3 := testVideo("v3", "alice", base.Add(2*time.Hour))
	v3.Status = video.StatusProcessed
	require.NoError(t, s.Create(ctx, v3))

	t.Run("newest first", func(t *testing.T) {
		videos, next, err := s.List(ctx, Filter{}, Page{})
		require.NoError(t, err)
		require.Len(t, videos, 3)
		assert.Equal(t, "v3", videos[0].ID)
		assert.Equal(t, "v1", videos[2].ID)
		assert.Empty(t, next)
	})

	t.Run("by owner", func(t *testing.T) {
		videos, _, err := s.List(ctx, Filter{OwnerID: "alice"}, Page{})
		require.NoError(t, err)
		assert.Len(t, videos, 2)
	})

	t.Run("by status", func(t *testing.T) {
		videos, _, err := s.List(ctx, Filter{Status: video.StatusProcessed}, Page{})
		require.NoError(t, err)
		require.Len(t, videos, 1)
		assert.Equal(t, "v3", videos[0].ID)
	})

	t.Run("by upload window", func(t *testing.T) {
		videos, _, err := s.List(ctx, Filter{
			CreatedAfter:  base.Add(30 * time.Minute),
			CreatedBefore: base.Add(90 * time.Minute),
		}, Page{})
		require.NoError(t, err)
		require.Len(t, videos, 1)
		assert.Equal(t, "v2", videos[0].ID)
	})
}

func TestSQLiteListPagination(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	const total = 7
	for i := 0; i < total; i++ {
		id := string(rune('a' + i))
		require.NoError(t, s.Create(ctx, testVideo(id, "alice", base.Add(time.Duration(i)*time.Minute))))
	}

	var seen []string
	cursor := ""
	for {
		videos, next, err := s.List(ctx, Filter{}, Page{Size: 3, Cursor: cursor})
		require.NoError(t, err)
		for _, v := range videos {
			seen = append(seen, v.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	// Full walk, newest first, no gaps or repeats.
	assert.Equal(t, []string{"g", "f", "e", "d", "c", "b", "a"}, seen)
}

func TestSQLiteListBadCursor(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, _, err := s.List(context.Background(), Filter{}, Page{Cursor: "garbage!"})
	assert.Error(t, err)
}
