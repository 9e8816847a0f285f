package query

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidhost/internal/blob"
	"vidhost/internal/store"
	"vidhost/internal/video"
)

type fixture struct {
	store *store.SQLite
	blobs *blob.FS
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	st, err := store.NewSQLite(context.Background(), filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	blobs, err := blob.NewFS(filepath.Join(dir, "blobs"), "")
	require.NoError(t, err)

	return &fixture{store: st, blobs: blobs, svc: New(st, blobs, zerolog.Nop())}
}

// seed creates a record plus its blobs; processed records get a thumbnail
// and a full rendition set.
func (fx *fixture) seed(t *testing.T, id, owner string, status video.Status, at time.Time) *video.Video {
	t.Helper()
	ctx := context.Background()

	v := &video.Video{
		ID:        id,
		OwnerID:   owner,
		Title:     "clip " + id,
		SourceKey: video.SourceKey(id),
		Status:    status,
		CreatedAt: at,
	}
	require.NoError(t, fx.store.Create(ctx, v))
	require.NoError(t, fx.blobs.Upload(ctx, v.SourceKey, bytes.NewReader([]byte("src")), "video/mp4"))

	if status == video.StatusProcessed {
		require.NoError(t, fx.store.SetThumbnail(ctx, id, video.ThumbnailKey(id)))
		require.NoError(t, fx.blobs.Upload(ctx, video.ThumbnailKey(id), bytes.NewReader([]byte("jpg")), "image/jpeg"))
		for _, r := range video.DefaultRenditions {
			key := video.RenditionKey(id, r.Label)
			require.NoError(t, fx.store.AddRendition(ctx, id, r.Label, key))
			require.NoError(t, fx.blobs.Upload(ctx, key, bytesReader("enc"), "video/mp4"))
		}
	}
	return v
}

func bytesReader(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }

func (fx *fixture) blobExists(key string) bool {
	body, _, err := fx.blobs.Download(context.Background(), key)
	if err != nil {
		return false
	}
	body.Close()
	return true
}

func TestListPublicOnlyProcessed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	now := time.Now().UTC()
	fx.seed(t, "v1", "alice", video.StatusProcessed, now)
	fx.seed(t, "v2", "alice", video.StatusProcessing, now.Add(time.Minute))
	fx.seed(t, "v3", "bob", video.StatusFailed, now.Add(2*time.Minute))

	// Even a hostile status filter cannot leak unprocessed records.
	listing, err := fx.svc.ListPublic(context.Background(), store.Filter{Status: video.StatusFailed}, store.Page{})
	require.NoError(t, err)
	require.Len(t, listing.Videos, 1)
	assert.Equal(t, "v1", listing.Videos[0].ID)
}

func TestListOwnedAllStatuses(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	now := time.Now().UTC()
	fx.seed(t, "v1", "alice", video.StatusProcessed, now)
	fx.seed(t, "v2", "alice", video.StatusFailed, now.Add(time.Minute))
	fx.seed(t, "v3", "bob", video.StatusProcessed, now.Add(2*time.Minute))

	listing, err := fx.svc.ListOwned(context.Background(), "alice", store.Filter{}, store.Page{})
	require.NoError(t, err)
	assert.Len(t, listing.Videos, 2)
	for _, v := range listing.Videos {
		assert.Equal(t, "alice", v.OwnerID)
	}
}

func TestGetVisibility(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	now := time.Now().UTC()
	fx.seed(t, "pub", "alice", video.StatusProcessed, now)
	fx.seed(t, "wip", "alice", video.StatusProcessing, now)

	tests := []struct {
		name    string
		videoID string
		req     Requester
		wantErr error
	}{
		{name: "processed is public", videoID: "pub", req: Requester{UserID: "bob"}},
		{name: "owner sees in-progress", videoID: "wip", req: Requester{UserID: "alice"}},
		{name: "admin sees in-progress", videoID: "wip", req: Requester{UserID: "root", Admin: true}},
		{name: "stranger blocked from in-progress", videoID: "wip", req: Requester{UserID: "bob"}, wantErr: ErrForbidden},
		{name: "missing", videoID: "nope", req: Requester{UserID: "alice"}, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := fx.svc.Get(context.Background(), tt.videoID, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.videoID, v.ID)
		})
	}
}

func TestDeleteRemovesRecordAndBlobs(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	v := fx.seed(t, "v1", "alice", video.StatusProcessed, time.Now().UTC())
	ctx := context.Background()

	full, err := fx.store.Get(ctx, v.ID)
	require.NoError(t, err)
	keys := full.BlobKeys()
	require.Len(t, keys, 5) // source + thumbnail + 3 renditions

	require.NoError(t, fx.svc.Delete(ctx, v.ID, Requester{UserID: "alice"}))

	_, err = fx.store.Get(ctx, v.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	for _, key := range keys {
		assert.False(t, fx.blobExists(key), "blob %s should be gone", key)
	}
}

func TestDeleteForbiddenLeavesEverything(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	v := fx.seed(t, "v1", "alice", video.StatusProcessed, time.Now().UTC())
	ctx := context.Background()

	err := fx.svc.Delete(ctx, v.ID, Requester{UserID: "mallory"})
	assert.ErrorIs(t, err, ErrForbidden)

	// The ownership check runs before any blob is touched.
	_, err = fx.store.Get(ctx, v.ID)
	assert.NoError(t, err)
	assert.True(t, fx.blobExists(v.SourceKey))
}

func TestDeleteByAdmin(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	v := fx.seed(t, "v1", "alice", video.StatusProcessed, time.Now().UTC())

	assert.NoError(t, fx.svc.Delete(context.Background(), v.ID, Requester{UserID: "root", Admin: true}))
}

func TestDeleteToleratesMissingBlobs(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	v := fx.seed(t, "v1", "alice", video.StatusProcessing, time.Now().UTC())
	ctx := context.Background()

	// A failed pipeline run may never have produced the blobs.
	require.NoError(t, fx.blobs.Delete(ctx, v.SourceKey))

	assert.NoError(t, fx.svc.Delete(ctx, v.ID, Requester{UserID: "alice"}))

	_, err := fx.store.Get(ctx, v.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMissingRecord(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	err := fx.svc.Delete(context.Background(), "nope", Requester{UserID: "alice"})
	assert.ErrorIs(t, err, ErrNotFound)
}
