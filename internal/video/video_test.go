package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Status
		wantErr bool
	}{
		{name: "processing", raw: "processing", want: StatusProcessing},
		{name: "processed", raw: "processed", want: StatusProcessed},
		{name: "failed", raw: "failed", want: StatusFailed},
		{name: "unknown", raw: "queued", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "case sensitive", raw: "Processing", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatus(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusProcessed.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestBlobKeys(t *testing.T) {
	t.Parallel()

	v := &Video{
		ID:        "abc",
		SourceKey: SourceKey("abc"),
	}
	assert.Equal(t, []string{"videos/abc"}, v.BlobKeys())

	v.ThumbnailKey = ThumbnailKey("abc")
	v.ResolutionKeys = map[string]string{
		"360": RenditionKey("abc", "360"),
		"720": RenditionKey("abc", "720"),
	}

	keys := v.BlobKeys()
	assert.Len(t, keys, 4)
	assert.Contains(t, keys, "videos/abc")
	assert.Contains(t, keys, "thumbnails/abc.jpg")
	assert.Contains(t, keys, "videos/abc_360p.mp4")
	assert.Contains(t, keys, "videos/abc_720p.mp4")
}

func TestRenditionScale(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "640:360", Rendition{Label: "360", Width: 640, Height: 360}.Scale())
	assert.Equal(t, "1280:720", Rendition{Label: "720", Width: 1280, Height: 720}.Scale())
}

func TestDeterministicKeys(t *testing.T) {
	t.Parallel()

	// Re-runs must hit the same keys so retries overwrite orphans.
	assert.Equal(t, RenditionKey("v1", "480"), RenditionKey("v1", "480"))
	assert.Equal(t, "videos/v1_480p.mp4", RenditionKey("v1", "480"))
	assert.Equal(t, "thumbnails/v1.jpg", ThumbnailKey("v1"))
	assert.Equal(t, "videos/v1", SourceKey("v1"))
}
