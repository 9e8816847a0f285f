package video

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a video record.
type Status string

const (
	// StatusProcessing means the video has been uploaded and the
	// transcoding pipeline has not yet reached a terminal state.
	StatusProcessing Status = "processing"
	// StatusProcessed means every configured rendition and the thumbnail
	// were produced and uploaded durably.
	StatusProcessed Status = "processed"
	// StatusFailed means at least one pipeline step failed. Partial
	// renditions may exist but are never exposed publicly.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal pipeline state.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown video status %q", raw)
	}
	return s, nil
}

// Video is the metadata record for one uploaded video.
type Video struct {
	ID          string `json:"videoId"`
	OwnerID     string `json:"ownerId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SourceKey   string `json:"sourceKey"`
	Status      Status `json:"status"`

	// ThumbnailKey is set once thumbnail extraction succeeds.
	ThumbnailKey string `json:"thumbnailKey,omitempty"`

	// ResolutionKeys maps a rendition label ("360", "480", "720") to the
	// blob key holding that rendition. Populated incrementally as each
	// rendition upload completes.
	ResolutionKeys map[string]string `json:"resolutionKeys,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// BlobKeys returns every blob key associated with the record: the source,
// the thumbnail if set, and each rendition. Used by deletion.
func (v *Video) BlobKeys() []string {
	keys := []string{v.SourceKey}
	if v.ThumbnailKey != "" {
		keys = append(keys, v.ThumbnailKey)
	}
	for _, k := range v.ResolutionKeys {
		keys = append(keys, k)
	}
	return keys
}

// Rendition describes one target output of the transcode pipeline.
type Rendition struct {
	Label  string // resolution label, e.g. "480"
	Width  int
	Height int
}

// Scale returns the ffmpeg scale filter argument for the rendition.
func (r Rendition) Scale() string {
	return fmt.Sprintf("%d:%d", r.Width, r.Height)
}

// DefaultRenditions is the fixed ordered rendition set produced for every
// upload unless overridden by configuration.
var DefaultRenditions = []Rendition{
	{Label: "360", Width: 640, Height: 360},
	{Label: "480", Width: 854, Height: 480},
	{Label: "720", Width: 1280, Height: 720},
}

// SourceKey returns the blob key of the originally uploaded file.
func SourceKey(videoID string) string {
	return "videos/" + videoID
}

// ThumbnailKey returns the deterministic blob key for a video's thumbnail.
func ThumbnailKey(videoID string) string {
	return "thumbnails/" + videoID + ".jpg"
}

// RenditionKey returns the deterministic blob key for one rendition.
// Deterministic keys make pipeline re-runs overwrite rather than duplicate.
func RenditionKey(videoID, label string) string {
	return fmt.Sprintf("videos/%s_%sp.mp4", videoID, label)
}
