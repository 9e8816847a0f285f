package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// cursor is the decoded continuation token for keyset pagination. It pins
// the position of the last record on the previous page so following pages
// stay stable while new uploads arrive.
type cursor struct {
	CreatedAt int64  `json:"c"` // unix nanoseconds
	VideoID   string `json:"v"`
}

func encodeCursor(createdAt time.Time, videoID string) string {
	raw, _ := json.Marshal(cursor{CreatedAt: createdAt.UnixNano(), VideoID: videoID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	var c cursor
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	if c.VideoID == "" {
		return c, fmt.Errorf("malformed cursor: empty video id")
	}
	return c, nil
}

// clampPage normalizes a Page to sane bounds.
func clampPage(p Page) Page {
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}
