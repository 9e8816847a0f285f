package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"vidhost/internal/metrics"
	"vidhost/internal/video"
)

// Default timeout for individual store operations.
const defaultTimeout = 5 * time.Second

// SQLite is the embedded metadata store. Suitable for single-node
// deployments; the DynamoDB store covers the managed path.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database file at dbPath and bootstraps
// the schema. The parent directory must already exist and be writable.
func NewSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	// WAL keeps readers unblocked during pipeline writes; busy_timeout
	// prevents "database is locked" under concurrent rendition updates.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close database after ping failure")
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLite{db: db}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close database after schema failure")
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("metadata store ready")
	return s, nil
}

func (s *SQLite) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source_key TEXT NOT NULL,
		status TEXT NOT NULL,
		thumbnail_key TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_videos_owner_created ON videos(owner_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_videos_status_created ON videos(status, created_at DESC);

	CREATE TABLE IF NOT EXISTS renditions (
		video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		key TEXT NOT NULL,
		PRIMARY KEY (video_id, label)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Create inserts the record, failing with ErrExists on an id collision.
func (s *SQLite) Create(ctx context.Context, v *video.Video) error {
	defer observe("create", time.Now())

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO videos (id, owner_id, title, description, source_key, status, thumbnail_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.OwnerID, v.Title, v.Description, v.SourceKey, string(v.Status), v.ThumbnailKey, v.CreatedAt.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrExists
		}
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// Get returns the record with its renditions, or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, videoID string) (*video.Video, error) {
	defer observe("get", time.Now())

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, source_key, status, thumbnail_key, created_at
		 FROM videos WHERE id = ?`, videoID)

	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select video: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT label, key FROM renditions WHERE video_id = ?`, videoID)
	if err != nil {
		return nil, fmt.Errorf("select renditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var label, key string
		if err := rows.Scan(&label, &key); err != nil {
			return nil, fmt.Errorf("scan rendition: %w", err)
		}
		if v.ResolutionKeys == nil {
			v.ResolutionKeys = make(map[string]string)
		}
		v.ResolutionKeys[label] = key
	}
	return v, rows.Err()
}

// SetThumbnail records the thumbnail blob key.
func (s *SQLite) SetThumbnail(ctx context.Context, videoID, thumbnailKey string) error {
	defer observe("set_thumbnail", time.Now())
	return s.updateOne(ctx, `UPDATE videos SET thumbnail_key = ? WHERE id = ?`, thumbnailKey, videoID)
}

// AddRendition upserts one rendition entry for the video.
func (s *SQLite) AddRendition(ctx context.Context, videoID, label, key string) error {
	defer observe("add_rendition", time.Now())

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO renditions (video_id, label, key) VALUES (?, ?, ?)
		 ON CONFLICT(video_id, label) DO UPDATE SET key = excluded.key`,
		videoID, label, key)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			// FK violation: the parent record is gone.
			return ErrNotFound
		}
		return fmt.Errorf("insert rendition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates the lifecycle state.
func (s *SQLite) SetStatus(ctx context.Context, videoID string, status video.Status) error {
	defer observe("set_status", time.Now())
	return s.updateOne(ctx, `UPDATE videos SET status = ? WHERE id = ?`, string(status), videoID)
}

func (s *SQLite) updateOne(ctx context.Context, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of matching records, newest first.
func (s *SQLite) List(ctx context.Context, f Filter, p Page) ([]video.Video, string, error) {
	defer observe("list", time.Now())

	p = clampPage(p)

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var conds []string
	var args []any

	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.CreatedBefore.UnixNano())
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.CreatedAfter.UnixNano())
	}
	if p.Cursor != "" {
		c, err := decodeCursor(p.Cursor)
		if err != nil {
			return nil, "", err
		}
		conds = append(conds, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, c.CreatedAt, c.CreatedAt, c.VideoID)
	}

	query := `SELECT id, owner_id, title, description, source_key, status, thumbnail_key, created_at FROM videos`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// Fetch one extra row to decide whether a next page exists.
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, p.Size+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []video.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(videos) > p.Size {
		videos = videos[:p.Size]
		last := videos[len(videos)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}

	if err := s.attachRenditions(ctx, videos); err != nil {
		return nil, "", err
	}
	return videos, next, nil
}

func (s *SQLite) attachRenditions(ctx context.Context, videos []video.Video) error {
	for i := range videos {
		rows, err := s.db.QueryContext(ctx, `SELECT label, key FROM renditions WHERE video_id = ?`, videos[i].ID)
		if err != nil {
			return fmt.Errorf("select renditions: %w", err)
		}
		for rows.Next() {
			var label, key string
			if err := rows.Scan(&label, &key); err != nil {
				rows.Close()
				return fmt.Errorf("scan rendition: %w", err)
			}
			if videos[i].ResolutionKeys == nil {
				videos[i].ResolutionKeys = make(map[string]string)
			}
			videos[i].ResolutionKeys[label] = key
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

// Delete removes the record (renditions cascade) or returns ErrNotFound.
func (s *SQLite) Delete(ctx context.Context, videoID string) error {
	defer observe("delete", time.Now())
	return s.updateOne(ctx, `DELETE FROM videos WHERE id = ?`, videoID)
}

// Close closes the underlying connection pool.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*video.Video, error) {
	var v video.Video
	var status string
	var createdAt int64
	if err := row.Scan(&v.ID, &v.OwnerID, &v.Title, &v.Description, &v.SourceKey, &status, &v.ThumbnailKey, &createdAt); err != nil {
		return nil, err
	}
	v.Status = video.Status(status)
	v.CreatedAt = time.Unix(0, createdAt).UTC()
	return &v, nil
}

func observe(op string, start time.Time) {
	metrics.StoreQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.StoreQueriesTotal.WithLabelValues(op).Inc()
}
