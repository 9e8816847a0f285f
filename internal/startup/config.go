// Package startup loads and validates process configuration from the
// environment and owns the one-time wiring checks done before the server
// accepts traffic.
package startup

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"vidhost/internal/video"
)

// Store and blob backend selectors.
const (
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"

	BlobS3 = "s3"
	BlobFS = "fs"
)

// Config holds all application configuration.
type Config struct {
	Port string

	// Metadata store
	StoreBackend string // "sqlite" or "dynamodb"
	DatabasePath string // sqlite file
	DynamoTable  string

	// Blob store
	BlobBackend   string // "s3" or "fs"
	S3Bucket      string
	BlobDir       string // fs root
	PublicBaseURL string // prefix for fs read URLs

	// Cache (optional; empty addr disables)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Pipeline
	Renditions       []video.Rendition
	WorkerLimit      int
	QueueCapacity    int
	MemoryLimit      int64 // soft heap limit for job backpressure (0 = GOMEMLIMIT)
	JobTimeout       time.Duration
	TranscodeTimeout time.Duration
	SignedURLTTL     time.Duration

	// External tools
	FFmpegPath  string
	FFprobePath string
}

// LoadConfig loads and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		StoreBackend: getEnv("STORE_BACKEND", StoreSQLite),
		DatabasePath: getEnv("DATABASE_PATH", "/database/vidhost.db"),
		DynamoTable:  getEnv("DYNAMO_TABLE", ""),

		BlobBackend:   getEnv("BLOB_BACKEND", BlobFS),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		BlobDir:       getEnv("BLOB_DIR", "/blobs"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		WorkerLimit:   getEnvInt("WORKER_LIMIT", 8),
		QueueCapacity: getEnvInt("QUEUE_CAPACITY", 64),
		MemoryLimit:   int64(getEnvInt("MEMORY_LIMIT_BYTES", 0)),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
	}

	var err error
	if cfg.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TranscodeTimeout, err = getEnvDuration("TRANSCODE_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SignedURLTTL, err = getEnvDuration("SIGNED_URL_TTL", time.Hour); err != nil {
		return nil, err
	}

	if cfg.Renditions, err = parseRenditions(getEnv("RESOLUTIONS", "360,480,720")); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case StoreSQLite:
		if cfg.DatabasePath == "" {
			return nil, fmt.Errorf("DATABASE_PATH is required with the sqlite store")
		}
	case StoreDynamoDB:
		if cfg.DynamoTable == "" {
			return nil, fmt.Errorf("DYNAMO_TABLE is required with the dynamodb store")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.BlobBackend {
	case BlobS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required with the s3 blob store")
		}
	case BlobFS:
		if cfg.BlobDir == "" {
			return nil, fmt.Errorf("BLOB_DIR is required with the fs blob store")
		}
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}

	if err := checkTool(cfg.FFmpegPath); err != nil {
		return nil, err
	}
	if err := checkTool(cfg.FFprobePath); err != nil {
		return nil, err
	}

	return cfg, nil
}

// knownRenditions maps a resolution label to its output dimensions.
var knownRenditions = map[string]video.Rendition{
	"360":  {Label: "360", Width: 640, Height: 360},
	"480":  {Label: "480", Width: 854, Height: 480},
	"720":  {Label: "720", Width: 1280, Height: 720},
	"1080": {Label: "1080", Width: 1920, Height: 1080},
}

func parseRenditions(raw string) ([]video.Rendition, error) {
	var out []video.Rendition
	for _, label := range strings.Split(raw, ",") {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		r, ok := knownRenditions[label]
		if !ok {
			return nil, fmt.Errorf("unknown resolution %q in RESOLUTIONS", label)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("RESOLUTIONS must name at least one resolution")
	}
	return out, nil
}

// checkTool verifies the external binary exists on PATH before the server
// starts accepting uploads it cannot process.
func checkTool(path string) error {
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("external tool %q not found: %w", path, err)
	}
	return nil
}

// LogConfig emits the effective configuration at startup.
func LogConfig(cfg *Config) {
	labels := make([]string, 0, len(cfg.Renditions))
	for _, r := range cfg.Renditions {
		labels = append(labels, r.Label)
	}

	log.Info().
		Str("port", cfg.Port).
		Str("store", cfg.StoreBackend).
		Str("blobs", cfg.BlobBackend).
		Strs("resolutions", labels).
		Bool("cache", cfg.RedisAddr != "").
		Msg("configuration loaded")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer environment value")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", key, err)
	}
	return d, nil
}
