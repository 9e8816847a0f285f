package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vidhost/internal/blob"
	"vidhost/internal/metrics"
	"vidhost/internal/store"
	"vidhost/internal/video"
)

// thumbnail frames are normalized to a bounded size before upload.
const (
	thumbnailMaxWidth  = 640
	thumbnailMaxHeight = 360
)

// MediaTranscoder is the external-tool wrapper the pipeline drives.
type MediaTranscoder interface {
	ExtractThumbnail(ctx context.Context, sourceRef string) (io.ReadCloser, error)
	Transcode(ctx context.Context, sourceRef, scale string) (io.ReadCloser, error)
}

// Config tunes one orchestrator instance.
type Config struct {
	// Renditions is the ordered target set; every entry must succeed for
	// the video to reach the processed state.
	Renditions []video.Rendition

	// RenditionParallelism bounds concurrent renditions within one job.
	// Zero means run all renditions of a job concurrently.
	RenditionParallelism int

	// SourceURLTTL is the validity window of the signed source URL handed
	// to the external tool. Must outlive the slowest rendition.
	SourceURLTTL time.Duration
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Renditions:           video.DefaultRenditions,
		RenditionParallelism: 0,
		SourceURLTTL:         time.Hour,
	}
}

// Orchestrator drives one uploaded video through the full pipeline: signed
// source URL, thumbnail extraction, rendition fan-out, terminal status.
// All collaborators are injected; the orchestrator holds no global state.
type Orchestrator struct {
	store  store.Store
	blobs  blob.Store
	trans  MediaTranscoder
	cfg    Config
	logger zerolog.Logger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(st store.Store, blobs blob.Store, trans MediaTranscoder, cfg Config, logger zerolog.Logger) *Orchestrator {
	if len(cfg.Renditions) == 0 {
		cfg.Renditions = video.DefaultRenditions
	}
	if cfg.SourceURLTTL <= 0 {
		cfg.SourceURLTTL = time.Hour
	}
	return &Orchestrator{
		store:  st,
		blobs:  blobs,
		trans:  trans,
		cfg:    cfg,
		logger: logger,
	}
}

// Process drives videoID to a terminal state. Every failure is absorbed
// into a failed status update; the returned error is informational for the
// queue's logging, there is no synchronous caller to propagate to.
//
// Re-running after a failure is safe: blob keys are deterministic, so
// renditions overwrite rather than duplicate, and the record transitions
// failed -> processing -> processed.
func (o *Orchestrator) Process(ctx context.Context, videoID, sourceKey string) error {
	start := time.Now()
	logger := o.logger.With().Str("video_id", videoID).Logger()

	rec, err := o.store.Get(ctx, videoID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec.Status == video.StatusProcessed {
		logger.Info().Msg("video already processed, skipping")
		return nil
	}

	lc := video.NewLifecycle(videoID, o.store)
	if rec.Status == video.StatusFailed {
		if err := lc.Restart(ctx); err != nil {
			return fmt.Errorf("restart failed record: %w", err)
		}
		logger.Info().Msg("retrying failed video")
	}

	if err := o.run(ctx, logger, lc, videoID, sourceKey); err != nil {
		logger.Error().Err(err).Msg("pipeline failed")
		if failErr := lc.MarkFailed(ctx); failErr != nil {
			// The record may stay stuck in processing; an external
			// reconciliation sweep or manual retry has to pick it up.
			logger.Error().Err(failErr).Msg("failed to record terminal status")
		}
		metrics.PipelineJobsCompleted.WithLabelValues(string(video.StatusFailed)).Inc()
		metrics.PipelineJobDuration.Observe(time.Since(start).Seconds())
		return err
	}

	if err := lc.MarkProcessed(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to record terminal status")
		return err
	}

	metrics.PipelineJobsCompleted.WithLabelValues(string(video.StatusProcessed)).Inc()
	metrics.PipelineJobDuration.Observe(time.Since(start).Seconds())
	logger.Info().Dur("elapsed", time.Since(start)).Msg("video processed")
	return nil
}

// run executes the fallible middle of the pipeline. The thumbnail step and
// each rendition are independent, so they share one bounded group. Steps
// that already committed their keys are not rolled back when a sibling
// fails; the public listing only trusts processed records.
func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, lc *video.Lifecycle, videoID, sourceKey string) error {
	sourceRef, err := o.blobs.SignedURL(ctx, sourceKey, o.cfg.SourceURLTTL, blob.OpRead)
	if err != nil {
		return fmt.Errorf("sign source url: %w", err)
	}

	// Plain group, not derived from ctx: a failing rendition must not
	// cancel its siblings, their partial results are kept.
	var g errgroup.Group
	if o.cfg.RenditionParallelism > 0 {
		g.SetLimit(o.cfg.RenditionParallelism + 1) // +1 for the thumbnail slot
	}

	g.Go(func() error {
		if err := o.produceThumbnail(ctx, lc, videoID, sourceRef); err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		return nil
	})

	for _, r := range o.cfg.Renditions {
		r := r
		g.Go(func() error {
			if err := o.produceRendition(ctx, lc, videoID, sourceRef, r); err != nil {
				return fmt.Errorf("rendition %s: %w", r.Label, err)
			}
			logger.Debug().Str("resolution", r.Label).Msg("rendition complete")
			return nil
		})
	}

	return g.Wait()
}

// produceThumbnail extracts one frame, normalizes it to a bounded JPEG and
// uploads it, then records the key.
func (o *Orchestrator) produceThumbnail(ctx context.Context, lc *video.Lifecycle, videoID, sourceRef string) error {
	frame, err := o.trans.ExtractThumbnail(ctx, sourceRef)
	if err != nil {
		return err
	}

	img, decodeErr := imaging.Decode(frame)
	toolErr := frame.Close()
	if toolErr != nil {
		return toolErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode frame: %w", decodeErr)
	}

	img = imaging.Fit(img, thumbnailMaxWidth, thumbnailMaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	key := video.ThumbnailKey(videoID)
	if err := o.blobs.Upload(ctx, key, &buf, "image/jpeg"); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}
	return lc.RecordThumbnail(ctx, key)
}

// produceRendition pipes one scaled re-encode straight into the blob
// upload, then records the key once both the upload and the tool's exit
// status confirm success.
func (o *Orchestrator) produceRendition(ctx context.Context, lc *video.Lifecycle, videoID, sourceRef string, r video.Rendition) error {
	out, err := o.trans.Transcode(ctx, sourceRef, r.Scale())
	if err != nil {
		return err
	}

	key := video.RenditionKey(videoID, r.Label)
	uploadErr := o.blobs.Upload(ctx, key, out, "video/mp4")

	// Close reports the tool's exit status. A non-zero exit after a
	// "successful" upload means the blob holds truncated output; the key
	// is not recorded and the orphan is overwritten on retry.
	if toolErr := out.Close(); toolErr != nil {
		return toolErr
	}
	if uploadErr != nil {
		return fmt.Errorf("upload rendition: %w", uploadErr)
	}

	if err := lc.RecordRendition(ctx, r.Label, key); err != nil {
		return err
	}
	metrics.RenditionsProduced.WithLabelValues(r.Label).Inc()
	return nil
}

// Fail force-marks a record failed outside a pipeline run, used by the
// queue when a job cannot even be accepted.
func (o *Orchestrator) Fail(ctx context.Context, videoID string) {
	if err := o.store.SetStatus(ctx, videoID, video.StatusFailed); err != nil {
		o.logger.Error().Err(err).Str("video_id", videoID).Msg("failed to mark video failed")
	}
}
