package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidhost/internal/metrics"
)

// Job is one queued transcode request.
type Job struct {
	VideoID   string
	SourceKey string
}

// Processor runs one job to a terminal state. Implemented by Orchestrator.
type Processor interface {
	Process(ctx context.Context, videoID, sourceKey string) error
	Fail(ctx context.Context, videoID string)
}

// Gate can hold a worker back before it picks up the next job. Implemented
// by memory.Monitor.
type Gate interface {
	WaitIfPaused() bool
}

// Queue is the bounded worker pool behind the fire-and-forget trigger. The
// HTTP boundary returns as soon as a job is accepted; completion shows up
// only in the record's status. At most one job per video id is in flight
// at a time, because the record's incremental field updates are not built
// for concurrent writers.
type Queue struct {
	proc    Processor
	gate    Gate
	jobs    chan Job
	logger  zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewQueue starts a pool of workers draining a buffer of capacity jobs.
// jobTimeout bounds one full pipeline run; zero means unbounded. A nil
// gate disables memory backpressure.
func NewQueue(proc Processor, gate Gate, workerCount, capacity int, jobTimeout time.Duration, logger zerolog.Logger) *Queue {
	if workerCount < 1 {
		workerCount = 1
	}
	if capacity < 1 {
		capacity = workerCount * 4
	}

	q := &Queue{
		proc:     proc,
		gate:     gate,
		jobs:     make(chan Job, capacity),
		logger:   logger,
		timeout:  jobTimeout,
		inFlight: make(map[string]struct{}),
	}

	q.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go q.worker()
	}

	logger.Info().Int("workers", workerCount).Int("capacity", capacity).Msg("transcode queue started")
	return q
}

// Enqueue submits a job. It never blocks and never reports an error to the
// caller: duplicates are dropped, and when the queue is saturated the
// record is marked failed so the condition is observable via status
// polling and the job can be re-triggered.
func (q *Queue) Enqueue(videoID, sourceKey string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn().Str("video_id", videoID).Msg("queue shut down, rejecting job")
		q.reject(videoID)
		return
	}
	if _, dup := q.inFlight[videoID]; dup {
		q.mu.Unlock()
		q.logger.Warn().Str("video_id", videoID).Msg("job already in flight, dropping duplicate")
		metrics.PipelineJobsRejected.Inc()
		return
	}
	// The buffered send stays under the same lock as the closed check;
	// Shutdown closes the channel under this lock too, so a send can
	// never race the close.
	select {
	case q.jobs <- Job{VideoID: videoID, SourceKey: sourceKey}:
		q.inFlight[videoID] = struct{}{}
		q.mu.Unlock()
		metrics.PipelineJobsEnqueued.Inc()
		metrics.PipelineQueueDepth.Set(float64(len(q.jobs)))
	default:
		q.mu.Unlock()
		q.logger.Error().Str("video_id", videoID).Msg("queue saturated, rejecting job")
		q.reject(videoID)
	}
}

func (q *Queue) reject(videoID string) {
	metrics.PipelineJobsRejected.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.proc.Fail(ctx, videoID)
}

func (q *Queue) release(videoID string) {
	q.mu.Lock()
	delete(q.inFlight, videoID)
	q.mu.Unlock()
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for job := range q.jobs {
		if q.gate != nil {
			q.gate.WaitIfPaused()
		}

		metrics.PipelineQueueDepth.Set(float64(len(q.jobs)))
		metrics.PipelineJobsInFlight.Inc()

		// Jobs run detached from any request context; the upload
		// request that triggered this already returned.
		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if q.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
		}

		if err := q.proc.Process(ctx, job.VideoID, job.SourceKey); err != nil {
			q.logger.Error().Err(err).Str("video_id", job.VideoID).Msg("transcode job failed")
		}

		cancel()
		metrics.PipelineJobsInFlight.Dec()
		q.release(job.VideoID)
	}
}

// Shutdown stops accepting jobs and waits for in-flight work to drain,
// up to ctx's deadline.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
