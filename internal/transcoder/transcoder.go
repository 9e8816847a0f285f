package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"vidhost/internal/metrics"
)

// ErrZeroDuration indicates the source has no playable duration, so no
// thumbnail frame can be extracted.
var ErrZeroDuration = errors.New("source has zero duration")

// SpawnError indicates the external tool could not be started at all
// (missing binary, permission problem).
type SpawnError struct {
	Tool string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError indicates the external tool started but exited non-zero.
// Stderr carries the tail of the tool's diagnostic output.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.Code, e.Stderr)
}

// stderrLimit caps how much diagnostic output is retained per invocation.
const stderrLimit = 4 * 1024

// Config controls the external tool invocations. Encoder settings are
// fixed; only the binaries and the per-invocation timeout vary.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// Timeout bounds one invocation's wall clock; the subprocess is
	// killed when exceeded. Zero means no bound.
	Timeout time.Duration
}

// DefaultConfig returns the standard tool configuration.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Timeout:     10 * time.Minute,
	}
}

// Transcoder wraps the external media tool as awaitable streaming
// operations. Output is piped, never materialized on disk, so memory is
// bounded by the tool's internal buffering.
type Transcoder struct {
	cfg Config

	processMu sync.Mutex
	processes map[*exec.Cmd]struct{}
}

// New creates a Transcoder.
func New(cfg Config) *Transcoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Transcoder{
		cfg:       cfg,
		processes: make(map[*exec.Cmd]struct{}),
	}
}

// SourceInfo describes a probed media source.
type SourceInfo struct {
	Duration float64
	Width    int
	Height   int
}

// probeOutput is the subset of ffprobe's JSON we care about.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects the source and returns its duration and dimensions.
// sourceRef may be a local path or any URL the tool can read.
func (t *Transcoder) Probe(ctx context.Context, sourceRef string) (*SourceInfo, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourceRef,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		metrics.TranscoderInvocations.WithLabelValues("probe", "error").Inc()
		return nil, classify(t.cfg.FFprobePath, err, stderr.Bytes())
	}
	metrics.TranscoderInvocations.WithLabelValues("probe", "ok").Inc()

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode probe output: %w", err)
	}

	info := &SourceInfo{}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	return info, nil
}

// ExtractThumbnail pulls one representative frame as a JPEG stream: the
// frame at the 1-second mark, or the first frame when the source is
// shorter. Fails with ErrZeroDuration for empty sources.
func (t *Transcoder) ExtractThumbnail(ctx context.Context, sourceRef string) (io.ReadCloser, error) {
	info, err := t.Probe(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	if info.Duration <= 0 {
		return nil, ErrZeroDuration
	}

	seek := "00:00:01"
	if info.Duration < 1 {
		seek = "00:00:00"
	}

	args := []string{
		"-i", sourceRef,
		"-ss", seek,
		"-vframes", "1",
		"-f", "image2",
		"pipe:1",
	}
	return t.start(ctx, "thumbnail", args)
}

// Transcode re-encodes the source at the given scale ("854:480") to a
// fragmented MP4 streamed on the returned reader. The caller must drain the
// stream and then Close it; Close reports the tool's exit status.
func (t *Transcoder) Transcode(ctx context.Context, sourceRef, scale string) (io.ReadCloser, error) {
	args := []string{
		"-i", sourceRef,
		"-vf", "scale=" + scale,
		"-c:v", "libx264",
		"-crf", "23",
		"-preset", "medium",
		"-c:a", "aac",
		// Fragmented output: pipe:1 is not seekable, so the muxer
		// cannot rewrite the moov atom at the end.
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4",
		"pipe:1",
	}
	return t.start(ctx, "transcode", args)
}

// start launches the tool and returns its stdout as a stream. The stream's
// Close waits for the process and surfaces a typed failure.
func (t *Transcoder) start(ctx context.Context, operation string, args []string) (io.ReadCloser, error) {
	var cancel context.CancelFunc
	if t.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(ctx, t.cfg.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		metrics.TranscoderInvocations.WithLabelValues(operation, "error").Inc()
		return nil, &SpawnError{Tool: t.cfg.FFmpegPath, Err: err}
	}

	t.processMu.Lock()
	t.processes[cmd] = struct{}{}
	t.processMu.Unlock()

	return &stream{
		t:         t,
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		cancel:    cancel,
		operation: operation,
	}, nil
}

// stream is a running tool invocation's output.
type stream struct {
	t         *Transcoder
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *tailBuffer
	cancel    context.CancelFunc
	operation string

	drained   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		s.drained.Store(true)
	}
	return n, err
}

// Close waits for the subprocess and reports its exit status. A non-zero
// exit surfaces as *ExitError with the captured diagnostics.
//
// Closing an undrained stream abandons the invocation: the tool may be
// blocked writing into the full pipe, so it is unblocked and killed before
// the wait. An abandoned tool that was killed is not a tool failure and
// Close returns nil for it; one that had already exited non-zero on its
// own still reports the real *ExitError.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		defer s.cancel()

		abandoned := !s.drained.Load()
		if abandoned {
			s.stdout.Close()
			s.cancel()
		}

		err := s.cmd.Wait()

		s.t.processMu.Lock()
		delete(s.t.processes, s.cmd)
		s.t.processMu.Unlock()

		if err != nil {
			if abandoned && exitedFromKill(err) {
				metrics.TranscoderInvocations.WithLabelValues(s.operation, "canceled").Inc()
				return
			}
			metrics.TranscoderInvocations.WithLabelValues(s.operation, "error").Inc()
			log.Error().
				Str("operation", s.operation).
				Str("stderr", s.stderr.String()).
				Msg("transcoder invocation failed")
			s.closeErr = classify(s.cmd.Path, err, s.stderr.Bytes())
			return
		}
		metrics.TranscoderInvocations.WithLabelValues(s.operation, "ok").Inc()
	})
	return s.closeErr
}

// exitedFromKill reports whether the wait error is the signal-terminated
// exit our own kill produces, as opposed to a real tool exit code.
func exitedFromKill(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == -1
}

// Cleanup kills all in-flight tool invocations, for shutdown.
func (t *Transcoder) Cleanup() {
	t.processMu.Lock()
	defer t.processMu.Unlock()

	for cmd := range t.processes {
		if cmd.Process != nil {
			log.Info().Int("pid", cmd.Process.Pid).Msg("killing transcoder process")
			if err := cmd.Process.Kill(); err != nil {
				log.Warn().Err(err).Msg("failed to kill transcoder process")
			}
		}
	}
}

// classify turns an exec failure into the package's typed errors.
func classify(tool string, err error, stderr []byte) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Tool:   tool,
			Code:   exitErr.ExitCode(),
			Stderr: string(bytes.TrimSpace(stderr)),
		}
	}
	return &SpawnError{Tool: tool, Err: err}
}

// tailBuffer keeps the last limit bytes written, so long tool runs do not
// accumulate unbounded diagnostics.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

func (b *tailBuffer) String() string { return string(b.Bytes()) }
