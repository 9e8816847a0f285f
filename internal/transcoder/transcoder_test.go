package transcoder

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script standing in for a tool
// binary.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

const probeJSON = `{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":1920,"height":1080}],"format":{"duration":"12.5"}}`

func TestProbe(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFprobePath: writeScript(t, "ffprobe", `printf '%s' '`+probeJSON+`'`),
	})

	info, err := tr.Probe(context.Background(), "source.mp4")
	require.NoError(t, err)
	assert.Equal(t, 12.5, info.Duration)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
}

func TestProbeToolFailure(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFprobePath: writeScript(t, "ffprobe", `echo 'no such file' >&2; exit 1`),
	})

	_, err := tr.Probe(context.Background(), "missing.mp4")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "no such file")
}

func TestProbeBadJSON(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFprobePath: writeScript(t, "ffprobe", `echo 'not json'`),
	})

	_, err := tr.Probe(context.Background(), "source.mp4")
	assert.Error(t, err)
}

func TestExtractThumbnail(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFprobePath: writeScript(t, "ffprobe", `printf '%s' '`+probeJSON+`'`),
		FFmpegPath:  writeScript(t, "ffmpeg", `printf 'FRAMEDATA'`),
	})

	out, err := tr.ExtractThumbnail(context.Background(), "source.mp4")
	require.NoError(t, err)

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "FRAMEDATA", string(data))
	assert.NoError(t, out.Close())
}

func TestExtractThumbnailZeroDuration(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFprobePath: writeScript(t, "ffprobe", `printf '%s' '{"streams":[],"format":{"duration":"0"}}'`),
	})

	_, err := tr.ExtractThumbnail(context.Background(), "empty.mp4")
	assert.ErrorIs(t, err, ErrZeroDuration)
}

func TestTranscodeStreamsOutput(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFmpegPath: writeScript(t, "ffmpeg", `printf 'ENCODED'`),
	})

	out, err := tr.Transcode(context.Background(), "source.mp4", "854:480")
	require.NoError(t, err)

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "ENCODED", string(data))
	require.NoError(t, out.Close())

	// Close is idempotent.
	require.NoError(t, out.Close())
}

func TestTranscodeNonZeroExit(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFmpegPath: writeScript(t, "ffmpeg", `printf 'PARTIAL'; echo 'encoder blew up' >&2; exit 3`),
	})

	out, err := tr.Transcode(context.Background(), "source.mp4", "854:480")
	require.NoError(t, err)

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "PARTIAL", string(data), "partial output still streams before the failure surfaces")

	closeErr := out.Close()
	var exitErr *ExitError
	require.ErrorAs(t, closeErr, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "encoder blew up")
}

func TestTranscodeSpawnFailure(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFmpegPath: filepath.Join(t.TempDir(), "does-not-exist"),
	})

	_, err := tr.Transcode(context.Background(), "source.mp4", "854:480")

	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestTranscodeTimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFmpegPath: writeScript(t, "ffmpeg", `sleep 30`),
		Timeout:    100 * time.Millisecond,
	})

	out, err := tr.Transcode(context.Background(), "source.mp4", "854:480")
	require.NoError(t, err)

	start := time.Now()
	_, _ = io.ReadAll(out)
	assert.Error(t, out.Close())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCloseUnblocksAbandonedStream(t *testing.T) {
	t.Parallel()

	// No timeout: Close alone must unblock a tool stuck writing into the
	// full pipe when the caller stops reading mid-stream.
	tr := New(Config{
		FFmpegPath: writeScript(t, "ffmpeg", `while :; do printf 'xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx'; done`),
	})

	out, err := tr.Transcode(context.Background(), "source.mp4", "854:480")
	require.NoError(t, err)

	buf := make([]byte, 1024)
	_, err = io.ReadFull(out, buf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- out.Close() }()

	select {
	case closeErr := <-done:
		// Abandoning a healthy invocation is not a tool failure.
		assert.NoError(t, closeErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on an abandoned stream")
	}
}

func TestCloseAbandonedStreamReportsRealExit(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFmpegPath: writeScript(t, "ffmpeg", `printf 'data'; echo 'bad input' >&2; exit 3`),
	})

	out, err := tr.Transcode(context.Background(), "source.mp4", "854:480")
	require.NoError(t, err)

	// Give the short-lived tool time to exit on its own, then close
	// without draining: the genuine non-zero exit must not be mistaken
	// for the abandonment kill.
	time.Sleep(500 * time.Millisecond)

	closeErr := out.Close()
	var exitErr *ExitError
	require.ErrorAs(t, closeErr, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestCleanupKillsInFlight(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		FFmpegPath: writeScript(t, "ffmpeg", `sleep 30`),
	})

	out, err := tr.Transcode(context.Background(), "source.mp4", "854:480")
	require.NoError(t, err)

	tr.Cleanup()

	done := make(chan error, 1)
	go func() {
		_, _ = io.ReadAll(out)
		done <- out.Close()
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not terminate after Cleanup")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	// A real exec.ExitError needs a real failed command.
	cmd := exec.Command("sh", "-c", "exit 7")
	runErr := cmd.Run()
	require.Error(t, runErr)

	err := classify("ffmpeg", runErr, []byte("  diagnostics  \n"))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.Code)
	assert.Equal(t, "diagnostics", exitErr.Stderr)

	err = classify("ffmpeg", errors.New("fork failed"), nil)
	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	b := &tailBuffer{limit: 8}

	_, err := b.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, "abcd", b.String())

	_, err = b.Write([]byte("efghijkl"))
	require.NoError(t, err)
	assert.Equal(t, "efghijkl", b.String(), "only the tail is retained")

	_, err = b.Write([]byte(strings.Repeat("x", 20)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 8), b.String())
}
