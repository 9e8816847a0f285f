package memory

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorDisabledWithoutLimit(t *testing.T) {
	m := NewMonitor(Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Millisecond,
	}, zerolog.Nop())
	// GOMEMLIMIT is unset in tests, so the monitor runs with no limit.
	if m.limit != 0 {
		t.Skip("GOMEMLIMIT is set in this environment")
	}

	m.Start()
	defer m.Stop()

	assert.False(t, m.ShouldThrottle())
	assert.Zero(t, m.Usage())
	assert.True(t, m.WaitIfPaused())
}

func TestMonitorPausesAboveCriticalMark(t *testing.T) {
	// A 1-byte limit guarantees the very first sample is critical.
	m := NewMonitor(Config{
		LimitBytes:        1,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Millisecond,
	}, zerolog.Nop())

	m.checkMemory()

	assert.True(t, m.isPaused)
	assert.True(t, m.ShouldThrottle())
	assert.Greater(t, m.Usage(), 1.0)
}

func TestWaitIfPausedReleasesOnStop(t *testing.T) {
	m := NewMonitor(Config{
		LimitBytes:        1,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Hour,
	}, zerolog.Nop())
	m.checkMemory()
	require.True(t, m.isPaused)

	done := make(chan bool, 1)
	go func() { done <- m.WaitIfPaused() }()

	m.Stop()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused did not release on Stop")
	}
}

func TestWaitIfPausedReleasesOnRecovery(t *testing.T) {
	// A huge limit means the recovery sample falls below the high mark.
	m := NewMonitor(Config{
		LimitBytes:        1,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Hour,
	}, zerolog.Nop())
	m.checkMemory()
	require.True(t, m.isPaused)

	done := make(chan bool, 1)
	go func() { done <- m.WaitIfPaused() }()

	m.limit = 1 << 62
	m.checkMemory()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused did not release on recovery")
	}
}
