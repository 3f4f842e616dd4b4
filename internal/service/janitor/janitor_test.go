package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu      sync.Mutex
	evicted []string
	calls   int
	lastTTL time.Duration
}

func (f *fakeSessions) EvictIdle(_ time.Time, ttl time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastTTL = ttl
	return f.evicted
}

func (f *fakeSessions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweepDisabled(t *testing.T) {
	sessions := &fakeSessions{evicted: []string{"a"}}
	j := New(Config{}, Target{Modality: "video", Sessions: sessions})

	assert.False(t, j.Enabled())
	assert.Equal(t, 0, j.Sweep())
	assert.Equal(t, 0, sessions.callCount())
}

func TestSweepAllTargets(t *testing.T) {
	video := &fakeSessions{evicted: []string{"a", "b"}}
	voice := &fakeSessions{evicted: []string{"c"}}
	j := New(Config{IdleTTL: time.Minute},
		Target{Modality: "video", Sessions: video},
		Target{Modality: "voice", Sessions: voice},
	)

	assert.Equal(t, 3, j.Sweep())
	assert.Equal(t, time.Minute, video.lastTTL)
	assert.Equal(t, 1, voice.callCount())
}

func TestRunRejectsBadSchedule(t *testing.T) {
	j := New(Config{IdleTTL: time.Minute, Schedule: "every so often"})

	err := j.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SWEEP_SCHEDULE")
}

func TestRunSweepsOnSchedule(t *testing.T) {
	sessions := &fakeSessions{}
	j := New(Config{IdleTTL: time.Minute, Schedule: "@every 1s"}, Target{Modality: "voice", Sessions: sessions})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool { return sessions.callCount() > 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunDisabledWaitsForCancel(t *testing.T) {
	j := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, j.Run(ctx))
}

func TestSweepTargetTTLOverride(t *testing.T) {
	video := &fakeSessions{evicted: []string{"a"}}
	clients := &fakeSessions{evicted: []string{"10.0.0.1"}}
	j := New(Config{},
		Target{Modality: "video", Sessions: video},
		Target{Name: "rate_limit", Sessions: clients, IdleTTL: 10 * time.Minute},
	)

	assert.True(t, j.Enabled(), "a target with its own TTL enables the janitor")
	assert.Equal(t, 1, j.Sweep())
	assert.Equal(t, 0, video.callCount(), "session targets stay off without SESSION_IDLE_TTL")
	assert.Equal(t, 1, clients.callCount())
	assert.Equal(t, 10*time.Minute, clients.lastTTL)
}
