package player_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jukebox/internal/player"
	"jukebox/internal/player/scripted"
	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newController(p player.Provider, ttl time.Duration) *player.Controller {
	return player.NewController(p, player.Options{
		Timeout:    200 * time.Millisecond,
		RetryMin:   time.Millisecond,
		RetryMax:   2 * time.Millisecond,
		StateTTL:   ttl,
		MaxRetries: 1,
	}, quietLogger())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		in        error
		want      error
		transient bool
	}{
		{"premium reason", &player.Failure{Status: 403, Reason: "PREMIUM_REQUIRED", Message: "Premium required"}, room.ErrPremiumRequired, false},
		{"premium message", &player.Failure{Status: 403, Message: "Player command failed: Premium required"}, room.ErrPremiumRequired, false},
		{"no device reason", &player.Failure{Status: 404, Reason: "NO_ACTIVE_DEVICE", Message: "No active device found"}, room.ErrNoActiveDevice, false},
		{"no device message", &player.Failure{Status: 404, Message: "Player command failed: No active device found"}, room.ErrNoActiveDevice, false},
		{"bare not found", &player.Failure{Status: 404, Message: "Not Found"}, room.ErrNoActiveDevice, false},
		{"server error", &player.Failure{Status: 502, Message: "bad gateway"}, room.ErrProvider, true},
		{"rate limited", &player.Failure{Status: 429, Message: "slow down"}, room.ErrProvider, true},
		{"bad request", &player.Failure{Status: 400, Message: "malformed"}, room.ErrProvider, false},
		{"network", errors.New("connection reset by peer"), room.ErrProvider, true},
		{"timeout", context.DeadlineExceeded, room.ErrProvider, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := player.Normalize(tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.transient, room.IsTransient(err))
		})
	}

	assert.NoError(t, player.Normalize(nil))
}

func TestControllerRetriesTransientOnce(t *testing.T) {
	fake := scripted.New("T1")
	c := newController(fake, 0)
	defer c.Close()

	fake.FailNext("play", errors.New("connection refused"))
	require.NoError(t, c.Play(context.Background(), "host"))
	assert.EqualValues(t, 2, fake.PlayCalls.Load())

	fake.FailNext("pause", errors.New("connection refused"), errors.New("connection refused"))
	err := c.Pause(context.Background(), "host")
	assert.ErrorIs(t, err, room.ErrProvider)
	assert.True(t, room.Retryable(err))
	assert.EqualValues(t, 2, fake.PauseCalls.Load())
}

func TestControllerDoesNotRetryPermanentFailures(t *testing.T) {
	fake := scripted.New("T1")
	c := newController(fake, 0)
	defer c.Close()

	fake.FailNext("play", &player.Failure{Status: 403, Reason: "PREMIUM_REQUIRED", Message: "Premium required"})
	err := c.Play(context.Background(), "host")
	assert.ErrorIs(t, err, room.ErrPremiumRequired)
	assert.False(t, room.Retryable(err))
	assert.EqualValues(t, 1, fake.PlayCalls.Load())
}

func TestControllerDoesNotRetrySkip(t *testing.T) {
	fake := scripted.New("T1", "T2")
	c := newController(fake, 0)
	defer c.Close()

	fake.FailNext("skip", errors.New("connection reset"))
	err := c.Skip(context.Background(), "host")
	assert.ErrorIs(t, err, room.ErrProvider)
	assert.EqualValues(t, 1, fake.SkipCalls.Load())
}

func TestControllerTimeout(t *testing.T) {
	fake := scripted.New("T1")
	fake.SetDelay(time.Second)
	c := newController(fake, 0)
	defer c.Close()

	start := time.Now()
	_, err := c.Current(context.Background(), "host")
	assert.ErrorIs(t, err, room.ErrProvider)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "call must be bounded by the timeout")
}

func TestControllerCachesAndCollapsesReads(t *testing.T) {
	fake := scripted.New("T1", "T2")
	fake.SetDelay(20 * time.Millisecond)
	c := newController(fake, time.Minute)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := c.Current(context.Background(), "host")
			assert.NoError(t, err)
			assert.Equal(t, "T1", state.TrackID)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, fake.ReadCalls.Load())

	// Commands invalidate the cached state.
	require.NoError(t, c.Skip(context.Background(), "host"))
	state, err := c.Current(context.Background(), "host")
	require.NoError(t, err)
	assert.Equal(t, "T2", state.TrackID)
	assert.EqualValues(t, 2, fake.ReadCalls.Load())
}

func TestControllerNothingPlaying(t *testing.T) {
	c := newController(scripted.New(), time.Minute)
	defer c.Close()

	state, err := c.Current(context.Background(), "host")
	require.NoError(t, err)
	assert.Nil(t, state)
}

// gatedProvider captures the track when a read starts and holds the first
// read until released, so a command can land while it is in flight.
type gatedProvider struct {
	mu      sync.Mutex
	track   string
	reads   atomic.Int64
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Play(context.Context, string) error { return nil }
func (p *gatedProvider) Pause(context.Context, string) error { return nil }

func (p *gatedProvider) Skip(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = "T2"
	return nil
}

func (p *gatedProvider) CurrentPlayback(context.Context, string) (*models.PlaybackState, error) {
	p.mu.Lock()
	track := p.track
	p.mu.Unlock()

	if p.reads.Add(1) == 1 {
		close(p.started)
		<-p.release
	}
	return &models.PlaybackState{TrackID: track, IsPlaying: true}, nil
}

func TestControllerDiscardsReadOverlappingCommand(t *testing.T) {
	p := &gatedProvider{track: "T1", started: make(chan struct{}), release: make(chan struct{})}
	c := newController(p, time.Minute)
	defer c.Close()
	ctx := context.Background()

	result := make(chan *models.PlaybackState, 1)
	go func() {
		state, err := c.Current(ctx, "host")
		assert.NoError(t, err)
		result <- state
	}()

	<-p.started
	require.NoError(t, c.Skip(ctx, "host"))
	close(p.release)

	state := <-result
	require.NotNil(t, state)
	assert.Equal(t, "T2", state.TrackID, "the pre-skip read must not be handed out")

	cached, err := c.Current(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "T2", cached.TrackID)
	assert.EqualValues(t, 2, p.reads.Load(), "only the fresh read is cached")
}
