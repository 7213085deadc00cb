// Package scripted provides an in-memory Provider that plays a fixed queue of
// tracks. It backs the "fake" provider mode and the tests.
package scripted

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jukebox/pkg/models"
)

// Provider plays a single queue of tracks shared by every host. Skip advances
// the queue; errors can be injected per operation. It also stands in for
// account linking, treating every participant as linked.
type Provider struct {
	mu      sync.Mutex
	queue   []models.PlaybackState
	pos     int
	playing bool
	errs    map[string][]error
	delay   time.Duration

	PlayCalls  atomic.Int64
	PauseCalls atomic.Int64
	SkipCalls  atomic.Int64
	ReadCalls  atomic.Int64
}

// New creates a provider playing the given track ids in order.
func New(trackIDs ...string) *Provider {
	f := &Provider{errs: make(map[string][]error), playing: true}
	for i, id := range trackIDs {
		f.queue = append(f.queue, models.PlaybackState{
			TrackID:    id,
			Title:      fmt.Sprintf("Track %d", i+1),
			Artist:     "Test Artist",
			DurationMs: 180000,
			ImageURL:   "https://img.example/" + id,
		})
	}
	return f
}

// FailNext queues errors returned by successive calls of op
// ("play", "pause", "skip", "current").
func (f *Provider) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

// SetDelay makes every call block for d or until ctx is done.
func (f *Provider) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// SetTrack jumps to the track with the given id, as if the host changed it.
func (f *Provider) SetTrack(trackID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.queue {
		if s.TrackID == trackID {
			f.pos = i
			return
		}
	}
	f.queue = append(f.queue, models.PlaybackState{TrackID: trackID, Title: trackID})
	f.pos = len(f.queue) - 1
}

// IsPlaying reports the provider's play state.
func (f *Provider) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *Provider) begin(ctx context.Context, op string) error {
	f.mu.Lock()
	delay := f.delay
	var err error
	if q := f.errs[op]; len(q) > 0 {
		err, f.errs[op] = q[0], q[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (f *Provider) Play(ctx context.Context, _ string) error {
	f.PlayCalls.Add(1)
	if err := f.begin(ctx, "play"); err != nil {
		return err
	}
	f.mu.Lock()
	f.playing = true
	f.mu.Unlock()
	return nil
}

func (f *Provider) Pause(ctx context.Context, _ string) error {
	f.PauseCalls.Add(1)
	if err := f.begin(ctx, "pause"); err != nil {
		return err
	}
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
	return nil
}

func (f *Provider) Skip(ctx context.Context, _ string) error {
	f.SkipCalls.Add(1)
	if err := f.begin(ctx, "skip"); err != nil {
		return err
	}
	f.mu.Lock()
	if f.pos < len(f.queue) {
		f.pos++
	}
	f.mu.Unlock()
	return nil
}

func (f *Provider) CurrentPlayback(ctx context.Context, _ string) (*models.PlaybackState, error) {
	f.ReadCalls.Add(1)
	if err := f.begin(ctx, "current"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.queue) {
		return nil, nil
	}
	state := f.queue[f.pos]
	state.IsPlaying = f.playing
	state.ProgressMs = 1000
	return &state, nil
}

// AuthURL sends the participant straight back to the redirect handler.
func (f *Provider) AuthURL(string) string {
	return "/spotify/redirect?code=fake"
}

func (f *Provider) Exchange(context.Context, string, string) error { return nil }

func (f *Provider) IsAuthenticated(context.Context, string) bool { return true }
