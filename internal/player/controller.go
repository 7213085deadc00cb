package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"jukebox/internal/cache"
	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Options tune how the controller talks to the provider.
type Options struct {
	Timeout    time.Duration
	RetryMin   time.Duration
	RetryMax   time.Duration
	StateTTL   time.Duration
	MaxRetries int
}

// DefaultOptions returns conservative settings.
func DefaultOptions() Options {
	return Options{
		Timeout:    5 * time.Second,
		RetryMin:   100 * time.Millisecond,
		RetryMax:   time.Second,
		StateTTL:   500 * time.Millisecond,
		MaxRetries: 1,
	}
}

// Controller wraps a Provider with bounded timeouts, a single retry of
// transient failures, and error normalization. Playback reads are cached per
// host for a short TTL and concurrent reads for the same host are collapsed,
// so many idle pollers cost one upstream request.
type Controller struct {
	provider Provider
	opts     Options
	logger   *logrus.Logger
	states   *cache.MemoryCache[*models.PlaybackState]
	reads    singleflight.Group

	genMu sync.Mutex
	gens  map[string]uint64 // bumped around every command, per host
}

// NewController creates a controller around provider.
func NewController(provider Provider, opts Options, logger *logrus.Logger) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = DefaultOptions().RetryMin
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = opts.RetryMin
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Controller{
		provider: provider,
		opts:     opts,
		logger:   logger,
		states:   cache.NewMemoryCache[*models.PlaybackState](opts.StateTTL),
		gens:     make(map[string]uint64),
	}
}

// Close releases the state cache.
func (c *Controller) Close() {
	c.states.Close()
}

// Play resumes playback on the host's account.
func (c *Controller) Play(ctx context.Context, hostID string) error {
	c.Invalidate(hostID)
	err := c.withRetry(ctx, "play", true, func(ctx context.Context) error {
		return c.provider.Play(ctx, hostID)
	})
	c.Invalidate(hostID)
	return err
}

// Pause pauses playback on the host's account.
func (c *Controller) Pause(ctx context.Context, hostID string) error {
	c.Invalidate(hostID)
	err := c.withRetry(ctx, "pause", true, func(ctx context.Context) error {
		return c.provider.Pause(ctx, hostID)
	})
	c.Invalidate(hostID)
	return err
}

// Skip advances to the next track. It is not retried: a timed-out skip may
// still have been applied upstream, and a second one would skip two tracks.
func (c *Controller) Skip(ctx context.Context, hostID string) error {
	c.Invalidate(hostID)
	err := c.withRetry(ctx, "skip", false, func(ctx context.Context) error {
		return c.provider.Skip(ctx, hostID)
	})
	c.Invalidate(hostID)
	return err
}

// Current returns the host's playback state, nil when nothing is playing.
func (c *Controller) Current(ctx context.Context, hostID string) (*models.PlaybackState, error) {
	if state, ok := c.states.Get(hostID); ok {
		return state, nil
	}

	v, err, _ := c.reads.Do(hostID, func() (interface{}, error) {
		if state, ok := c.states.Get(hostID); ok {
			return state, nil
		}
		// Detached so one impatient poller cannot fail the shared read for the others.
		readCtx := context.WithoutCancel(ctx)

		// A read that overlapped a command may describe the player before it;
		// read again rather than hand that state out.
		var state *models.PlaybackState
		for attempt := 0; attempt < 3; attempt++ {
			gen := c.generation(hostID)
			err := c.withRetry(readCtx, "current", true, func(ctx context.Context) error {
				var err error
				state, err = c.provider.CurrentPlayback(ctx, hostID)
				return err
			})
			if err != nil {
				return nil, err
			}
			if c.generation(hostID) == gen {
				c.states.Set(hostID, state)
				return state, nil
			}
		}
		return state, nil
	})
	if err != nil {
		return nil, err
	}

	state, _ := v.(*models.PlaybackState)
	return state, nil
}

// Invalidate forces the next Current call for hostID to go upstream. Reads
// already in flight are discarded instead of cached.
func (c *Controller) Invalidate(hostID string) {
	c.genMu.Lock()
	c.gens[hostID]++
	c.genMu.Unlock()

	c.states.Delete(hostID)
	c.reads.Forget(hostID)
}

func (c *Controller) generation(hostID string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gens[hostID]
}

func (c *Controller) withRetry(ctx context.Context, op string, retry bool, call func(context.Context) error) error {
	b := &backoff.Backoff{
		Min:    c.opts.RetryMin,
		Max:    c.opts.RetryMax,
		Factor: 2,
		Jitter: true,
	}

	attempts := 1
	if retry {
		attempts += c.opts.MaxRetries
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.callOnce(ctx, call)
		if err == nil {
			return nil
		}
		if !room.IsTransient(err) || attempt == attempts {
			break
		}

		delay := b.Duration()
		c.logger.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"delay":   delay,
		}).Debug("Retrying provider call")

		select {
		case <-ctx.Done():
			return Normalize(ctx.Err())
		case <-time.After(delay):
		}
	}

	c.logger.WithError(err).WithField("op", op).Warn("Provider call failed")
	return err
}

func (c *Controller) callOnce(ctx context.Context, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := call(ctx); err != nil {
		if ctx.Err() != nil && !errors.Is(err, room.ErrPremiumRequired) && !errors.Is(err, room.ErrNoActiveDevice) {
			return Normalize(ctx.Err())
		}
		return Normalize(err)
	}
	return nil
}

// Normalize maps whatever the provider returned onto the room error taxonomy.
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, room.ErrPremiumRequired) || errors.Is(err, room.ErrNoActiveDevice) || errors.Is(err, room.ErrProvider) {
		return err
	}

	var f *Failure
	if errors.As(err, &f) {
		return normalizeFailure(f)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &room.ProviderError{Message: "provider request timed out", Transient: true}
	}
	if errors.Is(err, context.Canceled) {
		return &room.ProviderError{Message: "provider request cancelled", Transient: true}
	}

	return &room.ProviderError{Message: err.Error(), Transient: true}
}

func normalizeFailure(f *Failure) error {
	reason := strings.ToUpper(f.Reason)
	switch {
	case reason == ReasonPremiumRequired:
		return fmt.Errorf("%s: %w", f.Message, room.ErrPremiumRequired)
	case reason == ReasonNoActiveDevice:
		return fmt.Errorf("%s: %w", f.Message, room.ErrNoActiveDevice)
	case f.Status == http.StatusForbidden && strings.Contains(strings.ToLower(f.Message), "premium"):
		return fmt.Errorf("%s: %w", f.Message, room.ErrPremiumRequired)
	case f.Status == http.StatusNotFound:
		// The player endpoints answer 404 only when no device is listening.
		return fmt.Errorf("%s: %w", f.Message, room.ErrNoActiveDevice)
	}

	return &room.ProviderError{
		Message:   f.Message,
		Status:    f.Status,
		Transient: f.Status >= 500 || f.Status == http.StatusTooManyRequests,
	}
}
