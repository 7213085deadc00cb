package room

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Forgetter drops in-memory state kept for a room that no longer exists.
type Forgetter interface {
	Forget(code string)
}

// Janitor periodically disposes of rooms nobody has polled or commanded for
// longer than the inactivity window. Disposal is cleanup only; nothing relies
// on it for correctness.
type Janitor struct {
	store    Store
	forget   []Forgetter
	interval time.Duration
	window   atomic.Int64
	logger   *logrus.Logger
	now      func() time.Time
}

// NewJanitor creates a janitor. A zero window disables disposal.
func NewJanitor(store Store, interval, window time.Duration, logger *logrus.Logger, forget ...Forgetter) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	j := &Janitor{
		store:    store,
		forget:   forget,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
	j.window.Store(int64(window))
	return j
}

// SetWindow changes the inactivity window; used by config hot reload.
func (j *Janitor) SetWindow(window time.Duration) {
	j.window.Store(int64(window))
}

// Window returns the current inactivity window.
func (j *Janitor) Window() time.Duration {
	return time.Duration(j.window.Load())
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.WithError(err).Warn("Room cleanup failed")
			}
		}
	}
}

// Sweep performs one cleanup pass and returns the disposed room codes.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	window := j.Window()
	if window <= 0 {
		return nil, nil
	}

	removed, err := j.store.DeleteInactive(ctx, j.now().Add(-window))
	if err != nil {
		return nil, err
	}
	for _, code := range removed {
		for _, f := range j.forget {
			f.Forget(code)
		}
	}
	if len(removed) > 0 {
		j.logger.WithFields(logrus.Fields{
			"rooms":  removed,
			"window": window,
		}).Info("Disposed inactive rooms")
	}
	return removed, nil
}
