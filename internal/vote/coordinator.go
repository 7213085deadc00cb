// Package vote counts vote-to-skip ballots per room and triggers the skip when
// a room's threshold is reached.
//
// Every mutation of a room's tally and current track id runs under that room's
// own mutex, so concurrent ballots are applied one at a time and a threshold
// crossing fires exactly one skip. Rooms never contend with each other. Reads
// go through an atomically published view and never wait on an in-flight skip.
package vote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
)

// Skipper advances the host's playback to the next track.
type Skipper interface {
	Skip(ctx context.Context, hostID string) error
}

// view is an immutable, published picture of a room's tally.
type view struct {
	trackID string
	count   int
	skipped string
}

// tally is the per-room state machine: Empty -> Accumulating -> Triggered,
// then back to Empty for the next track.
type tally struct {
	mu      sync.Mutex
	trackID string
	votes   map[string]string // voterID -> trackID
	skipped string            // track already skipped, waiting for the provider to move on
	current atomic.Pointer[view]
}

func newTally() *tally {
	t := &tally{votes: make(map[string]string)}
	t.current.Store(&view{})
	return t
}

// align purges votes that do not belong to trackID. Must hold t.mu.
func (t *tally) align(trackID string) {
	if t.trackID != trackID {
		t.trackID = trackID
		t.skipped = ""
	}
	for voter, votedFor := range t.votes {
		if votedFor != trackID {
			delete(t.votes, voter)
		}
	}
}

// clear drops every vote. Must hold t.mu.
func (t *tally) clear() {
	t.votes = make(map[string]string)
}

// publish makes the current state visible to readers. Must hold t.mu.
func (t *tally) publish() {
	t.current.Store(&view{trackID: t.trackID, count: len(t.votes), skipped: t.skipped})
}

// Coordinator owns all vote state.
type Coordinator struct {
	store   room.Store
	skipper Skipper
	logger  *logrus.Logger

	mu      sync.Mutex // guards the tallies map only
	tallies map[string]*tally

	triggered atomic.Int64
}

// NewCoordinator creates a coordinator reading thresholds from store and
// skipping through skipper.
func NewCoordinator(store room.Store, skipper Skipper, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		skipper: skipper,
		logger:  logger,
		tallies: make(map[string]*tally),
	}
}

func (c *Coordinator) tallyFor(code string) *tally {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tallies[code]
	if !ok {
		t = newTally()
		c.tallies[code] = t
	}
	return t
}

// Submit records voterID's ballot to skip trackID in room code. The room's
// current track is read from the store inside the room's critical section;
// a ballot for any other track fails with room.ErrStaleTrack. When the count
// reaches the room's threshold the skip is issued once and the tally resets.
// If the skip itself fails the ballots are kept and the error returned.
func (c *Coordinator) Submit(ctx context.Context, code, trackID, voterID string) (models.Tally, error) {
	t := c.tallyFor(code)

	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := c.store.Get(ctx, code)
	if err != nil {
		return models.Tally{}, err
	}

	if trackID == "" || r.CurrentTrackID == "" || trackID != r.CurrentTrackID {
		return models.Tally{}, fmt.Errorf("track %q in room %s: %w", trackID, code, room.ErrStaleTrack)
	}

	t.align(r.CurrentTrackID)
	if t.skipped == trackID {
		return models.Tally{}, fmt.Errorf("track %q in room %s was already skipped: %w", trackID, code, room.ErrStaleTrack)
	}

	t.votes[voterID] = trackID
	count := len(t.votes)

	if count < r.VotesToSkip {
		t.publish()
		return models.Tally{TrackID: trackID, Count: count, Required: r.VotesToSkip}, nil
	}

	if err := c.skipper.Skip(ctx, r.HostID); err != nil {
		t.publish()
		return models.Tally{TrackID: trackID, Count: count, Required: r.VotesToSkip},
			fmt.Errorf("vote-triggered skip in room %s: %w", code, err)
	}

	t.clear()
	t.skipped = trackID
	t.publish()
	c.triggered.Add(1)

	c.logger.WithFields(logrus.Fields{
		"room":     code,
		"track_id": trackID,
		"votes":    count,
		"required": r.VotesToSkip,
	}).Info("Vote threshold reached, track skipped")

	return models.Tally{TrackID: trackID, Count: 0, Required: r.VotesToSkip, Skipped: true}, nil
}

// ForceSkip is the host's direct skip. It runs through the same serialized
// path as a vote-triggered skip and clears the room's ballots.
func (c *Coordinator) ForceSkip(ctx context.Context, code string) error {
	t := c.tallyFor(code)

	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := c.store.Get(ctx, code)
	if err != nil {
		return err
	}

	if err := c.skipper.Skip(ctx, r.HostID); err != nil {
		return fmt.Errorf("skip in room %s: %w", code, err)
	}

	t.align(r.CurrentTrackID)
	t.clear()
	t.skipped = r.CurrentTrackID
	t.publish()

	c.logger.WithFields(logrus.Fields{
		"room":     code,
		"track_id": r.CurrentTrackID,
	}).Info("Host skipped track")
	return nil
}

// Tally returns the number of live ballots for trackID and the room's
// threshold. It never blocks on a pending skip.
func (c *Coordinator) Tally(ctx context.Context, code, trackID string) (models.Tally, error) {
	r, err := c.store.Get(ctx, code)
	if err != nil {
		return models.Tally{}, err
	}

	v := c.tallyFor(code).current.Load()
	out := models.Tally{TrackID: trackID, Required: r.VotesToSkip}
	if trackID != "" && v.trackID == trackID {
		out.Count = v.count
		out.Skipped = v.skipped == trackID
	}
	return out, nil
}

// ResetTrack moves room code to trackID when the provider reports a new
// track, discarding every ballot. It is a no-op when trackID is already
// current. The change is made under the room's lock, so a ballot for the old
// track that races it either lands before the reset and is discarded, or
// after it and is rejected as stale.
func (c *Coordinator) ResetTrack(ctx context.Context, code, trackID string) (bool, error) {
	t := c.tallyFor(code)

	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := c.store.Get(ctx, code)
	if err != nil {
		return false, err
	}
	if r.CurrentTrackID == trackID {
		return false, nil
	}

	if err := c.store.SetCurrentTrack(ctx, code, trackID); err != nil {
		return false, err
	}

	t.align(trackID)
	t.clear()
	t.publish()

	c.logger.WithFields(logrus.Fields{
		"room":     code,
		"from":     r.CurrentTrackID,
		"track_id": trackID,
	}).Debug("Track changed, votes reset")
	return true, nil
}

// Forget drops the tally of a disposed room.
func (c *Coordinator) Forget(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tallies, code)
}

// Triggered returns how many vote-triggered skips have fired.
func (c *Coordinator) Triggered() int64 {
	return c.triggered.Load()
}

var _ room.Forgetter = (*Coordinator)(nil)
