package jukebox

import (
	"context"
	"fmt"

	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
)

// PlaybackCommander issues play and pause on the host's account.
type PlaybackCommander interface {
	Play(ctx context.Context, hostID string) error
	Pause(ctx context.Context, hostID string) error
}

// SkipVotes is the part of the vote coordinator commands go through. Direct
// skips and vote-triggered skips share its serialized skip path.
type SkipVotes interface {
	Submit(ctx context.Context, code, trackID, voterID string) (models.Tally, error)
	ForceSkip(ctx context.Context, code string) error
}

// Dispatcher validates and executes playback commands.
type Dispatcher struct {
	store    room.Store
	commands PlaybackCommander
	votes    SkipVotes
	sync     *SyncService
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher. Successful commands answer with a fresh
// snapshot from sync.
func NewDispatcher(store room.Store, commands PlaybackCommander, votes SkipVotes, sync *SyncService, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		commands: commands,
		votes:    votes,
		sync:     sync,
		logger:   logger,
	}
}

// Dispatch runs cmd in room code on behalf of participantID. The room and the
// participant's role are read fresh, since the host may have changed the
// settings since the participant last synced.
func (d *Dispatcher) Dispatch(ctx context.Context, code, participantID string, cmd models.Command) (*models.PlaybackSnapshot, error) {
	r, err := d.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	role := models.RoleOf(r, participantID)
	if !room.CanIssue(r, role, cmd) {
		d.logger.WithFields(logrus.Fields{
			"room":    code,
			"role":    role.String(),
			"command": string(cmd),
		}).Info("Command denied")
		return nil, fmt.Errorf("%s not allowed for %s in room %s: %w", cmd, role, code, room.ErrForbidden)
	}

	switch cmd {
	case models.CommandPlay:
		err = d.commands.Play(ctx, r.HostID)
	case models.CommandPause:
		err = d.commands.Pause(ctx, r.HostID)
	case models.CommandSkip:
		err = d.votes.ForceSkip(ctx, code)
	default:
		return nil, fmt.Errorf("unsupported command %q: %w", cmd, room.ErrForbidden)
	}
	if err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"room":    code,
		"role":    role.String(),
		"command": string(cmd),
	}).Debug("Command dispatched")

	if err := d.store.Touch(ctx, code); err != nil {
		d.logger.WithError(err).WithField("room", code).Debug("Failed to record room activity")
	}

	return d.sync.Sync(ctx, code, participantID)
}

// Vote casts participantID's ballot to skip trackID in room code.
func (d *Dispatcher) Vote(ctx context.Context, code, participantID, trackID string) (models.Tally, error) {
	r, err := d.store.Get(ctx, code)
	if err != nil {
		return models.Tally{}, err
	}
	if !room.CanIssue(r, models.RoleOf(r, participantID), models.CommandVote) {
		return models.Tally{}, fmt.Errorf("vote not allowed in room %s: %w", code, room.ErrForbidden)
	}

	tally, err := d.votes.Submit(ctx, code, trackID, participantID)
	if err != nil {
		return tally, err
	}

	if err := d.store.Touch(ctx, code); err != nil {
		d.logger.WithError(err).WithField("room", code).Debug("Failed to record room activity")
	}
	return tally, nil
}
