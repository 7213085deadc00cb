// Package jukebox ties rooms, votes and the playback provider together: the
// dispatcher gates and issues playback commands, the sync service assembles
// the snapshot polling clients render.
package jukebox

import (
	"context"
	"time"

	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
)

// PlaybackReader reads the host's current playback.
type PlaybackReader interface {
	Current(ctx context.Context, hostID string) (*models.PlaybackState, error)
}

// TrackVotes is the part of the vote coordinator the sync path needs.
type TrackVotes interface {
	Tally(ctx context.Context, code, trackID string) (models.Tally, error)
	ResetTrack(ctx context.Context, code, trackID string) (bool, error)
}

// SyncService builds snapshots for polling clients. It is called at high
// frequency and must stay cheap; its only mutation is the idempotent vote reset
// when the provider reports a new track.
type SyncService struct {
	store        room.Store
	playback     PlaybackReader
	votes        TrackVotes
	pollInterval time.Duration
	logger       *logrus.Logger
}

// NewSyncService creates a sync service.
func NewSyncService(store room.Store, playback PlaybackReader, votes TrackVotes, pollInterval time.Duration, logger *logrus.Logger) *SyncService {
	return &SyncService{
		store:        store,
		playback:     playback,
		votes:        votes,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Sync returns the current snapshot of room code as seen by participantID.
func (s *SyncService) Sync(ctx context.Context, code, participantID string) (*models.PlaybackSnapshot, error) {
	r, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.store.Touch(ctx, code); err != nil {
		s.logger.WithError(err).WithField("room", code).Debug("Failed to record room activity")
	}

	// An unreadable provider still yields the room's settings and tally; the
	// track fields stay empty and no reset happens.
	var providerErr error
	state, err := s.playback.Current(ctx, r.HostID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.WithError(err).WithField("room", code).Debug("Could not read provider playback")
		state, providerErr = nil, err
	}

	trackID := r.CurrentTrackID
	if state != nil && state.TrackID != "" {
		if state.TrackID != r.CurrentTrackID {
			if _, err := s.votes.ResetTrack(ctx, code, state.TrackID); err != nil {
				return nil, err
			}
		}
		trackID = state.TrackID
	}

	tally, err := s.votes.Tally(ctx, code, trackID)
	if err != nil {
		return nil, err
	}

	isHost := models.RoleOf(r, participantID) == models.RoleHost
	snap := &models.PlaybackSnapshot{
		RoomCode:        r.Code,
		VoteCount:       tally.Count,
		VotesRequired:   tally.Required,
		GuestCanPause:   r.GuestCanPause,
		IsHost:          isHost,
		ControlsEnabled: isHost || r.GuestCanPause,
		PollIntervalMs:  int(s.pollInterval / time.Millisecond),
		ProviderError:   room.Reason(providerErr),
	}
	if state != nil {
		snap.IsPlaying = state.IsPlaying
		snap.ProgressMs = state.ProgressMs
		snap.DurationMs = state.DurationMs
		snap.TrackID = state.TrackID
		snap.Title = state.Title
		snap.Artist = state.Artist
		snap.ImageURL = state.ImageURL
	}
	return snap, nil
}
