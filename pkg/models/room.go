package models

import "time"

// Room is a shared listening scope owned by the participant that created it.
type Room struct {
	Code           string    `json:"code" db:"code"`
	HostID         string    `json:"-" db:"host_id"`
	VotesToSkip    int       `json:"votes_to_skip" db:"votes_to_skip"`
	GuestCanPause  bool      `json:"guest_can_pause" db:"guest_can_pause"`
	CurrentTrackID string    `json:"current_track_id,omitempty" db:"current_track_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastActivity   time.Time `json:"-" db:"last_activity"`
}

// RoomConfig holds the host-controlled settings used when creating a room.
type RoomConfig struct {
	VotesToSkip   int  `json:"votes_to_skip"`
	GuestCanPause bool `json:"guest_can_pause"`
}

// RoomPatch is a partial update of host-controlled settings. Nil fields are left as is.
type RoomPatch struct {
	VotesToSkip   *int  `json:"votes_to_skip,omitempty"`
	GuestCanPause *bool `json:"guest_can_pause,omitempty"`
}

// Role is the relationship of a participant to a room.
type Role int

const (
	RoleGuest Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "guest"
}

// RoleOf returns the role participantID plays in room.
func RoleOf(room *Room, participantID string) Role {
	if room != nil && participantID != "" && room.HostID == participantID {
		return RoleHost
	}
	return RoleGuest
}

// Command is a playback action a participant can request.
type Command string

const (
	CommandPlay  Command = "play"
	CommandPause Command = "pause"
	CommandSkip  Command = "skip"
	CommandVote  Command = "vote"
)

// PlaybackState is what the provider reports about the host's player.
// A zero TrackID means nothing is playing.
type PlaybackState struct {
	IsPlaying  bool   `json:"is_playing"`
	ProgressMs int    `json:"progress_ms"`
	DurationMs int    `json:"duration_ms"`
	TrackID    string `json:"track_id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	ImageURL   string `json:"image_url"`
}

// PlaybackSnapshot is the per-request view handed to polling clients.
// It is assembled on every sync and never stored.
type PlaybackSnapshot struct {
	RoomCode        string `json:"code"`
	IsPlaying       bool   `json:"is_playing"`
	ProgressMs      int    `json:"progress_ms"`
	DurationMs      int    `json:"duration_ms"`
	TrackID         string `json:"track_id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	ImageURL        string `json:"image_url"`
	VoteCount       int    `json:"votes"`
	VotesRequired   int    `json:"votes_required"`
	GuestCanPause   bool   `json:"guest_can_pause"`
	IsHost          bool   `json:"is_host"`
	ControlsEnabled bool   `json:"controls_enabled"`
	PollIntervalMs  int    `json:"poll_interval_ms"`
	// ProviderError is the reason code when the provider could not be read.
	ProviderError   string `json:"provider_error,omitempty"`
}

// Tally is the vote count for a room's current track.
type Tally struct {
	TrackID  string `json:"track_id"`
	Count    int    `json:"votes"`
	Required int    `json:"votes_required"`
	Skipped  bool   `json:"skipped"`
}

// ProviderToken is an OAuth credential for the music provider, owned by a participant.
type ProviderToken struct {
	ParticipantID string    `json:"-"`
	AccessToken   string    `json:"-"`
	RefreshToken  string    `json:"-"`
	TokenType     string    `json:"token_type"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the access token is no longer usable at now.
func (t *ProviderToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
