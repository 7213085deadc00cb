package server

import (
	"net/http"
	"time"
)

// ConfigResponse represents the public configuration sent to the frontend
type ConfigResponse struct {
	PollIntervalMs     int    `json:"poll_interval_ms"`
	DefaultVotesToSkip int    `json:"default_votes_to_skip"`
	Provider           string `json:"provider"`
	PublicURL          string `json:"public_url,omitempty"`
}

// handleGetConfig returns public configuration settings for the frontend
func (rs *RoomServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	rs.respondJSON(w, http.StatusOK, ConfigResponse{
		PollIntervalMs:     int(rs.config.Server.PollInterval.Duration / time.Millisecond),
		DefaultVotesToSkip: rs.config.Rooms.DefaultVotesToSkip,
		Provider:           rs.config.Provider.Name,
		PublicURL:          rs.tunnel.GetPublicURL(),
	})
}
