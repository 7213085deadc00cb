package server

import (
	"net/http"

	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
)

// roomResponse is a room as seen by the calling participant.
type roomResponse struct {
	Code          string `json:"code"`
	VotesToSkip   int    `json:"votes_to_skip"`
	GuestCanPause bool   `json:"guest_can_pause"`
	IsHost        bool   `json:"is_host"`
}

func newRoomResponse(r *models.Room, participantID string) roomResponse {
	return roomResponse{
		Code:          r.Code,
		VotesToSkip:   r.VotesToSkip,
		GuestCanPause: r.GuestCanPause,
		IsHost:        models.RoleOf(r, participantID) == models.RoleHost,
	}
}

// handleCreateRoom creates a room hosted by the caller and joins them to it.
func (rs *RoomServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VotesToSkip   *int `json:"votes_to_skip"`
		GuestCanPause bool `json:"guest_can_pause"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	if verr := validateVotesToSkip(req.VotesToSkip); verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	cfg := models.RoomConfig{
		VotesToSkip:   rs.config.Rooms.DefaultVotesToSkip,
		GuestCanPause: req.GuestCanPause,
	}
	if req.VotesToSkip != nil {
		cfg.VotesToSkip = *req.VotesToSkip
	}

	session := participant(r)
	created, err := rs.store.Create(r.Context(), session.ID, cfg)
	if err != nil {
		rs.respondWithError(w, r, err)
		return
	}
	rs.auth.JoinRoom(session, created.Code)

	rs.logger.WithFields(logrus.Fields{
		"room":            created.Code,
		"votes_to_skip":   created.VotesToSkip,
		"guest_can_pause": created.GuestCanPause,
	}).Info("Room created")

	rs.respondJSON(w, http.StatusCreated, newRoomResponse(created, session.ID))
}

// handleUpdateRoom changes the settings of a room the caller hosts.
func (rs *RoomServer) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code          string `json:"code"`
		VotesToSkip   *int   `json:"votes_to_skip"`
		GuestCanPause *bool  `json:"guest_can_pause"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	var errs []ValidationError
	code, verr := validateRoomCode(req.Code)
	if verr != nil {
		errs = append(errs, *verr)
	}
	if verr := validateVotesToSkip(req.VotesToSkip); verr != nil {
		errs = append(errs, *verr)
	}
	if len(errs) > 0 {
		rs.respondWithValidationError(w, r, errs)
		return
	}

	session := participant(r)
	updated, err := rs.store.Update(r.Context(), code, session.ID, models.RoomPatch{
		VotesToSkip:   req.VotesToSkip,
		GuestCanPause: req.GuestCanPause,
	})
	if err != nil {
		rs.respondWithError(w, r, err)
		return
	}

	rs.logger.WithFields(logrus.Fields{
		"room":            updated.Code,
		"votes_to_skip":   updated.VotesToSkip,
		"guest_can_pause": updated.GuestCanPause,
	}).Info("Room settings updated")

	rs.respondJSON(w, http.StatusOK, newRoomResponse(updated, session.ID))
}

// handleGetRoom returns a room's settings; ?code= defaults to the caller's room.
func (rs *RoomServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	session := participant(r)
	raw := r.URL.Query().Get("code")
	if raw == "" {
		raw = session.RoomCode
	}
	code, verr := validateRoomCode(raw)
	if verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	found, err := rs.store.Get(r.Context(), code)
	if err != nil {
		rs.respondWithError(w, r, err)
		return
	}

	rs.respondJSON(w, http.StatusOK, newRoomResponse(found, session.ID))
}
