package server

import (
	"net/http"

	"jukebox/pkg/models"

	"github.com/gorilla/mux"
)

// handleCommand runs a playback command in the caller's room and answers with
// a fresh snapshot.
func (rs *RoomServer) handleCommand(cmd models.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := joinedRoom(r)
		if err != nil {
			rs.respondWithError(w, r, err)
			return
		}

		snap, err := rs.commands.Dispatch(r.Context(), code, participant(r).ID, cmd)
		if err != nil {
			rs.respondWithError(w, r, err)
			return
		}
		rs.respondJSON(w, http.StatusOK, snap)
	}
}

// handleVoteSkip casts the caller's vote to skip a track.
func (rs *RoomServer) handleVoteSkip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID string `json:"track_id"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	req.TrackID = sanitizeInput(req.TrackID)
	if verr := validateTrackID(req.TrackID); verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	code, err := joinedRoom(r)
	if err != nil {
		rs.respondWithError(w, r, err)
		return
	}

	tally, err := rs.commands.Vote(r.Context(), code, participant(r).ID, req.TrackID)
	if err != nil {
		rs.respondWithError(w, r, err)
		return
	}
	rs.respondJSON(w, http.StatusOK, tally)
}

// handleSync returns the polled snapshot of a room.
func (rs *RoomServer) handleSync(w http.ResponseWriter, r *http.Request) {
	code, verr := validateRoomCode(mux.Vars(r)["code"])
	if verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	snap, err := rs.sync.Sync(r.Context(), code, participant(r).ID)
	if err != nil {
		rs.respondWithError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	rs.respondJSON(w, http.StatusOK, snap)
}
