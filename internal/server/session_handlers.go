package server

import (
	"fmt"
	"net/http"

	"jukebox/internal/room"
)

// handleJoinRoom records an existing room in the caller's session.
func (rs *RoomServer) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if verr := decodeJSON(r, &req); verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	code, verr := validateRoomCode(req.Code)
	if verr != nil {
		rs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if _, err := rs.store.Get(r.Context(), code); err != nil {
		rs.respondWithError(w, r, err)
		return
	}

	session := participant(r)
	rs.auth.JoinRoom(session, code)
	if err := rs.store.Touch(r.Context(), code); err != nil {
		rs.logger.WithError(err).WithField("room", code).Debug("Failed to record room activity")
	}

	rs.logger.WithField("room", code).Debug("Participant joined room")
	rs.respondJSON(w, http.StatusOK, map[string]interface{}{"code": code, "success": true})
}

// handleLeaveRoom detaches the caller from their room. A host leaving does not
// close the room; inactivity disposal does.
func (rs *RoomServer) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	session := participant(r)
	left := session.RoomCode
	rs.auth.LeaveRoom(session)

	if left != "" {
		rs.logger.WithField("room", left).Debug("Participant left room")
	}
	rs.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Left room", "success": true})
}

// handleUserInRoom reports the room the caller has joined, if any.
func (rs *RoomServer) handleUserInRoom(w http.ResponseWriter, r *http.Request) {
	rs.respondJSON(w, http.StatusOK, map[string]interface{}{"code": participant(r).RoomCode})
}

// joinedRoom returns the caller's room code, or NotFound when they have none.
func joinedRoom(r *http.Request) (string, error) {
	code := participant(r).RoomCode
	if code == "" {
		return "", fmt.Errorf("participant has not joined a room: %w", room.ErrNotFound)
	}
	return code, nil
}
