package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"jukebox/internal/room"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// errorBody is the error envelope every failing endpoint returns.
type errorBody struct {
	Error   errorDetail `json:"error"`
	Success bool        `json:"success"`
}

type errorDetail struct {
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// respondJSON writes v as the JSON response body.
func (rs *RoomServer) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rs.logger.WithError(err).Debug("Failed to write response")
	}
}

// respondWithValidationError sends a structured validation error response
func (rs *RoomServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	rs.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errs,
	}).Warn("Validation failed")

	rs.respondJSON(w, http.StatusBadRequest, ValidationResult{Valid: false, Errors: errs})
}

// statusFor maps the domain error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrForbidden),
		errors.Is(err, room.ErrPremiumRequired),
		errors.Is(err, room.ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, room.ErrStaleTrack):
		return http.StatusConflict
	case errors.Is(err, room.ErrNoActiveDevice):
		return http.StatusNotFound
	case errors.Is(err, room.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, room.ErrProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondWithError sends the error envelope for a domain error.
func (rs *RoomServer) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	rs.respondWithStatus(w, r, status, room.Reason(err), message, err)
}

// respondWithStatus sends an error envelope with an explicit status and reason.
func (rs *RoomServer) respondWithStatus(w http.ResponseWriter, r *http.Request, status int, reason, message string, err error) {
	logEntry := rs.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": status,
		"reason":      reason,
	})
	if err != nil {
		logEntry = logEntry.WithError(err)
	}
	if status >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Debug("Client error")
	}

	rs.respondJSON(w, status, errorBody{
		Error: errorDetail{
			Reason:    reason,
			Message:   message,
			Retryable: err != nil && room.Retryable(err),
		},
		Success: false,
	})
}

// decodeJSON reads a bounded JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v interface{}) *ValidationError {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("Invalid JSON body: %v", err),
			Code:    "INVALID_JSON",
		}
	}
	return nil
}

// validateRoomCode normalizes and checks a room code.
func validateRoomCode(code string) (string, *ValidationError) {
	code = strings.ToUpper(sanitizeInput(code))
	if code == "" {
		return "", &ValidationError{
			Field:   "code",
			Message: "Room code is required",
			Code:    "MISSING_ROOM_CODE",
		}
	}
	if len(code) > 32 {
		return "", &ValidationError{
			Field:   "code",
			Message: "Room code too long",
			Code:    "ROOM_CODE_TOO_LONG",
		}
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", &ValidationError{
				Field:   "code",
				Message: "Room code may only contain letters and digits",
				Code:    "INVALID_ROOM_CODE",
			}
		}
	}
	return code, nil
}

// validateVotesToSkip checks an optional votes_to_skip value.
func validateVotesToSkip(v *int) *ValidationError {
	if v != nil && *v < 1 {
		return &ValidationError{
			Field:   "votes_to_skip",
			Message: "votes_to_skip must be at least 1",
			Code:    "INVALID_VOTES_TO_SKIP",
		}
	}
	return nil
}

// validateTrackID checks the track a vote names.
func validateTrackID(trackID string) *ValidationError {
	if trackID == "" {
		return &ValidationError{
			Field:   "track_id",
			Message: "Track ID is required",
			Code:    "MISSING_TRACK_ID",
		}
	}
	if len(trackID) > 255 || strings.ContainsAny(trackID, "\x00\r\n") {
		return &ValidationError{
			Field:   "track_id",
			Message: "Track ID is malformed",
			Code:    "INVALID_TRACK_ID",
		}
	}
	return nil
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
