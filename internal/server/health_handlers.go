package server

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Rooms     int                    `json:"rooms"`
	Sessions  int                    `json:"activeSessions"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (rs *RoomServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Sessions:  rs.auth.GetSessionManager().Count(),
		Details:   make(map[string]interface{}),
	}

	if err := rs.store.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	if n, err := rs.store.Count(ctx); err != nil {
		health.Details["room_count_error"] = err.Error()
	} else {
		health.Rooms = n
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	rs.respondJSON(w, status, health)
}
