package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"jukebox/internal/auth"

	"github.com/sirupsen/logrus"
)

// responseWriter wraps http.ResponseWriter to capture status code & size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

// requestLoggingMiddleware logs HTTP requests (if enabled) with latency & size.
func (rs *RoomServer) requestLoggingMiddleware(next http.Handler) http.Handler {
	if !rs.config.Logging.RequestLogging {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		entry := rs.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"status":   rw.statusCode,
			"size":     formatBytes(rw.size),
			"duration": time.Since(start).Round(time.Millisecond),
		})
		// Sync is polled every second by every participant.
		if isPollPath(r) {
			entry.Debug("Request")
			return
		}
		entry.Info("Request")
	})
}

func isPollPath(r *http.Request) bool {
	return r.Method == http.MethodGet && (strings.HasSuffix(r.URL.Path, "/sync") || r.URL.Path == "/health")
}

// corsMiddleware injects CORS headers if enabled in configuration.
func (rs *RoomServer) corsMiddleware(next http.Handler) http.Handler {
	if !rs.config.Server.EnableCORS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+auth.CSRFHeaderName)
		next.ServeHTTP(w, r)
	})
}

// csrfMiddleware rejects state-changing requests whose anti-forgery header
// does not match the cookie, before any handler runs.
func (rs *RoomServer) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.RequiresCSRF(r.Method) {
			if err := auth.VerifyCSRF(r); err != nil {
				rs.respondWithError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type participantKey struct{}

// participantMiddleware attaches the caller's session, creating one on first
// contact.
func (rs *RoomServer) participantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := rs.auth.Participant(w, r)
		if err != nil {
			rs.respondWithStatus(w, r, http.StatusInternalServerError, "INTERNAL", "Could not establish session", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), participantKey{}, session)))
	})
}

// participant returns the session attached by participantMiddleware.
func participant(r *http.Request) *auth.Session {
	session, _ := r.Context().Value(participantKey{}).(*auth.Session)
	return session
}

// formatBytes provides a simple approximate human-readable size.
func formatBytes(bytes int) string {
	if bytes == 0 {
		return "0B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}

	div, exp := int64(unit), 0
	for n := int64(bytes) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}

	return fmt.Sprintf("%d%s", int64(bytes)/div, units[exp])
}

// panicRecoveryMiddleware intercepts panics returning HTTP 500 without crashing the process.
func (rs *RoomServer) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				rs.logger.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  err,
				}).Error("Panic while serving request")
				rs.respondWithStatus(w, r, http.StatusInternalServerError, "INTERNAL", "Internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
