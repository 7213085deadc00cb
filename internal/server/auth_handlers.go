package server

import (
	"net/http"

	"jukebox/internal/auth"
)

// handleCSRFToken issues the anti-forgery cookie and returns its value for
// clients that cannot read cookies.
func (rs *RoomServer) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token := auth.IssueCSRFToken(w, r, rs.auth.SecureCookies())
	rs.respondJSON(w, http.StatusOK, map[string]string{"token": token, "header": auth.CSRFHeaderName})
}

// handleGetAuthURL returns the provider page that links the caller's account.
func (rs *RoomServer) handleGetAuthURL(w http.ResponseWriter, r *http.Request) {
	rs.respondJSON(w, http.StatusOK, map[string]string{"url": rs.provider.AuthURL("")})
}

// handleProviderRedirect completes the authorization code flow and sends the
// browser back to the app.
func (rs *RoomServer) handleProviderRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		rs.respondWithStatus(w, r, http.StatusBadRequest, "PROVIDER_DENIED", "Authorization was denied: "+e, nil)
		return
	}
	code := q.Get("code")
	if code == "" {
		rs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "code",
			Message: "Authorization code not provided",
			Code:    "MISSING_AUTH_CODE",
		}})
		return
	}

	session := participant(r)
	if err := rs.provider.Exchange(r.Context(), session.ID, code); err != nil {
		rs.respondWithStatus(w, r, http.StatusBadRequest, "PROVIDER_AUTH_FAILED", "Failed to authenticate with provider", err)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleIsAuthenticated reports whether the caller has a usable provider link.
func (rs *RoomServer) handleIsAuthenticated(w http.ResponseWriter, r *http.Request) {
	ok := rs.provider.IsAuthenticated(r.Context(), participant(r).ID)
	rs.respondJSON(w, http.StatusOK, map[string]bool{"status": ok})
}
