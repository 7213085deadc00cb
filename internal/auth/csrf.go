package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"

	"jukebox/internal/room"

	"github.com/gorilla/securecookie"
)

// Double-submit anti-forgery token names. Clients echo the cookie value in
// the header on every state-changing request.
const (
	CSRFCookieName = "csrftoken"
	CSRFHeaderName = "X-CSRFToken"
)

// IssueCSRFToken returns the request's existing token or sets a new one.
func IssueCSRFToken(w http.ResponseWriter, r *http.Request, secure bool) string {
	if c, err := r.Cookie(CSRFCookieName); err == nil && len(c.Value) == 64 {
		return c.Value
	}

	token := hex.EncodeToString(securecookie.GenerateRandomKey(32))
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// RequiresCSRF reports whether requests with method mutate state.
func RequiresCSRF(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// VerifyCSRF checks that the header echoes the cookie.
func VerifyCSRF(r *http.Request) error {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return fmt.Errorf("missing %s cookie: %w", CSRFCookieName, room.ErrInvalidToken)
	}
	header := r.Header.Get(CSRFHeaderName)
	if header == "" {
		return fmt.Errorf("missing %s header: %w", CSRFHeaderName, room.ErrInvalidToken)
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return fmt.Errorf("token mismatch: %w", room.ErrInvalidToken)
	}
	return nil
}
