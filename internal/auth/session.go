package auth

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// Session is an anonymous participant. Its ID is the participant id used for
// host checks and vote deduplication.
type Session struct {
	ID        string
	RoomCode  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager manages participant sessions
type SessionManager struct {
	sessions      map[string]*Session
	mutex         sync.RWMutex
	duration      time.Duration
	cookieName    string
	secureCookies bool
	codec         *securecookie.SecureCookie
	now           func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a session manager. Cookies are signed with
// hashKey and encrypted with blockKey.
func NewSessionManager(duration time.Duration, secureCookies bool, hashKey, blockKey []byte) *SessionManager {
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(duration / time.Second))

	sm := &SessionManager{
		sessions:      make(map[string]*Session),
		duration:      duration,
		cookieName:    "jukebox_session",
		secureCookies: secureCookies,
		codec:         codec,
		now:           time.Now,
		stop:          make(chan struct{}),
	}

	go sm.cleanupExpiredSessions()

	return sm
}

// CreateSession starts a session for a new participant
func (sm *SessionManager) CreateSession() (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate participant id: %w", err)
	}

	now := sm.now()
	session := &Session{
		ID:        id.String(),
		CreatedAt: now,
		ExpiresAt: now.Add(sm.duration),
	}

	sm.mutex.Lock()
	sm.sessions[session.ID] = session
	sm.mutex.Unlock()

	copied := *session
	return &copied, nil
}

// GetSession returns a copy of a live session
func (sm *SessionManager) GetSession(sessionID string) (*Session, bool) {
	sm.mutex.RLock()
	session, exists := sm.sessions[sessionID]
	var copied Session
	if exists {
		copied = *session
	}
	sm.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if sm.now().After(copied.ExpiresAt) {
		sm.DeleteSession(sessionID)
		return nil, false
	}

	return &copied, true
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mutex.Lock()
	delete(sm.sessions, sessionID)
	sm.mutex.Unlock()
}

// RefreshSession extends the session expiration time
func (sm *SessionManager) RefreshSession(sessionID string) bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return false
	}

	if sm.now().After(session.ExpiresAt) {
		delete(sm.sessions, sessionID)
		return false
	}

	session.ExpiresAt = sm.now().Add(sm.duration)
	return true
}

// SetRoom records the room the participant has joined.
func (sm *SessionManager) SetRoom(sessionID, code string) bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return false
	}
	session.RoomCode = code
	return true
}

// ClearRoom removes the participant from whatever room they joined.
func (sm *SessionManager) ClearRoom(sessionID string) {
	sm.SetRoom(sessionID, "")
}

// Forget detaches every participant from a disposed room.
func (sm *SessionManager) Forget(code string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for _, session := range sm.sessions {
		if session.RoomCode == code {
			session.RoomCode = ""
		}
	}
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.sessions)
}

// SetSessionCookie sets the encoded session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) error {
	encoded, err := sm.codec.Encode(sm.cookieName, session.ID)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    encoded,
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   sm.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	return nil
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sm.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

// GetSessionFromRequest decodes the session cookie and looks the session up.
// Tampered or unknown cookies yield no session.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return nil, false
	}

	var id string
	if err := sm.codec.Decode(sm.cookieName, cookie.Value, &id); err != nil {
		return nil, false
	}

	return sm.GetSession(id)
}

// Close stops the cleanup goroutine.
func (sm *SessionManager) Close() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

func (sm *SessionManager) cleanupExpiredSessions() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.removeExpired()
		}
	}
}

func (sm *SessionManager) removeExpired() int {
	now := sm.now()
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	removed := 0
	for id, session := range sm.sessions {
		if now.After(session.ExpiresAt) {
			delete(sm.sessions, id)
			removed++
		}
	}
	return removed
}
