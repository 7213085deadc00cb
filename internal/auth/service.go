package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"jukebox/internal/config"

	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"
)

// Service identifies participants. There are no accounts: the first request
// from a browser creates a participant and every later one carries it.
type Service struct {
	config         *config.AuthConfig
	sessionManager *SessionManager
	logger         *logrus.Logger
}

// NewService creates a new participant service
func NewService(cfg *config.AuthConfig, logger *logrus.Logger) (*Service, error) {
	duration, err := time.ParseDuration(cfg.SessionDuration)
	if err != nil {
		return nil, fmt.Errorf("invalid session duration: %w", err)
	}

	var hashKey, blockKey []byte
	if cfg.SessionKey != "" {
		h := sha256.Sum256([]byte("hash:" + cfg.SessionKey))
		b := sha256.Sum256([]byte("block:" + cfg.SessionKey))
		hashKey, blockKey = h[:], b[:]
	} else {
		logger.Warn("JUKEBOX_SESSION_KEY not set; sessions will not survive a restart")
		hashKey = securecookie.GenerateRandomKey(32)
		blockKey = securecookie.GenerateRandomKey(32)
	}

	return &Service{
		config:         cfg,
		sessionManager: NewSessionManager(duration, cfg.SecureCookies, hashKey, blockKey),
		logger:         logger,
	}, nil
}

// Participant returns the caller's session, creating one (and its cookie) on
// first contact. Existing sessions are extended.
func (s *Service) Participant(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if session, ok := s.sessionManager.GetSessionFromRequest(r); ok {
		s.sessionManager.RefreshSession(session.ID)
		return session, nil
	}

	session, err := s.sessionManager.CreateSession()
	if err != nil {
		return nil, err
	}
	if err := s.sessionManager.SetSessionCookie(w, session); err != nil {
		s.sessionManager.DeleteSession(session.ID)
		return nil, err
	}

	s.logger.WithField("participant", session.ID).Debug("Participant session created")
	return session, nil
}

// JoinRoom records code as the participant's room.
func (s *Service) JoinRoom(session *Session, code string) {
	s.sessionManager.SetRoom(session.ID, code)
	session.RoomCode = code
}

// LeaveRoom detaches the participant from their room.
func (s *Service) LeaveRoom(session *Session) {
	s.sessionManager.ClearRoom(session.ID)
	session.RoomCode = ""
}

// SecureCookies reports whether cookies are marked Secure.
func (s *Service) SecureCookies() bool {
	return s.config.SecureCookies
}

// GetSessionManager returns the session manager
func (s *Service) GetSessionManager() *SessionManager {
	return s.sessionManager
}

// Close stops background session cleanup.
func (s *Service) Close() {
	s.sessionManager.Close()
}
