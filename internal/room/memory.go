package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jukebox/pkg/models"
)

// MemoryStore keeps rooms in process memory. It backs tests and the
// `database.driver = "memory"` mode.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
	codes *CodeGenerator
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(codes *CodeGenerator) *MemoryStore {
	if codes == nil {
		codes = NewCodeGenerator(0, "", 0)
	}
	return &MemoryStore{
		rooms: make(map[string]*models.Room),
		codes: codes,
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, hostID string, cfg models.RoomConfig) (*models.Room, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var created *models.Room
	_, err := s.codes.Allocate(func(code string) (bool, error) {
		if _, taken := s.rooms[code]; taken {
			return false, nil
		}
		now := s.now()
		created = &models.Room{
			Code:          code,
			HostID:        hostID,
			VotesToSkip:   cfg.VotesToSkip,
			GuestCanPause: cfg.GuestCanPause,
			CreatedAt:     now,
			LastActivity:  now,
		}
		s.rooms[code] = created
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	cp := *created
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil, fmt.Errorf("room %q: %w", code, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, code, hostID string, patch models.RoomPatch) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil, fmt.Errorf("room %q: %w", code, ErrNotFound)
	}
	if r.HostID != hostID {
		return nil, fmt.Errorf("room %q: only the host may update it: %w", code, ErrForbidden)
	}

	updated, err := ApplyPatch(*r, patch)
	if err != nil {
		return nil, err
	}
	updated.LastActivity = s.now()
	*r = updated

	cp := updated
	return &cp, nil
}

func (s *MemoryStore) Touch(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return fmt.Errorf("room %q: %w", code, ErrNotFound)
	}
	r.LastActivity = s.now()
	return nil
}

func (s *MemoryStore) SetCurrentTrack(_ context.Context, code, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return fmt.Errorf("room %q: %w", code, ErrNotFound)
	}
	r.CurrentTrackID = trackID
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[code]; !ok {
		return fmt.Errorf("room %q: %w", code, ErrNotFound)
	}
	delete(s.rooms, code)
	return nil
}

func (s *MemoryStore) DeleteInactive(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for code, r := range s.rooms {
		if r.LastActivity.Before(before) {
			delete(s.rooms, code)
			removed = append(removed, code)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
