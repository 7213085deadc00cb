package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"jukebox/pkg/models"
)

// Store is durable keyed storage of rooms.
type Store interface {
	// Create persists a new room hosted by hostID under a freshly allocated code.
	Create(ctx context.Context, hostID string, cfg models.RoomConfig) (*models.Room, error)
	Get(ctx context.Context, code string) (*models.Room, error)
	// Update applies patch when hostID matches the stored host.
	Update(ctx context.Context, code, hostID string, patch models.RoomPatch) (*models.Room, error)
	Touch(ctx context.Context, code string) error
	SetCurrentTrack(ctx context.Context, code, trackID string) error
	Delete(ctx context.Context, code string) error
	// DeleteInactive removes rooms idle since before and returns their codes.
	DeleteInactive(ctx context.Context, before time.Time) ([]string, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

const (
	DefaultCodeLength   = 6
	DefaultCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DefaultCodeAttempts = 10
)

// CodeGenerator produces short human-friendly room codes.
type CodeGenerator struct {
	Length      int
	Alphabet    string
	MaxAttempts int
}

// NewCodeGenerator returns a generator, falling back to defaults for zero values.
func NewCodeGenerator(length int, alphabet string, attempts int) *CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	if alphabet == "" {
		alphabet = DefaultCodeAlphabet
	}
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}
	return &CodeGenerator{Length: length, Alphabet: alphabet, MaxAttempts: attempts}
}

// Next returns a random code.
func (g *CodeGenerator) Next() (string, error) {
	max := big.NewInt(int64(len(g.Alphabet)))
	buf := make([]byte, g.Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		buf[i] = g.Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Allocate draws codes until claim accepts one. claim returns false when the
// code is already taken. After MaxAttempts collisions it gives up with
// ErrResourceExhausted.
func (g *CodeGenerator) Allocate(claim func(code string) (bool, error)) (string, error) {
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		code, err := g.Next()
		if err != nil {
			return "", err
		}
		ok, err := claim(code)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrResourceExhausted, g.MaxAttempts)
}

// ValidateConfig checks host-supplied room settings.
func ValidateConfig(cfg models.RoomConfig) error {
	if cfg.VotesToSkip < 1 {
		return fmt.Errorf("%w: votes_to_skip must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// ApplyPatch returns room with patch applied, validating the result.
func ApplyPatch(r models.Room, patch models.RoomPatch) (models.Room, error) {
	if patch.VotesToSkip != nil {
		if *patch.VotesToSkip < 1 {
			return r, fmt.Errorf("%w: votes_to_skip must be at least 1", ErrInvalidConfig)
		}
		r.VotesToSkip = *patch.VotesToSkip
	}
	if patch.GuestCanPause != nil {
		r.GuestCanPause = *patch.GuestCanPause
	}
	return r, nil
}
