package spotify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"jukebox/internal/database"
	"jukebox/pkg/models"

	"golang.org/x/crypto/nacl/secretbox"
)

// TokenStore persists sealed provider credentials.
type TokenStore interface {
	GetToken(ctx context.Context, participantID string) (*database.TokenRecord, error)
	SaveToken(ctx context.Context, rec database.TokenRecord) error
}

const nonceSize = 24

// Sealer encrypts tokens at rest with NaCl secretbox.
type Sealer struct {
	key [32]byte
}

// NewSealer derives a box key from secret.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("token secret cannot be empty")
	}
	return &Sealer{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal encrypts plaintext; the nonce is prepended to the box.
func (s *Sealer) Seal(plaintext string) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key), nil
}

// Open decrypts a box produced by Seal.
func (s *Sealer) Open(box []byte) (string, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return "", errors.New("sealed token is too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("sealed token failed authentication")
	}
	return string(plain), nil
}

// sealedTokens converts between models.ProviderToken and sealed records.
type sealedTokens struct {
	store  TokenStore
	sealer *Sealer
}

func (t *sealedTokens) load(ctx context.Context, participantID string) (*models.ProviderToken, error) {
	rec, err := t.store.GetToken(ctx, participantID)
	if err != nil {
		return nil, err
	}

	access, err := t.sealer.Open(rec.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to open access token: %w", err)
	}
	var refresh string
	if len(rec.RefreshToken) > 0 {
		if refresh, err = t.sealer.Open(rec.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to open refresh token: %w", err)
		}
	}

	return &models.ProviderToken{
		ParticipantID: participantID,
		AccessToken:   access,
		RefreshToken:  refresh,
		TokenType:     rec.TokenType,
		ExpiresAt:     rec.ExpiresAt,
	}, nil
}

func (t *sealedTokens) save(ctx context.Context, tok *models.ProviderToken) error {
	access, err := t.sealer.Seal(tok.AccessToken)
	if err != nil {
		return err
	}
	rec := database.TokenRecord{
		ParticipantID: tok.ParticipantID,
		AccessToken:   access,
		TokenType:     tok.TokenType,
		ExpiresAt:     tok.ExpiresAt,
	}
	if tok.RefreshToken != "" {
		if rec.RefreshToken, err = t.sealer.Seal(tok.RefreshToken); err != nil {
			return err
		}
	}
	return t.store.SaveToken(ctx, rec)
}
