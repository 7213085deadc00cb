package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jukebox/internal/room"
)

// TokenRecord is a provider credential as persisted. Secrets are opaque bytes;
// callers seal them before they reach the database.
type TokenRecord struct {
	ParticipantID string    `db:"participant_id"`
	AccessToken   []byte    `db:"access_token"`
	RefreshToken  []byte    `db:"refresh_token"`
	TokenType     string    `db:"token_type"`
	ExpiresAt     time.Time `db:"-"`
	ExpiresAtMs   int64     `db:"expires_at"`
}

// GetToken returns the stored credential for participantID.
func (db *Database) GetToken(ctx context.Context, participantID string) (*TokenRecord, error) {
	var rec TokenRecord
	err := db.conn.GetContext(ctx, &rec, `
		SELECT participant_id, access_token, refresh_token, token_type, expires_at
		FROM provider_tokens WHERE participant_id = ?`, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("provider token for %q: %w", participantID, room.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get provider token: %w", err)
	}
	rec.ExpiresAt = time.UnixMilli(rec.ExpiresAtMs).UTC()
	return &rec, nil
}

// SaveToken inserts or replaces the credential for rec.ParticipantID. An empty
// refresh token keeps the previously stored one.
func (db *Database) SaveToken(ctx context.Context, rec TokenRecord) error {
	rec.ExpiresAtMs = rec.ExpiresAt.UnixMilli()
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO provider_tokens (participant_id, access_token, refresh_token, token_type, expires_at)
		VALUES (:participant_id, :access_token, :refresh_token, :token_type, :expires_at)
		ON CONFLICT(participant_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN length(excluded.refresh_token) > 0
				THEN excluded.refresh_token ELSE provider_tokens.refresh_token END,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at`, &rec)
	if err != nil {
		return fmt.Errorf("failed to save provider token: %w", err)
	}
	return nil
}

// DeleteToken forgets a participant's credential.
func (db *Database) DeleteToken(ctx context.Context, participantID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM provider_tokens WHERE participant_id = ?`, participantID); err != nil {
		return fmt.Errorf("failed to delete provider token: %w", err)
	}
	return nil
}
