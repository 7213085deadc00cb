package database

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T, codes *room.CodeGenerator) *Database {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), 4, codes, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseRooms(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, nil)

	created, err := db.Create(ctx, "host-1", models.RoomConfig{VotesToSkip: 2, GuestCanPause: true})
	require.NoError(t, err)

	t.Run("CreateAndGet", func(t *testing.T) {
		got, err := db.Get(ctx, created.Code)
		require.NoError(t, err)
		assert.Equal(t, created.Code, got.Code)
		assert.Equal(t, "host-1", got.HostID)
		assert.Equal(t, 2, got.VotesToSkip)
		assert.True(t, got.GuestCanPause)
		assert.Empty(t, got.CurrentTrackID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := db.Get(ctx, "ZZZZZZ")
		assert.ErrorIs(t, err, room.ErrNotFound)
	})

	t.Run("CreateRejectsInvalidConfig", func(t *testing.T) {
		_, err := db.Create(ctx, "host-1", models.RoomConfig{VotesToSkip: 0})
		assert.ErrorIs(t, err, room.ErrInvalidConfig)
	})

	t.Run("UpdateByHost", func(t *testing.T) {
		votes := 4
		pause := false
		updated, err := db.Update(ctx, created.Code, "host-1", models.RoomPatch{VotesToSkip: &votes, GuestCanPause: &pause})
		require.NoError(t, err)
		assert.Equal(t, 4, updated.VotesToSkip)
		assert.False(t, updated.GuestCanPause)

		got, err := db.Get(ctx, created.Code)
		require.NoError(t, err)
		assert.Equal(t, 4, got.VotesToSkip)
		assert.False(t, got.GuestCanPause)
	})

	t.Run("UpdateByGuest", func(t *testing.T) {
		votes := 1
		_, err := db.Update(ctx, created.Code, "guest", models.RoomPatch{VotesToSkip: &votes})
		assert.ErrorIs(t, err, room.ErrForbidden)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		_, err := db.Update(ctx, "ZZZZZZ", "host-1", models.RoomPatch{})
		assert.ErrorIs(t, err, room.ErrNotFound)
	})

	t.Run("SetCurrentTrackAndTouch", func(t *testing.T) {
		require.NoError(t, db.SetCurrentTrack(ctx, created.Code, "T1"))
		require.NoError(t, db.Touch(ctx, created.Code))

		got, err := db.Get(ctx, created.Code)
		require.NoError(t, err)
		assert.Equal(t, "T1", got.CurrentTrackID)

		assert.ErrorIs(t, db.Touch(ctx, "ZZZZZZ"), room.ErrNotFound)
		assert.ErrorIs(t, db.SetCurrentTrack(ctx, "ZZZZZZ", "T1"), room.ErrNotFound)
	})

	t.Run("Count", func(t *testing.T) {
		n, err := db.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestDatabaseCodeCollisions(t *testing.T) {
	ctx := context.Background()
	// A one-letter alphabet yields a single possible code.
	db := newTestDatabase(t, room.NewCodeGenerator(4, "Q", 3))

	first, err := db.Create(ctx, "h1", models.RoomConfig{VotesToSkip: 1})
	require.NoError(t, err)
	assert.Equal(t, "QQQQ", first.Code)

	_, err = db.Create(ctx, "h2", models.RoomConfig{VotesToSkip: 1})
	assert.ErrorIs(t, err, room.ErrResourceExhausted)
}

func TestDatabaseDeleteInactive(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, nil)

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return clock }

	old, err := db.Create(ctx, "h1", models.RoomConfig{VotesToSkip: 1})
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	recent, err := db.Create(ctx, "h2", models.RoomConfig{VotesToSkip: 1})
	require.NoError(t, err)

	removed, err := db.DeleteInactive(ctx, clock.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{old.Code}, removed)

	_, err = db.Get(ctx, old.Code)
	assert.ErrorIs(t, err, room.ErrNotFound)
	_, err = db.Get(ctx, recent.Code)
	assert.NoError(t, err)
}

func TestDatabaseConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, nil)

	created, err := db.Create(ctx, "host", models.RoomConfig{VotesToSkip: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(votes int) {
			defer wg.Done()
			_, err := db.Update(ctx, created.Code, "host", models.RoomPatch{VotesToSkip: &votes})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := db.Get(ctx, created.Code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.VotesToSkip, 1)
	assert.LessOrEqual(t, got.VotesToSkip, 10)
}

func TestDatabaseTokens(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, nil)
	expires := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := db.GetToken(ctx, "p1")
	assert.ErrorIs(t, err, room.ErrNotFound)

	require.NoError(t, db.SaveToken(ctx, TokenRecord{
		ParticipantID: "p1",
		AccessToken:   []byte("access-1"),
		RefreshToken:  []byte("refresh-1"),
		TokenType:     "Bearer",
		ExpiresAt:     expires,
	}))

	// A refresh response without a new refresh token keeps the old one.
	require.NoError(t, db.SaveToken(ctx, TokenRecord{
		ParticipantID: "p1",
		AccessToken:   []byte("access-2"),
		TokenType:     "Bearer",
		ExpiresAt:     expires.Add(time.Hour),
	}))

	rec, err := db.GetToken(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []byte("access-2"), rec.AccessToken)
	assert.Equal(t, []byte("refresh-1"), rec.RefreshToken)
	assert.True(t, rec.ExpiresAt.Equal(expires.Add(time.Hour)))

	require.NoError(t, db.DeleteToken(ctx, "p1"))
	_, err = db.GetToken(ctx, "p1")
	assert.ErrorIs(t, err, room.ErrNotFound)
}
