package room

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGenerator(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		g := NewCodeGenerator(0, "", 0)
		code, err := g.Next()
		require.NoError(t, err)
		assert.Len(t, code, DefaultCodeLength)
		for _, c := range code {
			assert.Contains(t, DefaultCodeAlphabet, string(c))
		}
	})

	t.Run("AllocateRetriesOnCollision", func(t *testing.T) {
		g := NewCodeGenerator(4, "AB", 5)
		calls := 0
		code, err := g.Allocate(func(string) (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.Len(t, code, 4)
		assert.Equal(t, 3, calls)
	})

	t.Run("AllocateExhausted", func(t *testing.T) {
		g := NewCodeGenerator(1, "A", 3)
		calls := 0
		_, err := g.Allocate(func(string) (bool, error) {
			calls++
			return false, nil
		})
		assert.ErrorIs(t, err, ErrResourceExhausted)
		assert.Equal(t, 3, calls)
	})

	t.Run("AllocatePropagatesClaimError", func(t *testing.T) {
		boom := errors.New("disk on fire")
		_, err := NewCodeGenerator(0, "", 0).Allocate(func(string) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	created, err := store.Create(ctx, "host", models.RoomConfig{VotesToSkip: 3, GuestCanPause: true})
	require.NoError(t, err)
	assert.Len(t, created.Code, DefaultCodeLength)
	assert.Equal(t, "host", created.HostID)

	t.Run("Get", func(t *testing.T) {
		got, err := store.Get(ctx, created.Code)
		require.NoError(t, err)
		assert.Equal(t, 3, got.VotesToSkip)
		assert.True(t, got.GuestCanPause)

		_, err = store.Get(ctx, "NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateRejectsZeroVotes", func(t *testing.T) {
		_, err := store.Create(ctx, "host", models.RoomConfig{VotesToSkip: 0})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("UpdateByHost", func(t *testing.T) {
		votes := 5
		pause := false
		updated, err := store.Update(ctx, created.Code, "host", models.RoomPatch{VotesToSkip: &votes, GuestCanPause: &pause})
		require.NoError(t, err)
		assert.Equal(t, 5, updated.VotesToSkip)
		assert.False(t, updated.GuestCanPause)
	})

	t.Run("UpdateByGuestForbidden", func(t *testing.T) {
		votes := 1
		_, err := store.Update(ctx, created.Code, "guest", models.RoomPatch{VotesToSkip: &votes})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("UpdateMissingRoom", func(t *testing.T) {
		_, err := store.Update(ctx, "NOPE", "host", models.RoomPatch{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateRejectsZeroVotes", func(t *testing.T) {
		votes := 0
		_, err := store.Update(ctx, created.Code, "host", models.RoomPatch{VotesToSkip: &votes})
		assert.ErrorIs(t, err, ErrInvalidConfig)

		got, err := store.Get(ctx, created.Code)
		require.NoError(t, err)
		assert.Equal(t, 5, got.VotesToSkip)
	})

	t.Run("SetCurrentTrack", func(t *testing.T) {
		require.NoError(t, store.SetCurrentTrack(ctx, created.Code, "T1"))
		got, err := store.Get(ctx, created.Code)
		require.NoError(t, err)
		assert.Equal(t, "T1", got.CurrentTrackID)
	})

	t.Run("ReturnedRoomIsACopy", func(t *testing.T) {
		got, err := store.Get(ctx, created.Code)
		require.NoError(t, err)
		got.VotesToSkip = 99

		again, err := store.Get(ctx, created.Code)
		require.NoError(t, err)
		assert.NotEqual(t, 99, again.VotesToSkip)
	})
}

type recordingForgetter struct{ codes []string }

func (r *recordingForgetter) Forget(code string) { r.codes = append(r.codes, code) }

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	stale, err := store.Create(ctx, "h1", models.RoomConfig{VotesToSkip: 1})
	require.NoError(t, err)

	clock = clock.Add(30 * time.Minute)
	fresh, err := store.Create(ctx, "h2", models.RoomConfig{VotesToSkip: 1})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	forgetter := &recordingForgetter{}
	j := NewJanitor(store, time.Minute, 20*time.Minute, logger, forgetter)
	j.now = func() time.Time { return clock }

	removed, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.Code}, removed)
	assert.Equal(t, []string{stale.Code}, forgetter.codes)

	_, err = store.Get(ctx, fresh.Code)
	assert.NoError(t, err)

	j.SetWindow(0)
	removed, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestReasonAndRetryable(t *testing.T) {
	tests := []struct {
		err       error
		reason    string
		retryable bool
	}{
		{ErrNotFound, "NOT_FOUND", false},
		{ErrForbidden, "FORBIDDEN", false},
		{ErrStaleTrack, "STALE_TRACK", false},
		{ErrPremiumRequired, "PREMIUM_REQUIRED", false},
		{ErrNoActiveDevice, "NO_ACTIVE_DEVICE", false},
		{&ProviderError{Message: "bad gateway", Status: 502, Transient: true}, "PROVIDER_ERROR", true},
		{ErrResourceExhausted, "RESOURCE_EXHAUSTED", true},
		{ErrInvalidToken, "INVALID_TOKEN", false},
		{errors.New("other"), "INTERNAL", false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			wrapped := errors.Join(errors.New("context"), tt.err)
			assert.Equal(t, tt.reason, Reason(wrapped))
			assert.Equal(t, tt.retryable, Retryable(wrapped))
		})
	}
}
