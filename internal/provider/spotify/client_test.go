package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jukebox/internal/database"
	"jukebox/internal/player"
	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTokens struct {
	mu   sync.Mutex
	recs map[string]database.TokenRecord
}

func newMemTokens() *memTokens {
	return &memTokens{recs: make(map[string]database.TokenRecord)}
}

func (m *memTokens) GetToken(_ context.Context, participantID string) (*database.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[participantID]
	if !ok {
		return nil, fmt.Errorf("token for %s: %w", participantID, room.ErrNotFound)
	}
	return &rec, nil
}

func (m *memTokens) SaveToken(_ context.Context, rec database.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(rec.RefreshToken) == 0 {
		rec.RefreshToken = m.recs[rec.ParticipantID].RefreshToken
	}
	m.recs[rec.ParticipantID] = rec
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *memTokens) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sealer, err := NewSealer("test-secret")
	require.NoError(t, err)

	tokens := newMemTokens()
	c := NewClient(Options{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost/spotify/redirect",
		APIBase:      srv.URL + "/v1/me",
		AccountsBase: srv.URL,
	}, tokens, sealer, logger)
	return c, tokens
}

func link(t *testing.T, c *Client, participantID string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, c.tokens.save(context.Background(), &models.ProviderToken{
		ParticipantID: participantID,
		AccessToken:   "access-" + participantID,
		RefreshToken:  "refresh-" + participantID,
		TokenType:     "Bearer",
		ExpiresAt:     expiresAt,
	}))
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("secret")
	require.NoError(t, err)

	box, err := s.Seal("token-value")
	require.NoError(t, err)
	assert.NotContains(t, string(box), "token-value")

	plain, err := s.Open(box)
	require.NoError(t, err)
	assert.Equal(t, "token-value", plain)

	other, err := NewSealer("other")
	require.NoError(t, err)
	_, err = other.Open(box)
	assert.Error(t, err)

	_, err = NewSealer("")
	assert.Error(t, err)
}

func TestAuthURL(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())

	u, err := url.Parse(c.AuthURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, Scopes, u.Query().Get("scope"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "state-1", u.Query().Get("state"))
}

func TestExchangeStoresSealedTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	c, tokens := newTestClient(t, mux)
	ctx := context.Background()

	assert.False(t, c.IsAuthenticated(ctx, "host"))
	require.NoError(t, c.Exchange(ctx, "host", "the-code"))
	assert.True(t, c.IsAuthenticated(ctx, "host"))

	rec, err := tokens.GetToken(ctx, "host")
	require.NoError(t, err)
	assert.NotContains(t, string(rec.AccessToken), "fresh-access")

	assert.Error(t, c.Exchange(ctx, "host", ""))
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-host", r.PostForm.Get("refresh_token"))
		refreshes.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "renewed",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1/me/player/play", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer renewed", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	link(t, c, "host", time.Now().Add(-time.Minute))
	require.NoError(t, c.Play(ctx, "host"))
	require.NoError(t, c.Play(ctx, "host"))
	assert.EqualValues(t, 1, refreshes.Load())

	tok, err := c.tokens.load(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "refresh-host", tok.RefreshToken, "refresh token kept when not rotated")
}

func TestCommandsHitPlayerEndpoints(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	mux := http.NewServeMux()
	for _, path := range []string{"/v1/me/player/play", "/v1/me/player/pause", "/v1/me/player/next"} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen[r.URL.Path] = r.Method
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
	}
	c, _ := newTestClient(t, mux)
	ctx := context.Background()
	link(t, c, "host", time.Now().Add(time.Hour))

	require.NoError(t, c.Play(ctx, "host"))
	require.NoError(t, c.Pause(ctx, "host"))
	require.NoError(t, c.Skip(ctx, "host"))

	assert.Equal(t, map[string]string{
		"/v1/me/player/play":  http.MethodPut,
		"/v1/me/player/pause": http.MethodPut,
		"/v1/me/player/next":  http.MethodPost,
	}, seen)
}

func TestUpstreamErrorsBecomeFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/me/player/play", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"status":403,"message":"Player command failed: Premium required","reason":"PREMIUM_REQUIRED"}}`)
	})
	mux.HandleFunc("/v1/me/player/pause", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"status":404,"message":"Player command failed: No active device found","reason":"NO_ACTIVE_DEVICE"}}`)
	})
	mux.HandleFunc("/v1/me/player/next", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `<html>bad gateway</html>`)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()
	link(t, c, "host", time.Now().Add(time.Hour))

	err := c.Play(ctx, "host")
	var f *player.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, player.ReasonPremiumRequired, f.Reason)
	assert.ErrorIs(t, player.Normalize(err), room.ErrPremiumRequired)

	err = c.Pause(ctx, "host")
	assert.ErrorIs(t, player.Normalize(err), room.ErrNoActiveDevice)

	err = c.Skip(ctx, "host")
	require.ErrorAs(t, err, &f)
	assert.Equal(t, http.StatusBadGateway, f.Status)
	assert.True(t, room.IsTransient(player.Normalize(err)))

	err = c.Play(ctx, "stranger")
	require.ErrorAs(t, err, &f)
	assert.Equal(t, player.ReasonNotAuthenticated, f.Reason)
}

func TestCurrentPlayback(t *testing.T) {
	var playing atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/me/player/currently-playing", func(w http.ResponseWriter, r *http.Request) {
		if !playing.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprint(w, `{
			"is_playing": true,
			"progress_ms": 42000,
			"item": {
				"id": "track-1",
				"name": "Song",
				"duration_ms": 180000,
				"album": {"images": [{"url": "https://img/large"}, {"url": "https://img/small"}]},
				"artists": [{"name": "A"}, {"name": "B"}]
			}
		}`)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()
	link(t, c, "host", time.Now().Add(time.Hour))

	state, err := c.CurrentPlayback(ctx, "host")
	require.NoError(t, err)
	assert.Nil(t, state)

	playing.Store(true)
	state, err = c.CurrentPlayback(ctx, "host")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.PlaybackState{
		IsPlaying:  true,
		ProgressMs: 42000,
		DurationMs: 180000,
		TrackID:    "track-1",
		Title:      "Song",
		Artist:     "A, B",
		ImageURL:   "https://img/large",
	}, *state)
}
