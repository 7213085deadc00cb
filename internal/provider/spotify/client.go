// Package spotify implements player.Provider against the Spotify Web API on
// behalf of a room host, including the OAuth code flow and token refresh.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jukebox/internal/player"
	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
)

// Scopes requested from the host's account.
const Scopes = "user-read-playback-state user-modify-playback-state user-read-currently-playing streaming"

// Options configure the client.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIBase      string // e.g. https://api.spotify.com/v1/me/
	AccountsBase string // e.g. https://accounts.spotify.com
	HTTPClient   *http.Client
}

// Client talks to Spotify for every participant that linked an account.
type Client struct {
	opts   Options
	http   *http.Client
	tokens *sealedTokens
	logger *logrus.Logger
	now    func() time.Time
}

// NewClient creates a client storing credentials in store, sealed by sealer.
func NewClient(opts Options, store TokenStore, sealer *Sealer, logger *logrus.Logger) *Client {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.spotify.com/v1/me/"
	}
	if !strings.HasSuffix(opts.APIBase, "/") {
		opts.APIBase += "/"
	}
	if opts.AccountsBase == "" {
		opts.AccountsBase = "https://accounts.spotify.com"
	}
	opts.AccountsBase = strings.TrimSuffix(opts.AccountsBase, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		opts:   opts,
		http:   httpClient,
		tokens: &sealedTokens{store: store, sealer: sealer},
		logger: logger,
		now:    time.Now,
	}
}

// AuthURL returns the authorization page the participant is sent to.
func (c *Client) AuthURL(state string) string {
	q := url.Values{}
	q.Set("scope", Scopes)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.opts.RedirectURI)
	q.Set("client_id", c.opts.ClientID)
	if state != "" {
		q.Set("state", state)
	}
	return c.opts.AccountsBase + "/authorize?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	Description  string `json:"error_description"`
}

// Exchange trades an authorization code for tokens and stores them for participantID.
func (c *Client) Exchange(ctx context.Context, participantID, code string) error {
	if code == "" {
		return errors.New("authorization code not provided")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.opts.RedirectURI)

	resp, err := c.requestToken(ctx, form)
	if err != nil {
		return err
	}
	if resp.AccessToken == "" || resp.TokenType == "" || resp.ExpiresIn == 0 {
		return errors.New("incomplete token response from provider")
	}

	tok := &models.ProviderToken{
		ParticipantID: participantID,
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		TokenType:     resp.TokenType,
		ExpiresAt:     c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if err := c.tokens.save(ctx, tok); err != nil {
		return err
	}

	c.logger.WithField("participant", participantID).Info("Provider account linked")
	return nil
}

// IsAuthenticated reports whether participantID has a usable credential,
// refreshing an expired one.
func (c *Client) IsAuthenticated(ctx context.Context, participantID string) bool {
	_, err := c.accessToken(ctx, participantID)
	return err == nil
}

func (c *Client) accessToken(ctx context.Context, participantID string) (string, error) {
	tok, err := c.tokens.load(ctx, participantID)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			return "", &player.Failure{
				Status:  http.StatusUnauthorized,
				Reason:  player.ReasonNotAuthenticated,
				Message: "host has not linked a provider account",
			}
		}
		return "", err
	}

	if !tok.Expired(c.now()) {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", &player.Failure{
			Status:  http.StatusUnauthorized,
			Reason:  player.ReasonNotAuthenticated,
			Message: "provider token expired and cannot be refreshed",
		}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)

	resp, err := c.requestToken(ctx, form)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &player.Failure{Status: http.StatusUnauthorized, Reason: player.ReasonNotAuthenticated, Message: "token refresh returned no access token"}
	}

	tok.AccessToken = resp.AccessToken
	if resp.TokenType != "" {
		tok.TokenType = resp.TokenType
	}
	if resp.RefreshToken != "" {
		tok.RefreshToken = resp.RefreshToken
	}
	expiresIn := resp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	tok.ExpiresAt = c.now().Add(time.Duration(expiresIn) * time.Second)

	if err := c.tokens.save(ctx, tok); err != nil {
		return "", err
	}
	c.logger.WithField("participant", participantID).Debug("Provider token refreshed")
	return tok.AccessToken, nil
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", c.opts.ClientID)
	form.Set("client_secret", c.opts.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.AccountsBase+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer res.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, &player.Failure{Status: res.StatusCode, Message: "failed to parse token response"}
	}
	if res.StatusCode != http.StatusOK {
		msg := body.Description
		if msg == "" {
			msg = body.Error
		}
		return nil, &player.Failure{Status: res.StatusCode, Reason: strings.ToUpper(body.Error), Message: msg}
	}
	return &body, nil
}

// apiError is the error envelope of the Web API.
type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// call performs an authenticated Web API request and returns the body of a
// 2xx response. A 204 yields a nil body.
func (c *Client) call(ctx context.Context, hostID, method, endpoint string) ([]byte, error) {
	token, err := c.accessToken(ctx, hostID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.APIBase+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, endpoint, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		f := &player.Failure{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		var env apiError
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			f.Message = env.Error.Message
			f.Reason = env.Error.Reason
		}
		return nil, f
	}
	return body, nil
}

func (c *Client) Play(ctx context.Context, hostID string) error {
	_, err := c.call(ctx, hostID, http.MethodPut, "player/play")
	return err
}

func (c *Client) Pause(ctx context.Context, hostID string) error {
	_, err := c.call(ctx, hostID, http.MethodPut, "player/pause")
	return err
}

func (c *Client) Skip(ctx context.Context, hostID string) error {
	_, err := c.call(ctx, hostID, http.MethodPost, "player/next")
	return err
}

type currentlyPlaying struct {
	IsPlaying  bool `json:"is_playing"`
	ProgressMs int  `json:"progress_ms"`
	Item       *struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		DurationMs int    `json:"duration_ms"`
		Album      struct {
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"album"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"item"`
}

// CurrentPlayback reads the host's currently playing item. Nothing playing,
// including a non-track item such as an ad, yields nil.
func (c *Client) CurrentPlayback(ctx context.Context, hostID string) (*models.PlaybackState, error) {
	body, err := c.call(ctx, hostID, http.MethodGet, "player/currently-playing")
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var cp currentlyPlaying
	if err := json.Unmarshal(body, &cp); err != nil {
		return nil, &player.Failure{Status: http.StatusBadGateway, Message: "failed to parse provider response"}
	}
	if cp.Item == nil {
		return nil, nil
	}

	artists := make([]string, 0, len(cp.Item.Artists))
	for _, a := range cp.Item.Artists {
		artists = append(artists, a.Name)
	}
	var image string
	if len(cp.Item.Album.Images) > 0 {
		image = cp.Item.Album.Images[0].URL
	}

	return &models.PlaybackState{
		IsPlaying:  cp.IsPlaying,
		ProgressMs: cp.ProgressMs,
		DurationMs: cp.Item.DurationMs,
		TrackID:    cp.Item.ID,
		Title:      cp.Item.Name,
		Artist:     strings.Join(artists, ", "),
		ImageURL:   image,
	}, nil
}

var _ player.Provider = (*Client)(nil)
