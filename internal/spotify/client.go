package spotify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAccountsURL = "https://accounts.spotify.com"
	DefaultAPIURL      = "https://api.spotify.com"

	authScopes = "user-read-private user-read-email user-read-currently-playing user-modify-playback-state user-read-playback-state playlist-read-collaborative playlist-read-private"
)

// ErrUnauthorized is returned when Spotify rejects the access token (HTTP 401).
var ErrUnauthorized = errors.New("spotify: access token rejected")

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	accountsURL  string
	apiURL       string
	httpClient   *http.Client
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	ExpiresAt    time.Time
}

func (tr *TokenResponse) addExpiresAt() {
	tr.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
}

type Track struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Artists  []Artist `json:"artists"`
	Duration int      `json:"duration_ms"`
	Album    Album    `json:"album"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

// Playlist is a simplified playlist as returned by /v1/me/playlists. Only the
// track total is known until the tracks are listed separately.
type Playlist struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Images       []Image      `json:"images"`
	ExternalURLs ExternalURLs `json:"external_urls"`
	Tracks       struct {
		Href  string `json:"href"`
		Total int    `json:"total"`
	} `json:"tracks"`
}

type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	VolumePercent int    `json:"volume_percent"`
}

// Playback is the state of the user's player. Device or Item may be nil when
// nothing is playing.
type Playback struct {
	Device     *Device `json:"device"`
	Item       *Track  `json:"item"`
	ProgressMs int     `json:"progress_ms"`
	IsPlaying  bool    `json:"is_playing"`
}

type User struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email"`
	Images      []Image `json:"images"`
}

type playlistPage struct {
	Items []Playlist `json:"items"`
	Next  *string    `json:"next"`
}

type playlistTrackPage struct {
	Items []struct {
		Track *Track `json:"track"`
	} `json:"items"`
	Next *string `json:"next"`
}

func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		accountsURL:  DefaultAccountsURL,
		apiURL:       DefaultAPIURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURLs points the client at different accounts/API hosts.
func (c *Client) WithBaseURLs(accountsURL, apiURL string) *Client {
	if accountsURL != "" {
		c.accountsURL = strings.TrimRight(accountsURL, "/")
	}
	if apiURL != "" {
		c.apiURL = strings.TrimRight(apiURL, "/")
	}
	return c
}

func (c *Client) GetAuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", c.clientID)
	params.Add("response_type", "code")
	params.Add("redirect_uri", c.redirectURI)
	params.Add("scope", authScopes)
	params.Add("state", state)

	return c.accountsURL + "/authorize?" + params.Encode()
}

func (c *Client) ExchangeToken(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountsURL+"/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Add("Authorization", "Basic "+auth)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: token request failed with status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}
	token.addExpiresAt()
	return &token, nil
}

// do sends an authenticated API request and decodes the body into out when
// out is non-nil and the response carries content.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body interface{}, out interface{}, what string) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(jsonData)
	}

	target := path
	if !strings.HasPrefix(path, "http") {
		target = c.apiURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, ErrUnauthorized
	case resp.StatusCode >= 300:
		return resp.StatusCode, fmt.Errorf("spotify: %s request failed with status %d", what, resp.StatusCode)
	case resp.StatusCode == http.StatusNoContent || out == nil:
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("spotify: decode %s response: %w", what, err)
	}
	return resp.StatusCode, nil
}

// GetCurrentPlayback returns nil without error when no device is active.
func (c *Client) GetCurrentPlayback(ctx context.Context, accessToken string) (*Playback, error) {
	var playback Playback
	status, err := c.do(ctx, http.MethodGet, "/v1/me/player", accessToken, nil, &playback, "player")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &playback, nil
}

func (c *Client) PlayTrack(ctx context.Context, accessToken, deviceID, trackID string) error {
	payload := map[string]interface{}{
		"uris": []string{fmt.Sprintf("spotify:track:%s", trackID)},
	}

	path := "/v1/me/player/play"
	if deviceID != "" {
		path += "?device_id=" + url.QueryEscape(deviceID)
	}

	_, err := c.do(ctx, http.MethodPut, path, accessToken, payload, nil, "play track")
	return err
}

func (c *Client) SkipToNext(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/me/player/next", accessToken, nil, nil, "skip")
	return err
}

func (c *Client) Pause(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/me/player/pause", accessToken, nil, nil, "pause")
	return err
}

func (c *Client) Resume(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/me/player/play", accessToken, nil, nil, "resume")
	return err
}

func (c *Client) SetVolume(ctx context.Context, accessToken string, percent int) error {
	path := fmt.Sprintf("/v1/me/player/volume?volume_percent=%d", percent)
	_, err := c.do(ctx, http.MethodPut, path, accessToken, nil, nil, "volume")
	return err
}

// ListPlaylists returns every playlist of the user, following pagination.
func (c *Client) ListPlaylists(ctx context.Context, accessToken string) ([]Playlist, error) {
	var playlists []Playlist
	next := "/v1/me/playlists?limit=50"
	for next != "" {
		var page playlistPage
		if _, err := c.do(ctx, http.MethodGet, next, accessToken, nil, &page, "playlists"); err != nil {
			return nil, err
		}
		playlists = append(playlists, page.Items...)
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return playlists, nil
}

// ListPlaylistTracks returns the playable tracks of a playlist. Entries without
// a track object or id (local files, removed tracks) are dropped.
func (c *Client) ListPlaylistTracks(ctx context.Context, accessToken, playlistID string) ([]Track, error) {
	var tracks []Track
	next := "/v1/playlists/" + url.PathEscape(playlistID) + "/tracks?limit=100"
	for next != "" {
		var page playlistTrackPage
		if _, err := c.do(ctx, http.MethodGet, next, accessToken, nil, &page, "playlist tracks"); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track != nil && item.Track.ID != "" {
				tracks = append(tracks, *item.Track)
			}
		}
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return tracks, nil
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if _, err := c.do(ctx, http.MethodGet, "/v1/me", accessToken, nil, &user, "get user"); err != nil {
		return nil, err
	}
	return &user, nil
}
