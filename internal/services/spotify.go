// Spotify Web API implementation of [Player] and [Catalog]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

const (
	spotifyBaseURL        = "https://api.spotify.com/v1"
	defaultRequestTimeout = 10 * time.Second
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Images      []SpotifyImage `json:"images"`
}

// Premium reports whether the account can use the remote playback endpoints.
func (u *SpotifyUser) Premium() bool {
	return u.Product == "premium"
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	Explicit   bool            `json:"explicit"`
	URI        string          `json:"uri"`
}

// ArtistNames joins the track's artist names with ", ".
func (t *SpotifyTrack) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// ReleaseYear returns the year component of the album release date.
func (t *SpotifyTrack) ReleaseYear() string {
	year, _, _ := strings.Cut(t.Album.ReleaseDate, "-")
	return year
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
	URI         string         `json:"uri"`
}

// PlaybackState is the account's current playback as reported by GET /me/player.
type PlaybackState struct {
	Device     models.DeviceHandle `json:"device"`
	IsPlaying  bool                `json:"is_playing"`
	ProgressMS int                 `json:"progress_ms"`
	Item       *SpotifyTrack       `json:"item"`
}

// TrackURI returns the URI of the current item, or "".
func (p *PlaybackState) TrackURI() string {
	if p == nil || p.Item == nil {
		return ""
	}
	return p.Item.URI
}

type spotifyErrorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// APIError is a non-2xx response from the Web API.
//
// It unwraps to the shared sentinel for its status class so callers can use [errors.Is].
type APIError struct {
	StatusCode int
	Method     string
	Endpoint   string
	Message    string
	Reason     string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("spotify API error: %s %s: status %d", e.Method, e.Endpoint, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Unwrap maps 401 to [shared.ErrAuthExpired], 403 to [shared.ErrPlaybackForbidden], 404 to
// [shared.ErrDeviceNotFound], 429 and 5xx to [shared.ErrNetwork], and anything else to [shared.ErrAPIRequest].
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return shared.ErrAuthExpired
	case e.StatusCode == http.StatusForbidden:
		return shared.ErrPlaybackForbidden
	case e.StatusCode == http.StatusNotFound:
		return shared.ErrDeviceNotFound
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return shared.ErrNetwork
	default:
		return shared.ErrAPIRequest
	}
}

// SpotifyService calls the Web API with the credential passed to each method.
//
// It holds no token of its own; the caller decides when a credential must be refreshed.
type SpotifyService struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewSpotifyService creates a client for baseURL. Empty values pick the public API, [http.DefaultClient] and a
// ten second per-request timeout.
func NewSpotifyService(baseURL string, client *http.Client, timeout time.Duration) *SpotifyService {
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &SpotifyService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		timeout:    timeout,
	}
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// doRequest performs an authenticated request bounded by the service timeout.
//
// Transport failures and timeouts wrap [shared.ErrNetwork]; cancellation of ctx itself returns ctx.Err().
func (s *SpotifyService) doRequest(ctx context.Context, cred *models.Credential, method, endpoint string, query url.Values, body, result any) error {
	if cred == nil || cred.AccessToken == "" {
		return shared.ErrNotAuthenticated
	}

	apiURL := s.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s: %w", shared.ErrNetwork, method, endpoint, shared.ErrTimeout)
		}
		return fmt.Errorf("%w: %s %s: %v", shared.ErrNetwork, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp, method, endpoint)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func newAPIError(resp *http.Response, method, endpoint string) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Endpoint: endpoint}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body spotifyErrorBody
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Error.Message
		apiErr.Reason = body.Error.Reason
	}

	return apiErr
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context, cred *models.Credential) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, cred, http.MethodGet, "/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyService) Track(ctx context.Context, cred *models.Credential, trackID string) (*SpotifyTrack, error) {
	if trackID == "" {
		return nil, fmt.Errorf("%w: empty track id", shared.ErrInvalidArgument)
	}

	var track SpotifyTrack
	endpoint := "/tracks/" + url.PathEscape(trackID)
	if err := s.doRequest(ctx, cred, http.MethodGet, endpoint, nil, nil, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// Devices lists the account's Spotify Connect devices.
func (s *SpotifyService) Devices(ctx context.Context, cred *models.Credential) ([]models.DeviceHandle, error) {
	var response struct {
		Devices []models.DeviceHandle `json:"devices"`
	}

	if err := s.doRequest(ctx, cred, http.MethodGet, "/me/player/devices", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Devices, nil
}

// TransferPlayback makes deviceID the account's active device. play starts playback on it.
func (s *SpotifyService) TransferPlayback(ctx context.Context, cred *models.Credential, deviceID string, play bool) error {
	body := map[string]any{
		"device_ids": []string{deviceID},
		"play":       play,
	}
	return s.doRequest(ctx, cred, http.MethodPut, "/me/player", nil, body, nil)
}

// Play starts the given track URIs on deviceID.
func (s *SpotifyService) Play(ctx context.Context, cred *models.Credential, deviceID string, uris []string) error {
	body := map[string]any{"uris": uris}
	return s.doRequest(ctx, cred, http.MethodPut, "/me/player/play", deviceQuery(deviceID), body, nil)
}

// Resume continues the current playback on deviceID.
func (s *SpotifyService) Resume(ctx context.Context, cred *models.Credential, deviceID string) error {
	return s.doRequest(ctx, cred, http.MethodPut, "/me/player/play", deviceQuery(deviceID), nil, nil)
}

// Pause pauses playback on deviceID.
func (s *SpotifyService) Pause(ctx context.Context, cred *models.Credential, deviceID string) error {
	return s.doRequest(ctx, cred, http.MethodPut, "/me/player/pause", deviceQuery(deviceID), nil, nil)
}

// PlaybackState returns the current playback, or nil when nothing is active.
func (s *SpotifyService) PlaybackState(ctx context.Context, cred *models.Credential) (*PlaybackState, error) {
	var state PlaybackState
	var raw json.RawMessage
	if err := s.doRequest(ctx, cred, http.MethodGet, "/me/player", nil, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode playback state: %w", err)
	}
	return &state, nil
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device_id": {deviceID}}
}
