// Package fakes contains in-memory provider doubles for playback and controller tests
package fakes

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/services"
)

// Call records one method invocation on [Player].
type Call struct {
	Method   string
	DeviceID string
	URIs     []string
	Token    string
}

// Status builds the error the real client returns for an HTTP status.
func Status(code int) error {
	return &services.APIError{StatusCode: code, Method: http.MethodPut, Endpoint: "/fake"}
}

// Player is a scriptable stand-in for the Spotify playback API.
//
// Transferring to a device makes it active after ActivateAfter further device listings.
// Errors queued with FailNext are returned in order before normal behaviour resumes.
type Player struct {
	mu sync.Mutex

	devices       []models.DeviceHandle
	activeID      string
	pendingID     string
	pendingPolls  int
	ActivateAfter int

	playing   string
	isPlaying bool

	failures map[string][]error
	calls    []Call

	// PlayGate, when set, blocks Play until it is closed or receives.
	PlayGate chan struct{}
	// PlayStarted receives once per Play call before the gate, when set.
	PlayStarted chan struct{}
}

// NewPlayer creates a fake account with the given devices. A device marked active becomes the active one.
func NewPlayer(devices ...models.DeviceHandle) *Player {
	p := &Player{failures: map[string][]error{}}
	for _, d := range devices {
		if d.IsActive {
			p.activeID = d.ID
		}
		d.IsActive = false
		p.devices = append(p.devices, d)
	}
	return p
}

// FailNext queues errors for method ("Devices", "TransferPlayback", "Play", "Pause", "Resume", "PlaybackState").
func (p *Player) FailNext(method string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = append(p.failures[method], errs...)
}

// RemoveDevice drops a device from the account, as when a speaker is switched off.
func (p *Player) RemoveDevice(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.devices[:0]
	for _, d := range p.devices {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	p.devices = kept
	if p.activeID == id {
		p.activeID = ""
	}
}

// Calls returns the recorded calls, optionally filtered by method.
func (p *Player) Calls(method string) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Call
	for _, c := range p.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many times method was called.
func (p *Player) Count(method string) int {
	return len(p.Calls(method))
}

// Playing reports the current track and whether it is playing.
func (p *Player) Playing() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, p.isPlaying
}

// ActiveID returns the active device id.
func (p *Player) ActiveID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeID
}

func (p *Player) record(method string, cred *models.Credential, deviceID string, uris []string) error {
	c := Call{Method: method, DeviceID: deviceID, URIs: uris}
	if cred != nil {
		c.Token = cred.AccessToken
	}
	p.calls = append(p.calls, c)

	if queue := p.failures[method]; len(queue) > 0 {
		err := queue[0]
		p.failures[method] = queue[1:]
		return err
	}
	return nil
}

func (p *Player) known(id string) bool {
	for _, d := range p.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (p *Player) Devices(ctx context.Context, cred *models.Credential) ([]models.DeviceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.record("Devices", cred, "", nil); err != nil {
		return nil, err
	}

	if p.pendingID != "" {
		if p.pendingPolls <= 0 {
			p.activeID = p.pendingID
			p.pendingID = ""
		} else {
			p.pendingPolls--
		}
	}

	out := make([]models.DeviceHandle, len(p.devices))
	for i, d := range p.devices {
		d.IsActive = d.ID == p.activeID
		out[i] = d
	}
	return out, nil
}

func (p *Player) TransferPlayback(ctx context.Context, cred *models.Credential, deviceID string, play bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.record("TransferPlayback", cred, deviceID, nil); err != nil {
		return err
	}
	if !p.known(deviceID) {
		return Status(http.StatusNotFound)
	}

	if p.ActivateAfter <= 0 {
		p.activeID = deviceID
		p.pendingID = ""
	} else {
		p.pendingID = deviceID
		p.pendingPolls = p.ActivateAfter
	}
	return nil
}

func (p *Player) Play(ctx context.Context, cred *models.Credential, deviceID string, uris []string) error {
	if p.PlayStarted != nil {
		p.PlayStarted <- struct{}{}
	}
	if p.PlayGate != nil {
		select {
		case <-p.PlayGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.record("Play", cred, deviceID, uris); err != nil {
		return err
	}
	if deviceID != "" && !p.known(deviceID) {
		return Status(http.StatusNotFound)
	}
	if len(uris) > 0 {
		p.playing = uris[0]
	}
	p.isPlaying = true
	if deviceID != "" {
		p.activeID = deviceID
	}
	return nil
}

func (p *Player) Pause(ctx context.Context, cred *models.Credential, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.record("Pause", cred, deviceID, nil); err != nil {
		return err
	}
	p.isPlaying = false
	return nil
}

func (p *Player) Resume(ctx context.Context, cred *models.Credential, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.record("Resume", cred, deviceID, nil); err != nil {
		return err
	}
	if p.playing != "" {
		p.isPlaying = true
	}
	return nil
}

func (p *Player) PlaybackState(ctx context.Context, cred *models.Credential) (*services.PlaybackState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.record("PlaybackState", cred, "", nil); err != nil {
		return nil, err
	}
	if p.playing == "" {
		return nil, nil
	}

	state := &services.PlaybackState{
		IsPlaying: p.isPlaying,
		Item:      &services.SpotifyTrack{URI: p.playing, ID: strings.TrimPrefix(p.playing, "spotify:track:")},
	}
	for _, d := range p.devices {
		if d.ID == p.activeID {
			d.IsActive = true
			state.Device = d
		}
	}
	return state, nil
}

var _ services.Player = (*Player)(nil)
