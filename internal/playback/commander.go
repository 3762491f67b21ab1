package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/retry"
	"github.com/skywisej/qr-music-card-maker/internal/services"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

const (
	defaultNetworkAttempts = 3
	defaultNetworkBackoff  = 500 * time.Millisecond
	defaultMaxBackoff      = 4 * time.Second
)

// Credentials supplies the credential for each command. [auth.Flow] satisfies it.
type Credentials interface {
	// Credential returns a credential valid now, refreshing first when the held one has expired.
	Credential(ctx context.Context) (*models.Credential, error)
	// Refresh forces a refresh and returns the new credential.
	Refresh(ctx context.Context) (*models.Credential, error)
}

// Options tunes a [Commander]. Zero values pick defaults.
type Options struct {
	NetworkAttempts int
	NetworkBackoff  time.Duration
	MaxBackoff      time.Duration
	Sleep           retry.Sleeper
	Logger          *log.Logger
}

// Commander issues play, pause and resume against the resolved device.
type Commander struct {
	player  services.Player
	creds   Credentials
	devices *DeviceController
	opts    Options
	logger  *log.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	session  string
}

// NewCommander wires a commander to the provider, the credential source and the device controller.
func NewCommander(player services.Player, creds Credentials, devices *DeviceController, opts Options) *Commander {
	if opts.NetworkAttempts <= 0 {
		opts.NetworkAttempts = defaultNetworkAttempts
	}
	if opts.NetworkBackoff <= 0 {
		opts.NetworkBackoff = defaultNetworkBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Commander{
		player:   player,
		creds:    creds,
		devices:  devices,
		opts:     opts,
		logger:   shared.WithLogger(opts.Logger, "component", "playback"),
		inFlight: make(map[string]struct{}),
	}
}

// Devices returns the controller the commander resolves targets with.
func (c *Commander) Devices() *DeviceController { return c.devices }

// Busy reports whether a play command for session is outstanding.
func (c *Commander) Busy(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[session]
	return ok
}

// Play starts trackURI on the active device for the card session identified by session.
//
// At most one play per session is outstanding; a second call while one runs returns
// [shared.ErrCommandInFlight] without contacting the provider. The first play of a new session re-queries the
// device list, since the device resolved for the previous card may have gone idle since.
func (c *Commander) Play(ctx context.Context, session, trackURI string) error {
	if trackURI == "" {
		return fmt.Errorf("%w: empty track uri", shared.ErrInvalidCard)
	}
	if !c.acquire(session) {
		c.logger.Debug("play ignored, command in flight", "session", session)
		return shared.ErrCommandInFlight
	}
	defer c.release(session)

	if c.startSession(session) {
		c.devices.Invalidate()
	}

	err := c.run(ctx, "play", true, func(ctx context.Context, cred *models.Credential, deviceID string) error {
		return c.player.Play(ctx, cred, deviceID, []string{trackURI})
	})
	if err != nil {
		c.logger.Warn("play failed", "session", session, "track", trackURI, "error", err)
		return err
	}

	c.logger.Info("playing", "session", session, "track", trackURI)
	return nil
}

// Pause pauses the device playback was last started on.
func (c *Commander) Pause(ctx context.Context) error {
	return c.run(ctx, "pause", false, func(ctx context.Context, cred *models.Credential, deviceID string) error {
		return c.player.Pause(ctx, cred, deviceID)
	})
}

// Resume resumes playback, activating a device first when none is active.
func (c *Commander) Resume(ctx context.Context) error {
	return c.run(ctx, "resume", true, func(ctx context.Context, cred *models.Credential, deviceID string) error {
		return c.player.Resume(ctx, cred, deviceID)
	})
}

// NowPlaying reports the account's current playback, or nil when nothing is playing.
func (c *Commander) NowPlaying(ctx context.Context) (*services.PlaybackState, error) {
	var state *services.PlaybackState
	err := c.run(ctx, "state", false, func(ctx context.Context, cred *models.Credential, _ string) error {
		s, err := c.player.PlaybackState(ctx, cred)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	return state, err
}

type command func(ctx context.Context, cred *models.Credential, deviceID string) error

// run executes cmd under the shared recovery rules:
// 401 refreshes once, 403 and 404 re-resolve the device once, network failures back off.
// A credential that cannot be obtained at all is returned as is.
func (c *Commander) run(ctx context.Context, name string, ensure bool, cmd command) error {
	var (
		cred       *models.Credential
		device     models.DeviceHandle
		credFailed bool // Credential already tried its own refresh
	)

	reresolve := func(ctx context.Context, err error) error {
		c.devices.Invalidate()
		device = models.DeviceHandle{}
		ensure = true
		return nil
	}

	policy := retry.Policy{
		Rules: []retry.Rule{
			{
				Name: "auth",
				Match: func(err error) bool {
					return !credFailed && errors.Is(err, shared.ErrAuthExpired)
				},
				Attempts: 1,
				Before: func(ctx context.Context, err error) error {
					fresh, rerr := c.creds.Refresh(ctx)
					if rerr != nil {
						return rerr
					}
					cred = fresh
					return nil
				},
				Exhausted: retry.Wrap(shared.ErrAuthExpired),
			},
			{
				Name:      "forbidden",
				Match:     retry.Is(shared.ErrPlaybackForbidden),
				Attempts:  1,
				Before:    reresolve,
				Exhausted: retry.Wrap(shared.ErrPlaybackForbidden),
			},
			{
				Name:      "device",
				Match:     retry.Is(shared.ErrDeviceNotFound),
				Attempts:  1,
				Before:    reresolve,
				Exhausted: retry.Wrap(shared.ErrDeviceNotFound),
			},
			{
				Name:      "network",
				Match:     shared.IsRetryable,
				Attempts:  c.opts.NetworkAttempts,
				Backoff:   c.opts.NetworkBackoff,
				Exhausted: retry.Wrap(shared.ErrUnreachable),
			},
		},
		MaxBackoff: c.opts.MaxBackoff,
		Sleep:      c.opts.Sleep,
		Logger:     shared.WithLogger(c.logger, "command", name),
	}

	return policy.Do(ctx, func(ctx context.Context) error {
		credFailed = false
		if cred == nil {
			fresh, err := c.creds.Credential(ctx)
			if err != nil {
				credFailed = true
				return err
			}
			cred = fresh
		}

		if device.ID == "" {
			if ensure {
				d, err := c.devices.EnsureActiveDevice(ctx, cred)
				if err != nil {
					return err
				}
				device = d
			} else if d, ok := c.devices.Current(); ok {
				device = d
			}
		}

		return cmd(ctx, cred, device.ID)
	})
}

func (c *Commander) acquire(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inFlight[session]; ok {
		return false
	}
	c.inFlight[session] = struct{}{}
	return true
}

// startSession records session as the current card session and reports whether it changed.
func (c *Commander) startSession(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if session == c.session {
		return false
	}
	c.session = session
	return true
}

func (c *Commander) release(session string) {
	c.mu.Lock()
	delete(c.inFlight, session)
	c.mu.Unlock()
}
