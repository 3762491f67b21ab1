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
	defaultActivationAttempts = 8
	defaultActivationInterval = 750 * time.Millisecond
)

var errNotActive = errors.New("device not active yet")

// DeviceOptions tunes a [DeviceController]. Zero values pick defaults.
type DeviceOptions struct {
	Attempts int
	Interval time.Duration
	Sleep    retry.Sleeper
	Logger   *log.Logger
}

// DeviceController makes sure a playback target is active before commands are sent to it.
type DeviceController struct {
	player services.Player
	target shared.DeviceConfig
	poll   retry.Policy
	logger *log.Logger

	mu      sync.Mutex
	current *models.DeviceHandle
}

// NewDeviceController creates a controller that activates the device named by target when nothing is active.
//
// An empty target accepts the first addressable device on the account.
func NewDeviceController(player services.Player, target shared.DeviceConfig, opts DeviceOptions) *DeviceController {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultActivationAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultActivationInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	logger := shared.WithLogger(opts.Logger, "component", "device")

	return &DeviceController{
		player: player,
		target: target,
		logger: logger,
		poll: retry.Policy{
			Rules: []retry.Rule{{
				Name:      "activation",
				Match:     retry.Is(errNotActive),
				Attempts:  opts.Attempts,
				Backoff:   opts.Interval,
				Exhausted: retry.Wrap(shared.ErrDeviceActivationTimeout),
			}},
			MaxBackoff: opts.Interval,
			Sleep:      opts.Sleep,
			Logger:     logger,
		},
	}
}

// Current returns the last device confirmed active, if any.
func (d *DeviceController) Current() (models.DeviceHandle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return models.DeviceHandle{}, false
	}
	return *d.current, true
}

// Invalidate forgets the resolved device so the next call re-queries the provider.
func (d *DeviceController) Invalidate() {
	d.mu.Lock()
	d.current = nil
	d.mu.Unlock()
}

// EnsureActiveDevice returns an active device, transferring playback to the configured one when none is active.
//
// A device already resolved in this process is returned without a provider call. After a transfer the device
// list is polled until the target reports active or the attempts run out with
// [shared.ErrDeviceActivationTimeout].
func (d *DeviceController) EnsureActiveDevice(ctx context.Context, cred *models.Credential) (models.DeviceHandle, error) {
	if cur, ok := d.Current(); ok {
		return cur, nil
	}

	devices, err := d.player.Devices(ctx, cred)
	if err != nil {
		return models.DeviceHandle{}, fmt.Errorf("failed to list devices: %w", err)
	}

	for _, dev := range devices {
		if dev.IsActive && !dev.IsRestricted {
			d.remember(dev)
			d.logger.Debug("device already active", "device", dev.ID, "name", dev.Name)
			return dev, nil
		}
	}

	target, err := d.selectTarget(devices)
	if err != nil {
		return models.DeviceHandle{}, err
	}

	d.logger.Info("transferring playback", "device", target.ID, "name", target.Name)
	if err := d.player.TransferPlayback(ctx, cred, target.ID, false); err != nil {
		return models.DeviceHandle{}, fmt.Errorf("failed to transfer playback: %w", err)
	}

	active, err := retry.DoValue(ctx, d.poll, func(ctx context.Context) (models.DeviceHandle, error) {
		return d.lookup(ctx, cred, target.ID)
	})
	if err != nil {
		return models.DeviceHandle{}, err
	}

	d.remember(active)
	return active, nil
}

func (d *DeviceController) selectTarget(devices []models.DeviceHandle) (models.DeviceHandle, error) {
	named := d.target.ID != "" || d.target.Name != ""

	for _, dev := range devices {
		if !dev.Addressable() {
			continue
		}
		if !named || dev.Matches(d.target.ID, d.target.Name) {
			return dev, nil
		}
	}

	if named {
		return models.DeviceHandle{}, fmt.Errorf("%w: %s", shared.ErrDeviceNotFound, d.targetLabel())
	}
	return models.DeviceHandle{}, fmt.Errorf("%w: no addressable devices", shared.ErrDeviceNotFound)
}

func (d *DeviceController) lookup(ctx context.Context, cred *models.Credential, id string) (models.DeviceHandle, error) {
	devices, err := d.player.Devices(ctx, cred)
	if err != nil {
		return models.DeviceHandle{}, err
	}

	for _, dev := range devices {
		if dev.ID != id {
			continue
		}
		if dev.IsActive {
			return dev, nil
		}
		return models.DeviceHandle{}, errNotActive
	}
	return models.DeviceHandle{}, fmt.Errorf("%w: %s disappeared during activation", shared.ErrDeviceNotFound, id)
}

func (d *DeviceController) remember(dev models.DeviceHandle) {
	d.mu.Lock()
	d.current = &dev
	d.mu.Unlock()
}

func (d *DeviceController) targetLabel() string {
	if d.target.ID != "" {
		return d.target.ID
	}
	return d.target.Name
}
