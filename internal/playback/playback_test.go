package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywisej/qr-music-card-maker/internal/auth"
	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
	tu "github.com/skywisej/qr-music-card-maker/internal/testing"
	"github.com/skywisej/qr-music-card-maker/internal/testing/fakes"
)

const track = "spotify:track:4uLU6hMCjMI75M1A2tKUQC"

var (
	kitchen = models.DeviceHandle{ID: "d-kitchen", Name: "Kitchen", Type: "Speaker"}
	den     = models.DeviceHandle{ID: "d-den", Name: "Den", Type: "Speaker"}
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func active(d models.DeviceHandle) models.DeviceHandle {
	d.IsActive = true
	return d
}

func newController(player *fakes.Player, target shared.DeviceConfig, sleeps *tu.Sleeps) *DeviceController {
	return NewDeviceController(player, target, DeviceOptions{
		Attempts: 3,
		Interval: 10 * time.Millisecond,
		Sleep:    sleeps.Sleep,
		Logger:   quietLogger(),
	})
}

type harness struct {
	player *fakes.Player
	creds  *fakes.Credentials
	sleeps *tu.Sleeps
	cmd    *Commander
}

func newHarness(player *fakes.Player, target shared.DeviceConfig) *harness {
	h := &harness{player: player, creds: fakes.NewCredentials(), sleeps: &tu.Sleeps{}}
	h.cmd = NewCommander(player, h.creds, newController(player, target, h.sleeps), Options{
		NetworkAttempts: 3,
		NetworkBackoff:  10 * time.Millisecond,
		MaxBackoff:      time.Second,
		Sleep:           h.sleeps.Sleep,
		Logger:          quietLogger(),
	})
	return h
}

func TestDeviceController_EnsureActiveDevice(t *testing.T) {
	ctx := context.Background()
	cred := &models.Credential{AccessToken: "token"}

	t.Run("already active device is used without transfer", func(t *testing.T) {
		player := fakes.NewPlayer(active(kitchen), den)
		dc := newController(player, shared.DeviceConfig{Name: "Den"}, &tu.Sleeps{})

		got, err := dc.EnsureActiveDevice(ctx, cred)
		require.NoError(t, err)
		assert.Equal(t, kitchen.ID, got.ID)

		again, err := dc.EnsureActiveDevice(ctx, cred)
		require.NoError(t, err)
		assert.Equal(t, got.ID, again.ID)

		assert.Zero(t, player.Count("TransferPlayback"))
		assert.Equal(t, 1, player.Count("Devices"), "second call is served from the resolved handle")
	})

	t.Run("transfers to the configured device and polls until active", func(t *testing.T) {
		player := fakes.NewPlayer(kitchen, den)
		player.ActivateAfter = 2
		sleeps := &tu.Sleeps{}
		dc := newController(player, shared.DeviceConfig{Name: "den"}, sleeps)

		got, err := dc.EnsureActiveDevice(ctx, cred)
		require.NoError(t, err)
		assert.Equal(t, den.ID, got.ID)
		assert.True(t, got.IsActive)

		transfers := player.Calls("TransferPlayback")
		require.Len(t, transfers, 1)
		assert.Equal(t, den.ID, transfers[0].DeviceID)
		assert.Equal(t, 4, player.Count("Devices"))
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, sleeps.Waits())
	})

	t.Run("configured id wins over name", func(t *testing.T) {
		player := fakes.NewPlayer(kitchen, den)
		dc := newController(player, shared.DeviceConfig{ID: kitchen.ID, Name: "Den"}, &tu.Sleeps{})

		got, err := dc.EnsureActiveDevice(ctx, cred)
		require.NoError(t, err)
		assert.Equal(t, kitchen.ID, got.ID)
	})

	t.Run("activation timeout", func(t *testing.T) {
		player := fakes.NewPlayer(kitchen)
		player.ActivateAfter = 100
		dc := newController(player, shared.DeviceConfig{}, &tu.Sleeps{})

		_, err := dc.EnsureActiveDevice(ctx, cred)
		require.ErrorIs(t, err, shared.ErrDeviceActivationTimeout)
		assert.Equal(t, 5, player.Count("Devices"))
		_, ok := dc.Current()
		assert.False(t, ok)
	})

	t.Run("missing configured device", func(t *testing.T) {
		player := fakes.NewPlayer(kitchen)
		dc := newController(player, shared.DeviceConfig{Name: "Garage"}, &tu.Sleeps{})

		_, err := dc.EnsureActiveDevice(ctx, cred)
		require.ErrorIs(t, err, shared.ErrDeviceNotFound)
		assert.Zero(t, player.Count("TransferPlayback"))
	})

	t.Run("restricted devices are skipped", func(t *testing.T) {
		restricted := kitchen
		restricted.IsRestricted = true
		player := fakes.NewPlayer(restricted, den)
		dc := newController(player, shared.DeviceConfig{}, &tu.Sleeps{})

		got, err := dc.EnsureActiveDevice(ctx, cred)
		require.NoError(t, err)
		assert.Equal(t, den.ID, got.ID)
	})

	t.Run("no devices", func(t *testing.T) {
		dc := newController(fakes.NewPlayer(), shared.DeviceConfig{}, &tu.Sleeps{})

		_, err := dc.EnsureActiveDevice(ctx, cred)
		require.ErrorIs(t, err, shared.ErrDeviceNotFound)
	})

	t.Run("invalidate re-queries the provider", func(t *testing.T) {
		player := fakes.NewPlayer(active(kitchen))
		dc := newController(player, shared.DeviceConfig{}, &tu.Sleeps{})

		_, err := dc.EnsureActiveDevice(ctx, cred)
		require.NoError(t, err)
		dc.Invalidate()
		_, err = dc.EnsureActiveDevice(ctx, cred)
		require.NoError(t, err)

		assert.Equal(t, 2, player.Count("Devices"))
	})
}

func TestCommander_Play(t *testing.T) {
	ctx := context.Background()

	t.Run("active device plays once", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})

		require.NoError(t, h.cmd.Play(ctx, "s1", track))

		plays := h.player.Calls("Play")
		require.Len(t, plays, 1)
		assert.Equal(t, kitchen.ID, plays[0].DeviceID)
		assert.Equal(t, []string{track}, plays[0].URIs)
		assert.Zero(t, h.player.Count("TransferPlayback"))
		assert.False(t, h.cmd.Busy("s1"))
	})

	t.Run("401 refreshes and retries with the new token", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		h.player.FailNext("Play", fakes.Status(http.StatusUnauthorized))

		require.NoError(t, h.cmd.Play(ctx, "s1", track))

		plays := h.player.Calls("Play")
		require.Len(t, plays, 2)
		assert.Equal(t, "token-0", plays[0].Token)
		assert.Equal(t, "token-1", plays[1].Token)
		assert.Equal(t, 1, h.creds.Refreshes())
	})

	t.Run("rejected refresh surfaces auth expired", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		h.player.FailNext("Play", fakes.Status(http.StatusUnauthorized))
		h.creds.FailRefresh(fmt.Errorf("%w: %w", shared.ErrAuthExpired, shared.ErrInvalidGrant))

		err := h.cmd.Play(ctx, "s1", track)
		require.ErrorIs(t, err, shared.ErrAuthExpired)
		assert.True(t, shared.RequiresLogin(err))
		assert.Equal(t, 1, h.player.Count("Play"))
	})

	t.Run("401 after refresh surfaces auth expired", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		h.player.FailNext("Play", fakes.Status(http.StatusUnauthorized), fakes.Status(http.StatusUnauthorized))

		err := h.cmd.Play(ctx, "s1", track)
		require.ErrorIs(t, err, shared.ErrAuthExpired)
		assert.Equal(t, 2, h.player.Count("Play"))
		assert.Equal(t, 1, h.creds.Refreshes())
	})

	t.Run("403 twice surfaces playback forbidden", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		h.player.FailNext("Play", fakes.Status(http.StatusForbidden), fakes.Status(http.StatusForbidden))

		err := h.cmd.Play(ctx, "s1", track)
		require.ErrorIs(t, err, shared.ErrPlaybackForbidden)
		assert.False(t, shared.IsRetryable(err))
		assert.Equal(t, 2, h.player.Count("Play"))
		assert.Equal(t, 2, h.player.Count("Devices"), "device is re-resolved before the retry")
	})

	t.Run("403 recovered by device re-resolve", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		h.player.FailNext("Play", fakes.Status(http.StatusForbidden))

		require.NoError(t, h.cmd.Play(ctx, "s1", track))
		assert.Equal(t, 2, h.player.Count("Play"))
	})

	t.Run("404 moves playback to another device", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen), den), shared.DeviceConfig{})
		require.NoError(t, h.cmd.Play(ctx, "s1", track))

		h.player.RemoveDevice(kitchen.ID)

		require.NoError(t, h.cmd.Play(ctx, "s1", track))

		plays := h.player.Calls("Play")
		require.Len(t, plays, 3)
		assert.Equal(t, kitchen.ID, plays[0].DeviceID)
		assert.Equal(t, kitchen.ID, plays[1].DeviceID, "same session reuses the resolved device")
		assert.Equal(t, den.ID, plays[2].DeviceID)

		transfers := h.player.Calls("TransferPlayback")
		require.Len(t, transfers, 1)
		assert.Equal(t, den.ID, transfers[0].DeviceID)
	})

	t.Run("transient failures retry with backoff", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		h.player.FailNext("Play", fakes.Status(http.StatusServiceUnavailable), fakes.Status(http.StatusBadGateway))

		require.NoError(t, h.cmd.Play(ctx, "s1", track))
		assert.Equal(t, 3, h.player.Count("Play"))
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, h.sleeps.Waits())
	})

	t.Run("persistent failures surface unreachable", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		for range 4 {
			h.player.FailNext("Play", fakes.Status(http.StatusBadGateway))
		}

		err := h.cmd.Play(ctx, "s1", track)
		require.ErrorIs(t, err, shared.ErrUnreachable)
		assert.Equal(t, 4, h.player.Count("Play"))
	})

	t.Run("not authenticated", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		h.creds.Logout()

		err := h.cmd.Play(ctx, "s1", track)
		require.ErrorIs(t, err, shared.ErrNotAuthenticated)
		assert.Empty(t, h.player.Calls(""))
	})

	t.Run("empty track", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		require.ErrorIs(t, h.cmd.Play(ctx, "s1", ""), shared.ErrInvalidCard)
	})

	t.Run("canceled context", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		require.ErrorIs(t, h.cmd.Play(cctx, "s1", track), context.Canceled)
	})
}

func TestCommander_PlayResolvesDevicePerSession(t *testing.T) {
	ctx := context.Background()

	t.Run("new session re-queries the device list", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})

		require.NoError(t, h.cmd.Play(ctx, "card-1", track))
		assert.Equal(t, 1, h.player.Count("Devices"))

		require.NoError(t, h.cmd.Play(ctx, "card-2", track))
		assert.Equal(t, 2, h.player.Count("Devices"))
		assert.Zero(t, h.player.Count("TransferPlayback"), "an active device is not transferred to again")
	})

	t.Run("speaker switched off between cards", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen), den), shared.DeviceConfig{})
		require.NoError(t, h.cmd.Play(ctx, "card-1", track))

		h.player.RemoveDevice(kitchen.ID)
		require.NoError(t, h.cmd.Play(ctx, "card-2", track))

		plays := h.player.Calls("Play")
		require.Len(t, plays, 2, "the new session resolves before playing instead of hitting the stale device")
		assert.Equal(t, den.ID, plays[1].DeviceID)
		assert.Equal(t, 1, h.player.Count("TransferPlayback"))
	})
}

// newFlowCommander wires a commander to a real auth flow whose token endpoint answers with handle.
func newFlowCommander(t *testing.T, player *fakes.Player, now time.Time, cred *models.Credential, handle http.HandlerFunc) (*Commander, *auth.Flow, *atomic.Int32) {
	t.Helper()

	var tokenCalls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		handle(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := shared.DefaultConfig().Credentials.Spotify
	cfg.ClientID = "client-123"
	cfg.TokenURL = ts.URL

	flow, err := auth.NewFlow(cfg, auth.NewStore(nil, quietLogger()), auth.Options{
		Now:             func() time.Time { return now },
		NetworkAttempts: 1,
		Sleep:           func(context.Context, time.Duration) error { return nil },
		Logger:          quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, flow.Store().Commit(context.Background(), cred))

	sleeps := &tu.Sleeps{}
	cmd := NewCommander(player, flow, newController(player, shared.DeviceConfig{}, sleeps), Options{
		NetworkAttempts: 1,
		NetworkBackoff:  time.Millisecond,
		Sleep:           sleeps.Sleep,
		Logger:          quietLogger(),
	})
	return cmd, flow, &tokenCalls
}

func TestCommander_PlayWithExpiredCredential(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := &models.Credential{AccessToken: "old", RefreshToken: "refresh-old", TokenType: "Bearer", ExpiresAt: now.Add(-time.Minute)}

	t.Run("refresh before the first request", func(t *testing.T) {
		player := fakes.NewPlayer(active(kitchen))
		cmd, _, tokenCalls := newFlowCommander(t, player, now, expired, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"new","token_type":"Bearer","expires_in":3600}`)
		})

		require.NoError(t, cmd.Play(ctx, "s1", track))

		plays := player.Calls("Play")
		require.Len(t, plays, 1)
		assert.Equal(t, "new", plays[0].Token)
		assert.Equal(t, int32(1), tokenCalls.Load())
	})

	t.Run("rejected refresh token surfaces auth expired", func(t *testing.T) {
		player := fakes.NewPlayer(active(kitchen))
		cmd, flow, tokenCalls := newFlowCommander(t, player, now, expired, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Refresh token revoked"}`)
		})

		err := cmd.Play(ctx, "s1", track)
		require.ErrorIs(t, err, shared.ErrAuthExpired)
		assert.NotErrorIs(t, err, shared.ErrNotAuthenticated)
		assert.True(t, shared.RequiresLogin(err))

		assert.Empty(t, player.Calls(""), "no provider request without a usable credential")
		assert.Equal(t, int32(1), tokenCalls.Load(), "the rejected refresh is not attempted again")
		assert.Nil(t, flow.Store().Current())
	})
}

func TestCommander_PlayInFlight(t *testing.T) {
	player := fakes.NewPlayer(active(kitchen))
	player.PlayStarted = make(chan struct{}, 4)
	player.PlayGate = make(chan struct{})
	h := newHarness(player, shared.DeviceConfig{})

	done := make(chan error, 1)
	go func() { done <- h.cmd.Play(context.Background(), "s1", track) }()

	<-player.PlayStarted
	assert.True(t, h.cmd.Busy("s1"))

	err := h.cmd.Play(context.Background(), "s1", track)
	require.ErrorIs(t, err, shared.ErrCommandInFlight)

	close(player.PlayGate)
	require.NoError(t, <-done)

	assert.Equal(t, 1, player.Count("Play"))
	assert.False(t, h.cmd.Busy("s1"))
}

func TestCommander_PauseResume(t *testing.T) {
	ctx := context.Background()

	t.Run("pause targets the resolved device", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})
		require.NoError(t, h.cmd.Play(ctx, "s1", track))
		require.NoError(t, h.cmd.Pause(ctx))

		pauses := h.player.Calls("Pause")
		require.Len(t, pauses, 1)
		assert.Equal(t, kitchen.ID, pauses[0].DeviceID)

		_, playing := h.player.Playing()
		assert.False(t, playing)
	})

	t.Run("pause without a resolved device does not transfer", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(kitchen), shared.DeviceConfig{})
		require.NoError(t, h.cmd.Pause(ctx))

		assert.Empty(t, h.player.Calls("Pause")[0].DeviceID)
		assert.Zero(t, h.player.Count("Devices"))
	})

	t.Run("resume activates a device", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(kitchen), shared.DeviceConfig{})
		require.NoError(t, h.cmd.Resume(ctx))

		assert.Equal(t, 1, h.player.Count("TransferPlayback"))
		assert.Equal(t, kitchen.ID, h.player.Calls("Resume")[0].DeviceID)
	})

	t.Run("now playing", func(t *testing.T) {
		h := newHarness(fakes.NewPlayer(active(kitchen)), shared.DeviceConfig{})

		state, err := h.cmd.NowPlaying(ctx)
		require.NoError(t, err)
		assert.Nil(t, state)

		require.NoError(t, h.cmd.Play(ctx, "s1", track))
		state, err = h.cmd.NowPlaying(ctx)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, track, state.TrackURI())
		assert.True(t, state.IsPlaying)
	})
}
