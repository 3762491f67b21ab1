package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/retry"
	"github.com/skywisej/qr-music-card-maker/internal/services"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

const (
	minReconnect = 500 * time.Millisecond
	maxReconnect = 30 * time.Second
)

// ClientOptions tunes a [Client]. Zero values pick defaults.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     *log.Logger
	Sleep      retry.Sleeper
}

// Client talks to a relay hub over HTTP.
type Client struct {
	api     *services.APIService
	channel string
	logger  *log.Logger
	sleep   retry.Sleeper
}

// NewClient creates a client for channel on the hub at baseURL.
func NewClient(baseURL, channel string, opts ClientOptions) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: relay.url is required", shared.ErrInvalidConfig)
	}
	if channel == "" {
		return nil, fmt.Errorf("%w: relay.channel is required", shared.ErrInvalidConfig)
	}
	if opts.HTTPClient == nil {
		// No overall timeout: subscriptions are long-lived.
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}

	return &Client{
		api:     services.NewAPIService(baseURL, opts.HTTPClient),
		channel: channel,
		logger:  shared.WithLogger(opts.Logger, "component", "relay", "channel", channel),
		sleep:   opts.Sleep,
	}, nil
}

func (c *Client) path(op string) string {
	return "/relay/" + url.PathEscape(c.channel) + "/" + op
}

// Publish sends req to the hub. Failures to reach the hub wrap [shared.ErrRelayClosed].
func (c *Client) Publish(ctx context.Context, req models.RelayRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.api.PostJSON(pctx, c.path("publish"), req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", shared.ErrRelayClosed, err)
	}

	switch {
	case resp.OK():
		c.logger.Debug("published", "id", req.ID, "action", req.Action)
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: hub rejected request: %s", shared.ErrInvalidArgument, strings.TrimSpace(string(resp.Body)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: publishing too fast", shared.ErrNetwork)
	default:
		return fmt.Errorf("%w: hub returned %d", shared.ErrRelayClosed, resp.StatusCode)
	}
}

// Subscribe streams requests from the hub to handle until ctx ends, reconnecting with backoff when the stream
// drops. Requests may arrive more than once across reconnects.
func (c *Client) Subscribe(ctx context.Context, handle func(models.RelayRequest)) error {
	wait := minReconnect

	for {
		connected, err := c.stream(ctx, handle)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if connected {
			wait = minReconnect
		}

		c.logger.Warn("relay stream lost, reconnecting", "error", err, "wait", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}

		wait *= 2
		if wait > maxReconnect {
			wait = maxReconnect
		}
	}
}

// stream reads one connection until it ends. connected reports whether the hub accepted the subscription.
func (c *Client) stream(ctx context.Context, handle func(models.RelayRequest)) (connected bool, err error) {
	resp, err := c.api.Stream(ctx, c.path("subscribe"), "text/event-stream")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	c.logger.Info("subscribed to relay")

	var event, data strings.Builder
	lines := bufio.NewScanner(resp.Body)
	for lines.Scan() {
		line := lines.Text()

		switch {
		case line == "":
			if data.Len() > 0 && (event.Len() == 0 || event.String() == eventName) {
				c.dispatch(data.String(), handle)
			}
			event.Reset()
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := lines.Err(); err != nil {
		return true, err
	}
	return true, errors.New("stream closed by hub")
}

func (c *Client) dispatch(data string, handle func(models.RelayRequest)) {
	var req models.RelayRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		c.logger.Warn("malformed relay message", "error", err)
		return
	}
	if err := req.Validate(); err != nil {
		c.logger.Warn("invalid relay message", "error", err)
		return
	}
	handle(req)
}

var (
	_ Publisher  = (*Client)(nil)
	_ Subscriber = (*Client)(nil)
)
