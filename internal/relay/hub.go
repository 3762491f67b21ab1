package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// subscriberBuffer is how many requests a slow subscriber may lag before it misses messages.
const subscriberBuffer = 16

// Publisher sends play requests to the host.
type Publisher interface {
	Publish(ctx context.Context, req models.RelayRequest) error
}

// Subscriber delivers play requests to the host until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, handle func(models.RelayRequest)) error
}

// Hub fans requests out to every subscriber of a named channel. Delivery is best effort.
type Hub struct {
	logger *log.Logger

	mu       sync.Mutex
	channels map[string]map[chan models.RelayRequest]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:   shared.WithLogger(logger, "component", "relay"),
		channels: make(map[string]map[chan models.RelayRequest]struct{}),
	}
}

// Publish delivers req to the current subscribers of channel and reports how many received it.
//
// A subscriber whose buffer is full misses the request.
func (h *Hub) Publish(channel string, req models.RelayRequest) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for sub := range h.channels[channel] {
		select {
		case sub <- req:
			delivered++
		default:
			h.logger.Warn("subscriber lagging, request dropped", "channel", channel, "id", req.ID)
		}
	}
	return delivered
}

// Subscribe registers a subscriber on channel. The returned cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(channel string) (<-chan models.RelayRequest, func()) {
	sub := make(chan models.RelayRequest, subscriberBuffer)

	h.mu.Lock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[chan models.RelayRequest]struct{})
	}
	h.channels[channel][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.channels[channel], sub)
			if len(h.channels[channel]) == 0 {
				delete(h.channels, channel)
			}
			h.mu.Unlock()
			close(sub)
		})
	}
	return sub, cancel
}

// Subscribers returns the number of subscribers on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// Channel binds the hub to one channel name for in-process publishers and subscribers.
func (h *Hub) Channel(name string) *Local {
	return &Local{hub: h, name: name}
}

// Local is an in-process [Publisher] and [Subscriber] on one hub channel.
type Local struct {
	hub  *Hub
	name string
}

func (l *Local) Publish(ctx context.Context, req models.RelayRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	l.hub.Publish(l.name, req)
	return nil
}

func (l *Local) Subscribe(ctx context.Context, handle func(models.RelayRequest)) error {
	sub, cancel := l.hub.Subscribe(l.name)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-sub:
			handle(req)
		}
	}
}

var (
	_ Publisher  = (*Local)(nil)
	_ Subscriber = (*Local)(nil)
)
