package controller

import (
	"context"
	"fmt"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// relaySession prefixes the commander session key of relayed plays. The host runs one at a time, and each
// request is its own session so the device is re-resolved per relayed card.
const relaySession = "relay:"

// onRelay admits a relayed request. Redelivered ids are dropped; while one request runs, the newest waiting
// request replaces any older one.
func (c *Controller) onRelay(ctx context.Context, req models.RelayRequest) {
	if c.mode != ModeHost {
		c.logger.Warn("relay request ignored outside host mode", "id", req.ID)
		return
	}
	if err := req.Validate(); err != nil {
		c.logger.Warn("invalid relay request", "id", req.ID, "error", err)
		return
	}

	if req.ID != "" && !c.seen.Add(req.ID) {
		c.logger.Debug("duplicate relay request dropped", "id", req.ID, "requester", req.RequesterID)
		return
	}

	if c.hostBusy {
		if c.hostPending != nil {
			c.logger.Info("pending relay request superseded", "id", c.hostPending.ID, "by", req.ID)
		}
		c.hostPending = &req
		return
	}
	c.execute(ctx, req)
}

func (c *Controller) execute(ctx context.Context, req models.RelayRequest) {
	c.hostBusy = true
	c.logger.Info("executing relay request", "id", req.ID, "action", req.Action, "requester", req.RequesterID, "track", req.TrackURI)

	c.spawn(func() event {
		if req.Action == models.ActionPause {
			return hostResult{req: req, err: c.player.Pause(ctx)}
		}

		// A play of the track already playing is a no-op, whatever its id.
		state, err := c.player.NowPlaying(ctx)
		switch {
		case err != nil:
			c.logger.Debug("now playing unavailable, playing anyway", "error", err)
		case state != nil && state.IsPlaying && state.TrackURI() == req.TrackURI:
			return hostResult{req: req, skipped: true}
		}

		return hostResult{req: req, err: c.player.Play(ctx, relaySession+req.ID, req.TrackURI)}
	})
}

func (c *Controller) onHostResult(ctx context.Context, ev hostResult) {
	c.hostBusy = false
	req := ev.req

	u := Update{Kind: UpdateRelay, Session: req.ID}
	switch {
	case ev.err != nil:
		c.logger.Warn("relay request failed", "id", req.ID, "requester", req.RequesterID, "error", ev.err)
		u.Message, u.Err = shared.UserMessage(ev.err), ev.err
	case ev.skipped:
		c.logger.Info("relay request already playing", "id", req.ID, "track", req.TrackURI)
		u.Message = "Already playing that card."
	case req.Action == models.ActionPause:
		u.Message = fmt.Sprintf("Paused for %s.", requester(req))
	default:
		u.Message = fmt.Sprintf("Playing a card for %s.", requester(req))
	}

	if req.Action == models.ActionPlay && !ev.skipped {
		c.recordRelayRound(req, ev.err)
	}
	c.emit(ctx, u)

	if next := c.hostPending; next != nil {
		c.hostPending = nil
		c.execute(ctx, *next)
	}
}

func (c *Controller) recordRelayRound(req models.RelayRequest, err error) {
	if c.rounds == nil {
		return
	}

	token := req.ID
	if token == "" {
		token = shared.GenerateID()
	}
	round := models.NewRound(token, req.TrackURI, req.RequesterID)
	if err != nil {
		round.SetState(models.RoundFailed, shared.UserMessage(err))
	} else {
		round.SetState(models.RoundPlaying, "")
	}

	if err := c.rounds.Create(round); err != nil {
		c.logger.Warn("failed to record relay round", "id", req.ID, "error", err)
	}
}

func requester(req models.RelayRequest) string {
	if req.RequesterID == "" {
		return "a guest"
	}
	return req.RequesterID
}

// recent remembers the last n ids in insertion order.
type recent struct {
	ids  []string
	set  map[string]struct{}
	next int
}

func newRecent(n int) *recent {
	return &recent{ids: make([]string, 0, n), set: make(map[string]struct{}, n)}
}

// Add records id and reports whether it was new.
func (r *recent) Add(id string) bool {
	if _, ok := r.set[id]; ok {
		return false
	}

	if len(r.ids) < cap(r.ids) {
		r.ids = append(r.ids, id)
	} else {
		delete(r.set, r.ids[r.next])
		r.ids[r.next] = id
		r.next = (r.next + 1) % len(r.ids)
	}
	r.set[id] = struct{}{}
	return true
}
