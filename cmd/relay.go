package main

import (
	"context"
	"fmt"
	"net"

	"github.com/urfave/cli/v3"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/relay"
	"github.com/skywisej/qr-music-card-maker/internal/scanner"
	"github.com/skywisej/qr-music-card-maker/internal/server"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// Per-address cap on all hub requests, subscriptions and reconnects included.
const (
	connectionRate  = 20
	connectionBurst = 40
)

// RelayServe runs the relay hub until interrupted.
func (r *Runner) RelayServe(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return r.serveRelay(ctx, ln)
}

func (r *Runner) serveRelay(ctx context.Context, ln net.Listener) error {
	hub := relay.NewHub(r.logger)

	// publish_rate = 0 turns the per-requester limit off.
	var limiter *server.RateLimiter
	if r.config.Relay.PublishRate > 0 {
		limiter = server.NewRateLimiter(r.config.Relay.PublishRate, r.config.Relay.PublishBurst)
	}

	router := server.NewBasicRouter()
	router.Use(
		server.Logging(r.logger),
		server.RateLimit(server.NewRateLimiter(connectionRate, connectionBurst), server.ClientIP),
	)
	relay.NewHandler(hub, limiter).Register(router)

	r.logger.Info("relay hub ready", "addr", ln.Addr().String())
	return server.Serve(ctx, ln, router, r.logger)
}

// RelayPublish asks the host to play a card, or to pause with --pause.
//
// Card pages are read here without a Spotify login; only the track URI travels over the channel.
func (r *Runner) RelayPublish(ctx context.Context, cmd *cli.Command) error {
	client, err := r.relayClient()
	if err != nil {
		return err
	}

	action := models.ActionPlay
	trackURI := ""

	if cmd.Bool("pause") {
		action = models.ActionPause
	} else {
		payload := cmd.StringArg("payload")
		if payload == "" {
			return fmt.Errorf("%w: payload", shared.ErrMissingArgument)
		}

		ref, err := scanner.ResolvePayload(payload, r.config.Scanner.BaseURL)
		if err != nil {
			return err
		}
		card, err := r.cardLoader(nil).Load(ctx, ref)
		if err != nil {
			return err
		}
		trackURI = card.TrackURI()
	}

	requester := r.config.Relay.RequesterID
	if requester == "" {
		requester = shared.GenerateID()
	}

	req := models.NewRelayRequest(trackURI, requester, action, r.now())
	if err := client.Publish(ctx, req); err != nil {
		return err
	}

	r.logger.Debug("published", "id", req.ID, "action", action)
	return r.writePlain("✓ Sent %s request %s to channel %q\n", action, req.ID, r.config.Relay.Channel)
}
