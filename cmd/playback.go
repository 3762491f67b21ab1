package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/scanner"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// Devices lists the account's playback devices, optionally activating the configured one first.
func (r *Runner) Devices(ctx context.Context, cmd *cli.Command) error {
	commander, err := r.playbackCommander(ctx)
	if err != nil {
		return err
	}

	cred, err := r.flow.Credential(ctx)
	if err != nil {
		return requireLogin(err)
	}

	var active models.DeviceHandle
	if cmd.Bool("ensure") {
		if active, err = commander.Devices().EnsureActiveDevice(ctx, cred); err != nil {
			return err
		}
	}

	devices, err := r.spotifyService().Devices(ctx, cred)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(devices, true)
	}

	if len(devices) == 0 {
		return r.writePlain("No devices. Open your speaker or a Spotify app.\n")
	}

	target := r.config.Device
	r.writePlainHeader(fmt.Sprintf("Devices (%d)", len(devices)))
	for _, d := range devices {
		marks := ""
		if d.IsActive || (active.ID != "" && d.ID == active.ID) {
			marks += " ▶ active"
		}
		if d.Matches(target.ID, target.Name) {
			marks += " ★ configured"
		}
		if d.IsRestricted {
			marks += " (restricted)"
		}
		r.writePlain("%-24s %-12s %s%s\n", d.Name, d.Type, d.ID, marks)
	}
	return nil
}

// Play loads a card and plays it once without revealing it.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	payload := cmd.StringArg("payload")
	if payload == "" {
		return fmt.Errorf("%w: payload", shared.ErrMissingArgument)
	}

	ref, err := scanner.ResolvePayload(payload, r.config.Scanner.BaseURL)
	if err != nil {
		return err
	}

	commander, err := r.playbackCommander(ctx)
	if err != nil {
		return err
	}

	card, err := r.cardLoader(r.flow).Load(ctx, ref)
	if err != nil {
		return err
	}

	session := cards.NewSession(card)
	round := models.NewRound(session.Token(), card.TrackURI(), "")
	rounds, err := r.rounds()
	if err != nil {
		return err
	}
	if err := rounds.Create(round); err != nil {
		r.logger.Warn("failed to record round", "error", err)
	}

	if err := session.BeginPlay(); err != nil {
		return err
	}

	if err := commander.Play(ctx, session.Token(), card.TrackURI()); err != nil {
		session.PlayFailed(err)
		round.SetState(models.RoundFailed, shared.UserMessage(err))
		r.updateRound(rounds, round)
		return requireLogin(err)
	}

	if err := session.PlayConfirmed(); err != nil {
		return err
	}
	round.SetState(models.RoundPlaying, "")
	r.updateRound(rounds, round)

	r.writePlain("▶ Playing card #%d\n", round.Sequence())
	return r.writePlain("Run 'qrdeck pause' to stop. The title stays hidden until revealed.\n")
}

type roundUpdater interface {
	Update(round *models.Round) error
}

func (r *Runner) updateRound(rounds roundUpdater, round *models.Round) {
	if round.ID() == "" {
		return
	}
	if err := rounds.Update(round); err != nil {
		r.logger.Warn("failed to update round", "round", round.ID(), "error", err)
	}
}

// Pause pauses the configured device.
func (r *Runner) Pause(ctx context.Context, cmd *cli.Command) error {
	commander, err := r.playbackCommander(ctx)
	if err != nil {
		return err
	}
	if err := commander.Pause(ctx); err != nil {
		return requireLogin(err)
	}
	return r.writePlain("⏸ Paused\n")
}

// Resume resumes the configured device.
func (r *Runner) Resume(ctx context.Context, cmd *cli.Command) error {
	commander, err := r.playbackCommander(ctx)
	if err != nil {
		return err
	}
	if err := commander.Resume(ctx); err != nil {
		return requireLogin(err)
	}
	return r.writePlain("▶ Resumed\n")
}
