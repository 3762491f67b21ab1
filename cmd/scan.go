package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/controller"
	"github.com/skywisej/qr-music-card-maker/internal/relay"
	"github.com/skywisej/qr-music-card-maker/internal/scanner"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
	"github.com/skywisej/qr-music-card-maker/internal/ui"
)

const updateBuffer = 16

// Scan runs the game loop: frames from the camera directory or image files are scanned into cards, and taps
// (space in the TUI, an empty line in line mode) play, reveal and move on.
func (r *Runner) Scan(ctx context.Context, cmd *cli.Command) error {
	mode := controller.ModeDirect
	if cmd.Bool("relay") {
		mode = controller.ModeRelay
	}

	useTUI := r.isTerminal() && !cmd.Bool("plain")
	if useTUI {
		// Logs go to a file while the TUI owns the terminal.
		fileLogger, err := shared.NewFileLogger(r.config.Log.File)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		r.SetLogger(fileLogger)
	}

	source, err := r.frameSource(cmd)
	if err != nil {
		return err
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}

	var sc *scanner.Scanner
	if source != nil {
		decoder, err := scanner.NewDecoder(r.config.Scanner.Decoder)
		if err != nil {
			return err
		}
		r.logger.Info("scanning", "decoder", decoder.Name())
		sc = scanner.New(source, decoder, r.config.Scanner.BaseURL, r.logger)
	}

	raw := make(chan controller.Update, updateBuffer)
	updates := make(chan controller.Update, updateBuffer)
	ctrl, err := r.newController(ctx, mode, raw)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan error, 1)
	go func() { stopped <- ctrl.Run(ctx) }()
	go forwardUpdates(ctx, raw, updates, sc)

	if sc != nil {
		go r.scanLoop(ctx, sc, ctrl)
	}

	controls := &payloadControls{ctrl: ctrl, baseURL: r.config.Scanner.BaseURL}

	if useTUI {
		model := ui.NewModel(ctx, controls, updates, mode)
		if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("error running TUI: %w", err)
		}
	} else {
		r.writePlain("qrdeck %s mode. Type a card URL to scan it, press enter to tap, 'q' to quit.\n", mode)
		if err := r.lineMode(ctx, controls, updates, source != nil); err != nil {
			return err
		}
	}

	cancel()
	<-stopped
	return nil
}

// Host executes the requests other devices publish on the relay channel with this device's own commander.
func (r *Runner) Host(ctx context.Context, cmd *cli.Command) error {
	client, err := r.relayClient()
	if err != nil {
		return err
	}

	updates := make(chan controller.Update, updateBuffer)
	ctrl, err := r.newController(ctx, controller.ModeHost, updates)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan error, 1)
	go func() { stopped <- ctrl.Run(ctx) }()

	subscribed := make(chan error, 1)
	go func() { subscribed <- client.Subscribe(ctx, ctrl.Deliver) }()

	r.writePlain("Hosting channel %q on %s. Press Ctrl+C to stop.\n", r.config.Relay.Channel, r.config.Relay.URL)

	for {
		select {
		case <-ctx.Done():
			<-stopped
			return nil
		case err := <-subscribed:
			cancel()
			<-stopped
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case u := <-updates:
			r.printUpdate(u)
		}
	}
}

// newController wires a controller for mode. Relay mode publishes instead of playing and reads card pages
// without catalog lookups, so a guest device never needs a Spotify login.
func (r *Runner) newController(ctx context.Context, mode controller.Mode, updates chan<- controller.Update) (*controller.Controller, error) {
	opts := controller.Options{
		Mode:        mode,
		RequesterID: r.config.Relay.RequesterID,
		Updates:     updates,
		Logger:      r.logger,
		Now:         r.now,
	}

	rounds, err := r.rounds()
	if err != nil {
		return nil, err
	}
	opts.Rounds = rounds

	switch mode {
	case controller.ModeRelay:
		client, err := r.relayClient()
		if err != nil {
			return nil, err
		}
		opts.Publisher = client
		opts.Loader = r.cardLoader(nil)
	default:
		commander, err := r.playbackCommander(ctx)
		if err != nil {
			return nil, err
		}
		opts.Player = commander
		opts.Loader = r.cardLoader(r.flow)
	}

	return controller.New(opts)
}

func (r *Runner) relayClient() (*relay.Client, error) {
	return relay.NewClient(r.config.Relay.URL, r.config.Relay.Channel, relay.ClientOptions{
		HTTPClient: r.httpClient,
		Logger:     r.logger,
	})
}

// frameSource returns the image source named by --image or --dir, or nil when scans come from typed input only.
func (r *Runner) frameSource(cmd *cli.Command) (scanner.FrameSource, error) {
	if images := cmd.StringSlice("image"); len(images) > 0 {
		return scanner.NewFileSource(images...), nil
	}

	dir := cmd.String("dir")
	if dir == "" {
		dir = r.config.Scanner.WatchDir
	}
	if dir == "" {
		return nil, nil
	}

	src, err := scanner.NewDirSource(dir, r.logger)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// scanLoop feeds each scanned card to the controller until the source ends.
func (r *Runner) scanLoop(ctx context.Context, s *scanner.Scanner, ctrl *controller.Controller) {
	for {
		res, err := s.Scan(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Info("no more frames")
			} else if ctx.Err() == nil {
				r.logger.Error("scanner stopped", "error", err)
			}
			return
		}
		if err := ctrl.Scan(ctx, res.Ref); err != nil {
			return
		}
	}
}

// forwardUpdates passes controller updates on to the screen. When the controller asks for the next card the
// scanner forgets its last frame, so a card dealt again can be read from the same camera frame.
func forwardUpdates(ctx context.Context, in <-chan controller.Update, out chan<- controller.Update, sc *scanner.Scanner) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-in:
			if u.Kind == controller.UpdateReady && sc != nil {
				sc.Reset()
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}
}

// payloadControls resolves typed payloads the same way scanned ones are before they reach the controller.
type payloadControls struct {
	ctrl    *controller.Controller
	baseURL string
}

func (p *payloadControls) Tap(ctx context.Context) error {
	return p.ctrl.Tap(ctx)
}

func (p *payloadControls) Scan(ctx context.Context, payload string) error {
	ref, err := scanner.ResolvePayload(payload, p.baseURL)
	if err != nil {
		return err
	}
	return p.ctrl.Scan(ctx, ref)
}

// lineMode reads one command per line: a card payload scans, an empty line taps, "q" quits.
//
// Each line waits for the controller to settle before the next one is read, so piped input plays out in order.
// End of input stops the loop unless frames are still arriving from a scanner.
func (r *Runner) lineMode(ctx context.Context, controls ui.Controls, updates <-chan controller.Update, scanning bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.input)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	pending := false
	for {
		in := lines
		if pending {
			in = nil
		}

		select {
		case <-ctx.Done():
			return nil

		case u := <-updates:
			r.printUpdate(u)
			if settled(u) {
				pending = false
			}

		case line, ok := <-in:
			if !ok {
				if !scanning {
					return nil
				}
				lines = nil
				continue
			}

			line = strings.TrimSpace(line)
			var err error
			switch line {
			case "q", "quit", "exit":
				return nil
			case "":
				err = controls.Tap(ctx)
			default:
				err = controls.Scan(ctx, line)
			}

			if err != nil {
				if errors.Is(err, controller.ErrStopped) {
					return nil
				}
				r.logger.Debug("input rejected", "input", line, "error", err)
				r.writePlain("✗ %s\n", shared.UserMessage(err))
				continue
			}
			pending = true
		}
	}
}

// settled reports whether u ends the work started by a tap or scan.
func settled(u controller.Update) bool {
	switch u.Kind {
	case controller.UpdateState:
		return !u.Busy
	case controller.UpdateRelay:
		return false
	default:
		return true
	}
}

func (r *Runner) printUpdate(u controller.Update) {
	switch u.Kind {
	case controller.UpdateError:
		r.writePlain("✗ %s\n", u.Message)
	case controller.UpdateRelay:
		r.writePlain("⇄ %s\n", u.Message)
	default:
		if u.Kind == controller.UpdateState && u.State == cards.Revealed && u.Metadata != nil {
			m := u.Metadata
			r.writePlain("★ %s - %s (%s)\n", orUnknown(m.Title), orUnknown(m.Artist), orUnknown(m.Year))
		}
		if u.Message != "" {
			r.writePlain("• %s\n", u.Message)
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
