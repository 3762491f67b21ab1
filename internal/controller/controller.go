package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/relay"
	"github.com/skywisej/qr-music-card-maker/internal/services"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

const (
	eventBuffer   = 64
	defaultRecent = 256
)

// ErrStopped is returned when an event is submitted after [Controller.Run] has returned.
var ErrStopped = errors.New("controller stopped")

// Player is the playback surface the controller drives. [playback.Commander] satisfies it.
type Player interface {
	Play(ctx context.Context, session, trackURI string) error
	Pause(ctx context.Context) error
	NowPlaying(ctx context.Context) (*services.PlaybackState, error)
}

// Loader turns a scanned reference into a card. [cards.Loader] satisfies it.
type Loader interface {
	Load(ctx context.Context, ref string) (*cards.Card, error)
}

// RoundStore records card sessions. [repositories.RoundRepository] satisfies it.
type RoundStore interface {
	Create(round *models.Round) error
	Update(round *models.Round) error
}

// Options wires a [Controller]. Player is required in direct and host mode, Publisher in relay mode.
type Options struct {
	Mode        Mode
	Player      Player
	Loader      Loader
	Publisher   relay.Publisher
	Rounds      RoundStore
	RequesterID string
	Updates     chan<- Update
	Logger      *log.Logger

	// RecentRequests bounds how many relay request ids the host remembers for deduplication.
	RecentRequests int
	Now            func() time.Time
}

// Controller runs the card game on a single event loop.
//
// Scans, taps and relayed requests are submitted as events; network work runs in the background and reports
// back as events carrying the session token it was started for, so results for a discarded card are dropped.
// All session state is touched only by the loop goroutine.
type Controller struct {
	mode        Mode
	player      Player
	loader      Loader
	publisher   relay.Publisher
	rounds      RoundStore
	requesterID string
	updates     chan<- Update
	logger      *log.Logger
	now         func() time.Time

	events chan event
	done   chan struct{}

	// Loop-owned state.
	scanSeq       int
	session       *cards.Session
	round         *models.Round
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	seen        *recent
	hostBusy    bool
	hostPending *models.RelayRequest
}

// New validates opts and creates a controller. Call [Controller.Run] to start it.
func New(opts Options) (*Controller, error) {
	switch opts.Mode {
	case ModeDirect, ModeHost:
		if opts.Player == nil {
			return nil, fmt.Errorf("%w: %s mode needs a player", shared.ErrInvalidConfig, opts.Mode)
		}
	case ModeRelay:
		if opts.Publisher == nil {
			return nil, fmt.Errorf("%w: relay mode needs a publisher", shared.ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %d", shared.ErrInvalidConfig, int(opts.Mode))
	}

	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.RequesterID == "" {
		opts.RequesterID = uuid.NewString()
	}
	if opts.RecentRequests <= 0 {
		opts.RecentRequests = defaultRecent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		mode:        opts.Mode,
		player:      opts.Player,
		loader:      opts.Loader,
		publisher:   opts.Publisher,
		rounds:      opts.Rounds,
		requesterID: opts.RequesterID,
		updates:     opts.Updates,
		logger:      shared.WithLogger(opts.Logger, "component", "controller", "mode", opts.Mode),
		now:         opts.Now,
		events:      make(chan event, eventBuffer),
		done:        make(chan struct{}),
		seen:        newRecent(opts.RecentRequests),
	}, nil
}

// Mode returns the mode the controller runs in.
func (c *Controller) Mode() Mode { return c.mode }

// RequesterID identifies this device in relay requests and round history.
func (c *Controller) RequesterID() string { return c.requesterID }

// Run dispatches events until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.cancelSession()

	c.logger.Info("controller started", "requester", c.requesterID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// Scan submits a scanned card reference: a page URL or a track URI.
func (c *Controller) Scan(ctx context.Context, ref string) error {
	return c.submit(ctx, scanEvent{ref: ref})
}

// Tap submits a tap on the current card.
func (c *Controller) Tap(ctx context.Context) error {
	return c.submit(ctx, tapEvent{})
}

// Deliver submits a relayed request. It has the shape [relay.Subscriber] handlers expect and drops the request
// once the controller has stopped.
func (c *Controller) Deliver(req models.RelayRequest) {
	select {
	case c.events <- relayEvent{req: req}:
	case <-c.done:
	}
}

func (c *Controller) submit(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs fn off the loop and feeds its result back in.
func (c *Controller) spawn(fn func() event) {
	go func() {
		ev := fn()
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}()
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case scanEvent:
		c.onScan(ctx, ev)
	case cardLoaded:
		c.onCardLoaded(ctx, ev)
	case tapEvent:
		c.onTap(ctx)
	case playResult:
		c.onPlayResult(ctx, ev)
	case pauseResult:
		c.onPauseResult(ctx, ev)
	case relayEvent:
		c.onRelay(ctx, ev.req)
	case hostResult:
		c.onHostResult(ctx, ev)
	default:
		c.logger.Warn("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (c *Controller) onScan(ctx context.Context, ev scanEvent) {
	if c.loader == nil {
		c.emit(ctx, Update{Kind: UpdateError, Message: "Scanning is not available here.", Err: shared.ErrNotImplemented})
		return
	}

	c.scanSeq++
	seq := c.scanSeq
	c.logger.Debug("loading card", "ref", ev.ref, "seq", seq)

	c.spawn(func() event {
		card, err := c.loader.Load(ctx, ev.ref)
		return cardLoaded{seq: seq, ref: ev.ref, card: card, err: err}
	})
}

func (c *Controller) onCardLoaded(ctx context.Context, ev cardLoaded) {
	if ev.seq != c.scanSeq {
		c.logger.Debug("dropping superseded card load", "ref", ev.ref)
		return
	}
	if ev.err != nil {
		c.logger.Warn("card load failed", "ref", ev.ref, "error", ev.err)
		c.emit(ctx, c.errorUpdate(ev.err))
		return
	}

	c.startSession(ctx, ev.card)
	c.emit(ctx, c.stateUpdate(UpdateCard))
}

// startSession discards the current session, cancelling its outstanding work, and starts a Hidden one for card.
func (c *Controller) startSession(ctx context.Context, card *cards.Card) {
	c.cancelSession()

	s := cards.NewSession(card)
	c.sessionCtx, c.sessionCancel = context.WithCancel(ctx)
	c.session = s

	c.round = models.NewRound(s.Token(), card.TrackURI(), c.requesterID)
	if c.rounds != nil {
		if err := c.rounds.Create(c.round); err != nil {
			c.logger.Warn("failed to record round", "session", s.Token(), "error", err)
		}
	}

	c.logger.Info("card loaded", "session", s.Token(), "card", card)
}

func (c *Controller) cancelSession() {
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCtx, c.sessionCancel = nil, nil
	}
}

func (c *Controller) endSession(ctx context.Context) {
	token := c.session.Token()
	c.cancelSession()
	c.session = nil
	c.round = nil

	c.logger.Debug("session ended", "session", token)
	c.emit(ctx, Update{Kind: UpdateReady, Session: token, Message: "Scan the next card."})
}

func (c *Controller) onTap(ctx context.Context) {
	s := c.session
	if s == nil {
		c.emit(ctx, Update{Kind: UpdateError, Message: "Scan a card to start."})
		return
	}

	switch s.Tap() {
	case cards.ActionPlay:
		c.beginPlay(ctx, s)
	case cards.ActionReveal:
		c.reveal(ctx, s)
	case cards.ActionScanNext:
		c.endSession(ctx)
	}
}

func (c *Controller) beginPlay(ctx context.Context, s *cards.Session) {
	if err := s.BeginPlay(); err != nil {
		// A second tap while a play is outstanding is ignored, not queued.
		c.logger.Debug("tap ignored", "session", s.Token(), "reason", err)
		return
	}
	c.emit(ctx, c.stateUpdate(UpdateState))

	token, uri, sctx := s.Token(), s.Card().TrackURI(), c.sessionCtx

	c.spawn(func() event {
		var err error
		if c.mode == ModeRelay {
			err = c.publish(sctx, uri, models.ActionPlay)
		} else {
			err = c.player.Play(sctx, token, uri)
		}
		return playResult{token: token, err: err}
	})
}

func (c *Controller) onPlayResult(ctx context.Context, ev playResult) {
	s := c.session
	if s == nil || s.Token() != ev.token {
		c.logger.Debug("dropping stale play result", "session", ev.token, "error", ev.err)
		return
	}

	if ev.err != nil {
		s.PlayFailed(ev.err)
		c.saveRound(models.RoundHidden, shared.UserMessage(ev.err))
		c.logger.Warn("play failed", "session", ev.token, "error", ev.err)

		u := c.errorUpdate(ev.err)
		u.Session, u.State = s.Token(), s.State()
		c.emit(ctx, u)
		return
	}

	if err := s.PlayConfirmed(); err != nil {
		c.logger.Error("unexpected play confirmation", "session", ev.token, "error", err)
		return
	}
	c.saveRound(models.RoundPlaying, "")
	c.emit(ctx, c.stateUpdate(UpdateState))
}

// reveal ends playback and shows the card. The pause runs in the background and never holds up the reveal.
func (c *Controller) reveal(ctx context.Context, s *cards.Session) {
	if err := s.Reveal(nil); err != nil {
		c.logger.Error("reveal rejected", "session", s.Token(), "error", err)
		return
	}

	if c.round != nil {
		c.round.MarkRevealed(c.now())
		c.storeRound()
	}
	c.emit(ctx, c.stateUpdate(UpdateState))

	token, uri := s.Token(), s.Card().TrackURI()
	c.spawn(func() event {
		var err error
		if c.mode == ModeRelay {
			err = c.publish(ctx, uri, models.ActionPause)
		} else {
			err = c.player.Pause(ctx)
		}
		return pauseResult{token: token, err: err}
	})
}

func (c *Controller) onPauseResult(ctx context.Context, ev pauseResult) {
	if ev.err == nil {
		return
	}
	c.logger.Warn("pause failed", "session", ev.token, "error", ev.err)

	s := c.session
	if s == nil || s.Token() != ev.token {
		return
	}
	if c.round != nil {
		c.round.SetState(models.RoundRevealed, "pause failed: "+shared.UserMessage(ev.err))
		c.storeRound()
	}

	u := c.errorUpdate(ev.err)
	u.Session, u.State = s.Token(), s.State()
	c.emit(ctx, u)
}

func (c *Controller) publish(ctx context.Context, uri string, action models.RelayAction) error {
	req := models.NewRelayRequest(uri, c.requesterID, action, c.now())
	if err := c.publisher.Publish(ctx, req); err != nil {
		return err
	}
	c.logger.Debug("published relay request", "id", req.ID, "action", action, "track", uri)
	return nil
}

func (c *Controller) saveRound(state models.RoundState, msg string) {
	if c.round == nil {
		return
	}
	c.round.SetState(state, msg)
	c.storeRound()
}

func (c *Controller) storeRound() {
	if c.rounds == nil || c.round == nil {
		return
	}
	if err := c.rounds.Update(c.round); err != nil {
		c.logger.Warn("failed to update round", "session", c.round.SessionToken(), "error", err)
	}
}

func (c *Controller) stateUpdate(kind UpdateKind) Update {
	s := c.session
	u := Update{Kind: kind, Session: s.Token(), State: s.State(), Busy: s.Busy()}

	switch {
	case kind == UpdateCard:
		u.Message = "Card ready. Tap to play."
	case s.Busy():
		u.Message = "Starting playback..."
	case s.State() == cards.Playing:
		u.Message = "Playing. Tap to reveal."
	case s.State() == cards.Revealed:
		if meta, ok := s.Metadata(); ok {
			u.Metadata = &meta
		}
		u.Message = "Tap to scan the next card."
	}
	return u
}

func (c *Controller) errorUpdate(err error) Update {
	return Update{Kind: UpdateError, Message: shared.UserMessage(err), Err: err}
}

func (c *Controller) emit(ctx context.Context, u Update) {
	if c.updates == nil {
		return
	}
	select {
	case c.updates <- u:
	case <-ctx.Done():
	}
}
