package cards

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// State is the position of a card session.
type State int

const (
	Hidden State = iota
	Playing
	Revealed
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Playing:
		return "playing"
	case Revealed:
		return "revealed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is what a tap asks for in the current state.
type Action int

const (
	ActionPlay Action = iota
	ActionReveal
	ActionScanNext
)

func (a Action) String() string {
	switch a {
	case ActionPlay:
		return "play"
	case ActionReveal:
		return "reveal"
	default:
		return "scan next"
	}
}

// Session is the state of one loaded card: Hidden, then Playing, then Revealed.
//
// A session is owned by a single event loop and is not safe for concurrent use.
type Session struct {
	token     string
	card      *Card
	state     State
	busy      bool
	err       error
	startedAt time.Time
}

// NewSession starts a Hidden session for card with a fresh token.
func NewSession(card *Card) *Session {
	return &Session{
		token:     uuid.NewString(),
		card:      card,
		state:     Hidden,
		startedAt: time.Now(),
	}
}

func (s *Session) Token() string { return s.token }

func (s *Session) Card() *Card { return s.card }

func (s *Session) State() State { return s.state }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Busy reports whether a play command is outstanding.
func (s *Session) Busy() bool { return s.busy }

// Err returns the last failure. It is cleared by the next play attempt.
func (s *Session) Err() error { return s.err }

// Done reports whether the session is over.
func (s *Session) Done() bool { return s.state == Revealed }

// Tap returns the action a tap requests in the current state.
func (s *Session) Tap() Action {
	switch s.state {
	case Hidden:
		return ActionPlay
	case Playing:
		return ActionReveal
	default:
		return ActionScanNext
	}
}

// BeginPlay marks a play command as outstanding.
//
// It fails with [shared.ErrCommandInFlight] while one already is, so a double tap never queues a second command.
func (s *Session) BeginPlay() error {
	if s.state != Hidden {
		return fmt.Errorf("%w: play from %s", shared.ErrInvalidTransition, s.state)
	}
	if s.busy {
		return shared.ErrCommandInFlight
	}
	s.busy = true
	s.err = nil
	return nil
}

// PlayConfirmed moves a session with an outstanding play to Playing.
func (s *Session) PlayConfirmed() error {
	if s.state != Hidden || !s.busy {
		return fmt.Errorf("%w: confirm from %s", shared.ErrInvalidTransition, s.state)
	}
	s.busy = false
	s.state = Playing
	return nil
}

// PlayFailed records err and leaves the session Hidden so the player can tap again.
func (s *Session) PlayFailed(err error) {
	s.busy = false
	s.err = err
}

// Reveal ends a Playing session. pauseErr is the outcome of the pause issued with the tap; it is recorded but
// never blocks the reveal.
func (s *Session) Reveal(pauseErr error) error {
	if s.state != Playing {
		return fmt.Errorf("%w: reveal from %s", shared.ErrInvalidTransition, s.state)
	}
	s.state = Revealed
	s.err = pauseErr
	return nil
}

// Metadata returns the card's metadata once the session is Revealed.
func (s *Session) Metadata() (Metadata, bool) {
	if s.state != Revealed || s.card == nil {
		return Metadata{}, false
	}
	return s.card.meta, true
}
