package controller

import (
	"fmt"

	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/models"
)

// Mode selects how taps reach the playback device.
type Mode int

const (
	// ModeDirect plays through this process's own commander.
	ModeDirect Mode = iota
	// ModeRelay publishes play and pause requests for a host to execute.
	ModeRelay
	// ModeHost executes relayed requests and also plays locally scanned cards.
	ModeHost
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeRelay:
		return "relay"
	case ModeHost:
		return "host"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// UpdateKind classifies an [Update].
type UpdateKind int

const (
	// UpdateCard reports a newly loaded card in Hidden.
	UpdateCard UpdateKind = iota
	// UpdateState reports a card session transition or a change of its busy flag.
	UpdateState
	// UpdateError reports a failure the player should see.
	UpdateError
	// UpdateReady reports that the session ended and the next card can be scanned.
	UpdateReady
	// UpdateRelay reports the outcome of a relayed request on the host.
	UpdateRelay
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateCard:
		return "card"
	case UpdateState:
		return "state"
	case UpdateError:
		return "error"
	case UpdateReady:
		return "ready"
	case UpdateRelay:
		return "relay"
	default:
		return fmt.Sprintf("update(%d)", int(k))
	}
}

// Update is sent to the UI layer after each handled event.
//
// Metadata is only set once the session is Revealed. Message is always safe to show a player.
type Update struct {
	Kind     UpdateKind
	Session  string
	State    cards.State
	Busy     bool
	Message  string
	Metadata *cards.Metadata
	Err      error
}

// event is anything the loop dispatches. Results of background work are events too.
type event interface{ isEvent() }

type scanEvent struct{ ref string }

type tapEvent struct{}

type relayEvent struct{ req models.RelayRequest }

type cardLoaded struct {
	seq  int
	ref  string
	card *cards.Card
	err  error
}

type playResult struct {
	token string
	err   error
}

type pauseResult struct {
	token string
	err   error
}

type hostResult struct {
	req     models.RelayRequest
	skipped bool
	err     error
}

func (scanEvent) isEvent()   {}
func (tapEvent) isEvent()    {}
func (relayEvent) isEvent()  {}
func (cardLoaded) isEvent()  {}
func (playResult) isEvent()  {}
func (pauseResult) isEvent() {}
func (hostResult) isEvent()  {}
