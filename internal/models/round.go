package models

import (
	"fmt"
	"time"
)

// RoundState is the final (or current) state of a card session as recorded in history.
type RoundState string

const (
	RoundHidden   RoundState = "hidden"
	RoundPlaying  RoundState = "playing"
	RoundRevealed RoundState = "revealed"
	RoundFailed   RoundState = "failed"
)

// Round records one card session from scan to reveal.
type Round struct {
	id           string
	sequence     int
	sessionToken string
	trackURI     string
	requesterID  string
	state        RoundState
	errMessage   string
	startedAt    time.Time
	revealedAt   *time.Time
}

// NewRound creates a Hidden round for the card session identified by sessionToken.
func NewRound(sessionToken, trackURI, requesterID string) *Round {
	return &Round{
		sessionToken: sessionToken,
		trackURI:     trackURI,
		requesterID:  requesterID,
		state:        RoundHidden,
		startedAt:    time.Now().UTC(),
	}
}

func (r *Round) ID() string { return r.id }
func (r *Round) Sequence() int { return r.sequence }
func (r *Round) SessionToken() string { return r.sessionToken }
func (r *Round) TrackURI() string { return r.trackURI }
func (r *Round) RequesterID() string { return r.requesterID }
func (r *Round) State() RoundState { return r.state }
func (r *Round) ErrorMessage() string { return r.errMessage }
func (r *Round) StartedAt() time.Time { return r.startedAt }
func (r *Round) RevealedAt() *time.Time { return r.revealedAt }
func (r *Round) CreatedAt() time.Time { return r.startedAt }
func (r *Round) SetID(id string) { r.id = id }
func (r *Round) SetSequence(seq int) { r.sequence = seq }
func (r *Round) SetStartedAt(t time.Time) { r.startedAt = t }

// UpdatedAt returns the reveal time when set, else the start time.
func (r *Round) UpdatedAt() time.Time {
	if r.revealedAt != nil {
		return *r.revealedAt
	}
	return r.startedAt
}

// SetState records a state change; a failure message is kept only for [RoundFailed] and [RoundHidden].
func (r *Round) SetState(state RoundState, errMessage string) {
	r.state = state
	r.errMessage = errMessage
}

// MarkRevealed moves the round to [RoundRevealed] at t.
func (r *Round) MarkRevealed(t time.Time) {
	t = t.UTC()
	r.state = RoundRevealed
	r.revealedAt = &t
}

// SetRevealedAt restores the reveal time from storage.
func (r *Round) SetRevealedAt(t *time.Time) { r.revealedAt = t }

// Validate checks that the round can be stored.
func (r *Round) Validate() error {
	if r.sessionToken == "" {
		return fmt.Errorf("session token is required")
	}
	if r.trackURI == "" {
		return fmt.Errorf("track URI is required")
	}
	switch r.state {
	case RoundHidden, RoundPlaying, RoundRevealed, RoundFailed:
	default:
		return fmt.Errorf("invalid round state %q", r.state)
	}
	return nil
}
