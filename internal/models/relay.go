package models

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RelayAction is the command a non-host device asks the host to run.
type RelayAction string

const (
	ActionPlay  RelayAction = "play"
	ActionPause RelayAction = "pause"
)

// RelayRequest is published by a non-host device and executed by the host's own commander.
//
// IDs are ULIDs so the host can drop redelivered copies.
type RelayRequest struct {
	ID          string      `json:"id"`
	TrackURI    string      `json:"track_uri"`
	RequesterID string      `json:"requester_id"`
	Action      RelayAction `json:"action"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewRelayRequest creates a request stamped with now and a fresh ULID.
func NewRelayRequest(trackURI, requesterID string, action RelayAction, now time.Time) RelayRequest {
	if action == "" {
		action = ActionPlay
	}
	return RelayRequest{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		TrackURI:    trackURI,
		RequesterID: requesterID,
		Action:      action,
		Timestamp:   now.UTC(),
	}
}

// Validate checks the fields the host depends on, defaulting Action to play.
func (r *RelayRequest) Validate() error {
	if r.Action == "" {
		r.Action = ActionPlay
	}

	switch r.Action {
	case ActionPlay:
		if r.TrackURI == "" {
			return fmt.Errorf("track_uri is required")
		}
	case ActionPause:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}

	if r.ID != "" {
		if _, err := ulid.ParseStrict(r.ID); err != nil {
			return fmt.Errorf("invalid id %q: %w", r.ID, err)
		}
	}
	return nil
}
