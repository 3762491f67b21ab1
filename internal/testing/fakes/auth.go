package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/services"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// Credentials hands out numbered access tokens and counts refreshes.
type Credentials struct {
	mu         sync.Mutex
	current    *models.Credential
	refreshes  int
	refreshErr []error
	generation int
}

// NewCredentials starts with a valid token "token-0".
func NewCredentials() *Credentials {
	return &Credentials{current: &models.Credential{AccessToken: "token-0", RefreshToken: "refresh", ExpiresAt: time.Now().Add(time.Hour)}}
}

// FailRefresh queues errors returned by the next refreshes.
func (c *Credentials) FailRefresh(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshErr = append(c.refreshErr, errs...)
}

// Logout drops the credential.
func (c *Credentials) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}

// Refreshes returns the number of refresh attempts.
func (c *Credentials) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

func (c *Credentials) Credential(ctx context.Context) (*models.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, shared.ErrNotAuthenticated
	}
	cp := *c.current
	return &cp, nil
}

func (c *Credentials) Refresh(ctx context.Context) (*models.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshes++
	if len(c.refreshErr) > 0 {
		err := c.refreshErr[0]
		c.refreshErr = c.refreshErr[1:]
		return nil, err
	}
	if c.current == nil {
		return nil, shared.ErrNotAuthenticated
	}

	c.generation++
	c.current = &models.Credential{
		AccessToken:  fmt.Sprintf("token-%d", c.generation),
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	cp := *c.current
	return &cp, nil
}

// Catalog serves track metadata from a map keyed by track id.
type Catalog struct {
	Tracks map[string]*services.SpotifyTrack
	Err    error
}

func (c *Catalog) Track(ctx context.Context, cred *models.Credential, trackID string) (*services.SpotifyTrack, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if t, ok := c.Tracks[trackID]; ok {
		return t, nil
	}
	return nil, &services.APIError{StatusCode: 404, Method: "GET", Endpoint: "/tracks/" + trackID}
}

var _ services.Catalog = (*Catalog)(nil)
