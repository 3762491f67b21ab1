package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/skywisej/qr-music-card-maker/internal/models"
)

// Persister keeps the credential across process restarts.
//
// Load returns (nil, nil) when nothing is stored.
type Persister interface {
	Load(ctx context.Context) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	Clear(ctx context.Context) error
}

// Store is the process-wide holder of the current credential.
//
// Callers receive copies; the held credential is only replaced through [Store.Commit] and [Store.Clear].
type Store struct {
	mu        sync.RWMutex
	current   *models.Credential
	persister Persister
	logger    *log.Logger
}

// NewStore creates an empty store backed by p. A nil p keeps the credential in memory only.
func NewStore(p Persister, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{persister: p, logger: logger}
}

// Restore loads the persisted credential, if any, into memory.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	cred, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore credential: %w", err)
	}

	s.mu.Lock()
	s.current = cred
	s.mu.Unlock()

	if cred != nil {
		s.logger.Debug("credential restored", "expires_at", cred.ExpiresAt)
	}
	return nil
}

// Current returns a copy of the held credential, or nil.
func (s *Store) Current() *models.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// Commit persists cred and then makes it current.
//
// If persisting fails the previous credential stays in place.
func (s *Store) Commit(ctx context.Context, cred *models.Credential) error {
	if cred == nil || cred.AccessToken == "" {
		return fmt.Errorf("refusing to commit an empty credential")
	}

	c := *cred

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, &c); err != nil {
			return fmt.Errorf("failed to persist credential: %w", err)
		}
	}

	s.current = &c
	return nil
}

// Clear drops the credential from memory and storage.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear credential: %w", err)
		}
	}
	return nil
}
