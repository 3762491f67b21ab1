package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skywisej/qr-music-card-maker/internal/models"
)

// ProviderSpotify keys the Spotify credential row.
const ProviderSpotify = "spotify"

// CredentialRepository persists one [models.Credential] per provider.
//
// It satisfies auth.Persister.
type CredentialRepository struct {
	db       *sql.DB
	provider string
}

// NewCredentialRepository creates a [CredentialRepository] for provider.
func NewCredentialRepository(db *sql.DB, provider string) *CredentialRepository {
	if provider == "" {
		provider = ProviderSpotify
	}
	return &CredentialRepository{db: db, provider: provider}
}

// Load returns the stored credential, or nil when none is stored.
func (r *CredentialRepository) Load(ctx context.Context) (*models.Credential, error) {
	query := `
		SELECT access_token, refresh_token, token_type, scope, expires_at
		FROM credentials
		WHERE provider = ?
	`

	var cred models.Credential
	err := r.db.QueryRowContext(ctx, query, r.provider).Scan(
		&cred.AccessToken, &cred.RefreshToken, &cred.TokenType, &cred.Scope, &cred.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	return &cred, nil
}

// Save replaces the stored credential in a single transaction.
func (r *CredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO credentials (provider, access_token, refresh_token, token_type, scope, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		r.provider, cred.AccessToken, cred.RefreshToken, cred.TokenType, cred.Scope,
		cred.ExpiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential: %w", err)
	}
	return nil
}

// Clear deletes the stored credential. Clearing an empty store is not an error.
func (r *CredentialRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM credentials WHERE provider = ?", r.provider); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}
