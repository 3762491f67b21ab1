package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// RoundRepository implements [models.Repository] for [models.Round] persistence.
type RoundRepository struct {
	db *sql.DB
}

// NewRoundRepository creates a new [RoundRepository] with the given database connection
func NewRoundRepository(db *sql.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

const roundColumns = `id, sequence, session_token, track_uri, requester_id, state, error, started_at, revealed_at`

// Create inserts a new round with generated ID and sequence
func (r *RoundRepository) Create(round *models.Round) error {
	if err := round.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "rounds")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	round.SetID(shared.GenerateID())
	round.SetSequence(sequence)

	query := `INSERT INTO rounds (` + roundColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query,
		round.ID(), sequence, round.SessionToken(), round.TrackURI(), round.RequesterID(),
		string(round.State()), round.ErrorMessage(), round.StartedAt(), nullTime(round.RevealedAt()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}

	return nil
}

// Get retrieves a round by ID
func (r *RoundRepository) Get(id string) (*models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE id = ?`

	round, err := scanRound(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("round not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query round: %w", err)
	}
	return round, nil
}

// GetBySession retrieves the round recorded for a card session token
func (r *RoundRepository) GetBySession(sessionToken string) (*models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE session_token = ?`

	round, err := scanRound(r.db.QueryRow(query, sessionToken))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("round not found for session: %s", sessionToken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query round: %w", err)
	}
	return round, nil
}

// Update stores a round's state, error and reveal time
func (r *RoundRepository) Update(round *models.Round) error {
	if err := round.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		UPDATE rounds
		SET state = ?, error = ?, revealed_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query, string(round.State()), round.ErrorMessage(), nullTime(round.RevealedAt()), round.ID())
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("round not found: %s", round.ID())
	}

	return nil
}

// Delete removes a round by ID
func (r *RoundRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM rounds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete round: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("round not found: %s", id)
	}

	return nil
}

// List retrieves rounds matching the given criteria in sequence order.
//
// Supported criteria: "state" (string), "requester_id" (string), "since" (time.Time), "limit" (int).
func (r *RoundRepository) List(criteria map[string]any) ([]*models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE 1 = 1`
	args := []any{}

	if state, ok := criteria["state"].(string); ok && state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}
	if requester, ok := criteria["requester_id"].(string); ok && requester != "" {
		query += " AND requester_id = ?"
		args = append(args, requester)
	}
	if since, ok := criteria["since"].(time.Time); ok && !since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY sequence ASC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*models.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return rounds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*models.Round, error) {
	var (
		id           string
		sequence     int
		sessionToken string
		trackURI     string
		requesterID  string
		state        string
		errMessage   string
		startedAt    time.Time
		revealedAt   sql.NullTime
	)

	err := row.Scan(&id, &sequence, &sessionToken, &trackURI, &requesterID, &state, &errMessage, &startedAt, &revealedAt)
	if err != nil {
		return nil, err
	}

	round := models.NewRound(sessionToken, trackURI, requesterID)
	round.SetID(id)
	round.SetSequence(sequence)
	round.SetState(models.RoundState(state), errMessage)
	round.SetStartedAt(startedAt)
	if revealedAt.Valid {
		t := revealedAt.Time
		round.SetRevealedAt(&t)
	}

	return round, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
