// Package formatter exports round history to various formats (CSV, Markdown, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or its common alias ("md", "txt").
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text", "txt":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, name)
	}
}

// Record is the exported view of a [models.Round].
type Record struct {
	Sequence   int        `json:"sequence"`
	ID         string     `json:"id"`
	Session    string     `json:"session"`
	TrackURI   string     `json:"track_uri"`
	Requester  string     `json:"requester_id,omitempty"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
}

// NewRecord flattens round for export.
func NewRecord(round *models.Round) Record {
	return Record{
		Sequence:   round.Sequence(),
		ID:         round.ID(),
		Session:    round.SessionToken(),
		TrackURI:   round.TrackURI(),
		Requester:  round.RequesterID(),
		State:      string(round.State()),
		Error:      round.ErrorMessage(),
		StartedAt:  round.StartedAt(),
		RevealedAt: round.RevealedAt(),
	}
}

// RoundsToCSV converts rounds to CSV with columns: Sequence, Track, Requester, State, Started, Revealed, Guess Time, Error
func RoundsToCSV(rounds []*models.Round) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Sequence", "Track", "Requester", "State", "Started", "Revealed", "Guess Time", "Error"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, round := range rounds {
		record := []string{
			strconv.Itoa(round.Sequence()),
			round.TrackURI(),
			round.RequesterID(),
			string(round.State()),
			round.StartedAt().UTC().Format(time.RFC3339),
			formatTime(round.RevealedAt()),
			GuessTime(round),
			round.ErrorMessage(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// RoundsToMarkdown renders rounds as a Markdown table under a summary.
func RoundsToMarkdown(rounds []*models.Round, title string) ([]byte, error) {
	var buf bytes.Buffer

	if title == "" {
		title = "Game history"
	}
	fmt.Fprintf(&buf, "# %s\n\n", title)

	s := Summarize(rounds)
	fmt.Fprintf(&buf, "**Rounds**: %d\n", s.Total)
	fmt.Fprintf(&buf, "**Revealed**: %d\n", s.Revealed)
	if s.Failed > 0 {
		fmt.Fprintf(&buf, "**Failed**: %d\n", s.Failed)
	}
	buf.WriteString("\n")

	if len(rounds) == 0 {
		buf.WriteString("_No rounds yet._\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("| # | Track | Requester | State | Started | Guess time |\n")
	buf.WriteString("|---|-------|-----------|-------|---------|------------|\n")
	for _, round := range rounds {
		fmt.Fprintf(&buf, "| %d | `%s` | %s | %s | %s | %s |\n",
			round.Sequence(),
			round.TrackURI(),
			orDash(round.RequesterID()),
			round.State(),
			round.StartedAt().UTC().Format("2006-01-02 15:04"),
			orDash(GuessTime(round)),
		)
	}

	return buf.Bytes(), nil
}

// RoundsToText renders rounds as plain text, one per line.
func RoundsToText(rounds []*models.Round) ([]byte, error) {
	var buf bytes.Buffer

	s := Summarize(rounds)
	fmt.Fprintf(&buf, "Rounds: %d (revealed %d, failed %d)\n\n", s.Total, s.Revealed, s.Failed)

	for _, round := range rounds {
		line := fmt.Sprintf("%d. %s [%s]", round.Sequence(), round.TrackURI(), round.State())
		if d := GuessTime(round); d != "" {
			line += " in " + d
		}
		if msg := round.ErrorMessage(); msg != "" {
			line += " - " + msg
		}
		buf.WriteString(line + "\n")
	}

	return buf.Bytes(), nil
}

// RoundsToJSON encodes rounds as a JSON array of [Record].
func RoundsToJSON(rounds []*models.Round) ([]byte, error) {
	records := make([]Record, len(rounds))
	for i, round := range rounds {
		records[i] = NewRecord(round)
	}
	return shared.MarshalJSON(records, true)
}

// Export renders rounds in format.
func Export(rounds []*models.Round, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return RoundsToCSV(rounds)
	case FormatMarkdown:
		return RoundsToMarkdown(rounds, "")
	case FormatJSON:
		return RoundsToJSON(rounds)
	case FormatText:
		return RoundsToText(rounds)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteExport renders rounds in format and writes them to path.
func WriteExport(rounds []*models.Round, format Format, path string) error {
	data, err := Export(rounds, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// Summary counts rounds by outcome.
type Summary struct {
	Total    int
	Revealed int
	Failed   int
}

func Summarize(rounds []*models.Round) Summary {
	s := Summary{Total: len(rounds)}
	for _, r := range rounds {
		switch r.State() {
		case models.RoundRevealed:
			s.Revealed++
		case models.RoundFailed:
			s.Failed++
		}
	}
	return s
}

// GuessTime is the time from start to reveal, or "" for rounds that were never revealed.
func GuessTime(round *models.Round) string {
	revealed := round.RevealedAt()
	if revealed == nil {
		return ""
	}
	return revealed.Sub(round.StartedAt()).Round(time.Second).String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
