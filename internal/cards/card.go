package cards

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

const trackPrefix = "spotify:track:"

var trackIDPattern = regexp.MustCompile(`(?:spotify:track:|open\.spotify\.com/(?:intl-[a-z]{2}(?:-[a-z]{2})?/)?track/)?\b([A-Za-z0-9]{22})\b`)

// NormalizeTrackURI accepts a Spotify track URI, an open.spotify.com track URL or a bare track id and returns
// the canonical spotify:track:<id> form.
func NormalizeTrackURI(s string) (string, error) {
	s = strings.TrimSpace(s)
	m := trackIDPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: no track id in %q", shared.ErrInvalidCard, s)
	}
	return trackPrefix + m[1], nil
}

// TrackID returns the id part of a canonical track URI.
func TrackID(uri string) string {
	return strings.TrimPrefix(uri, trackPrefix)
}

// IsTrackReference reports whether s names a track directly rather than a card page.
func IsTrackReference(s string) bool {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, trackPrefix):
		return true
	case strings.Contains(s, "open.spotify.com/") && strings.Contains(s, "/track/"):
		return true
	default:
		return len(s) == 22 && trackIDPattern.MatchString(s)
	}
}

// Metadata is the identity of a track. It is what players guess.
type Metadata struct {
	Title  string
	Artist string
	Year   string
}

// Complete reports whether every field is filled.
func (m Metadata) Complete() bool {
	return m.Title != "" && m.Artist != "" && m.Year != ""
}

func (m Metadata) merge(o Metadata) Metadata {
	if m.Title == "" {
		m.Title = o.Title
	}
	if m.Artist == "" {
		m.Artist = o.Artist
	}
	if m.Year == "" {
		m.Year = o.Year
	}
	return m
}

// Card is one scanned card: the track to play and its hidden metadata.
//
// Card is immutable. Its metadata is only reachable through a revealed [Session], and its string forms never
// include it.
type Card struct {
	trackURI string
	page     string
	meta     Metadata
}

// NewCard builds a card for trackURI. The page is the reference it was loaded from and may be empty.
func NewCard(trackURI, page string, meta Metadata) (*Card, error) {
	uri, err := NormalizeTrackURI(trackURI)
	if err != nil {
		return nil, err
	}
	return &Card{trackURI: uri, page: page, meta: meta}, nil
}

func (c *Card) TrackURI() string { return c.trackURI }

func (c *Card) Page() string { return c.page }

// HasMetadata reports whether the card carries any metadata to reveal.
func (c *Card) HasMetadata() bool {
	return c.meta != Metadata{}
}

func (c *Card) String() string {
	return "card(" + c.trackURI + ")"
}

func (c *Card) GoString() string {
	return fmt.Sprintf("&cards.Card{trackURI:%q, page:%q}", c.trackURI, c.page)
}
