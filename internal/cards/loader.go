package cards

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/services"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// PageFetcher retrieves card pages. [services.APIService] satisfies it.
type PageFetcher interface {
	Get(ctx context.Context, path string) (*services.APIResponse, error)
}

// CredentialSource supplies the credential for catalog lookups.
type CredentialSource interface {
	Credential(ctx context.Context) (*models.Credential, error)
}

var (
	pageTrackPattern = regexp.MustCompile(`spotify:track:([A-Za-z0-9]{22})`)
	dataAttrPattern  = regexp.MustCompile(`(?i)data-(title|artist|year)\s*=\s*"([^"]*)"`)
	metaTagPattern   = regexp.MustCompile(`(?is)<meta\s+[^>]*name\s*=\s*"card:(title|artist|year)"[^>]*content\s*=\s*"([^"]*)"`)
)

// Loader turns a scanned reference into a [Card].
type Loader struct {
	pages   PageFetcher
	catalog services.Catalog
	creds   CredentialSource
	logger  *log.Logger
}

// NewLoader creates a loader. catalog and creds may be nil, in which case missing metadata stays empty.
func NewLoader(pages PageFetcher, catalog services.Catalog, creds CredentialSource, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{
		pages:   pages,
		catalog: catalog,
		creds:   creds,
		logger:  shared.WithLogger(logger, "component", "cards"),
	}
}

// Load resolves ref, either a card page URL or a track reference, to a card.
func (l *Loader) Load(ctx context.Context, ref string) (*Card, error) {
	if IsTrackReference(ref) {
		return l.FromTrack(ctx, ref)
	}
	return l.LoadPage(ctx, ref)
}

// LoadPage fetches a card page and reads the track URI and any metadata it carries.
//
// The page must contain a track URI; nothing else about its format is required.
func (l *Loader) LoadPage(ctx context.Context, pageURL string) (*Card, error) {
	if l.pages == nil {
		return nil, fmt.Errorf("%w: no page fetcher configured", shared.ErrInvalidCard)
	}

	resp, err := l.pages.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: card page returned %d", shared.ErrInvalidCard, resp.StatusCode)
	}

	body := string(resp.Body)
	m := pageTrackPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: card page has no track", shared.ErrInvalidCard)
	}

	card, err := NewCard(m[0], pageURL, parseMetadata(body))
	if err != nil {
		return nil, err
	}

	l.logger.Debug("card page loaded", "page", pageURL, "track", card.TrackURI())
	return l.fill(ctx, card), nil
}

// FromTrack builds a card straight from a track reference, filling metadata from the catalog.
func (l *Loader) FromTrack(ctx context.Context, ref string) (*Card, error) {
	card, err := NewCard(ref, "", Metadata{})
	if err != nil {
		return nil, err
	}
	return l.fill(ctx, card), nil
}

// fill completes card metadata from the catalog. Failures leave the card playable.
func (l *Loader) fill(ctx context.Context, card *Card) *Card {
	if card.meta.Complete() || l.catalog == nil || l.creds == nil {
		return card
	}

	cred, err := l.creds.Credential(ctx)
	if err != nil {
		l.logger.Warn("metadata lookup skipped", "track", card.trackURI, "error", err)
		return card
	}

	track, err := l.catalog.Track(ctx, cred, TrackID(card.trackURI))
	if err != nil {
		l.logger.Warn("metadata lookup failed", "track", card.trackURI, "error", err)
		return card
	}

	out := *card
	out.meta = card.meta.merge(Metadata{
		Title:  track.Name,
		Artist: track.ArtistNames(),
		Year:   track.ReleaseYear(),
	})
	return &out
}

func parseMetadata(body string) Metadata {
	var meta Metadata
	set := func(key, value string) {
		value = strings.TrimSpace(html.UnescapeString(value))
		switch strings.ToLower(key) {
		case "title":
			meta.Title = value
		case "artist":
			meta.Artist = value
		case "year":
			meta.Year = value
		}
	}

	for _, m := range metaTagPattern.FindAllStringSubmatch(body, -1) {
		set(m[1], m[2])
	}
	for _, m := range dataAttrPattern.FindAllStringSubmatch(body, -1) {
		set(m[1], m[2])
	}
	return meta
}
