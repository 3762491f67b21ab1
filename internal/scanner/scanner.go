package scanner

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// cacheBuster is the query parameter card generators append to defeat page caches.
const cacheBuster = "v"

// Result is one successful scan.
type Result struct {
	// Payload is the raw decoded text.
	Payload string
	// Ref is the card page URL or canonical track URI the payload resolves to.
	Ref string
}

// Scanner turns frames into card references, one per physical scan.
type Scanner struct {
	source  FrameSource
	decoder Decoder
	baseURL string
	logger  *log.Logger

	mu      sync.Mutex
	last    [sha256.Size]byte
	hasLast bool
}

// New creates a scanner. Relative payloads are resolved against baseURL.
func New(source FrameSource, decoder Decoder, baseURL string, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{
		source:  source,
		decoder: decoder,
		baseURL: baseURL,
		logger:  shared.WithLogger(logger, "component", "scanner"),
	}
}

// Scan blocks until a frame resolves to a card reference.
//
// Unreadable frames, payloads that do not name a card, and a repeat of the previously accepted frame are
// skipped. It returns io.EOF when the source is exhausted and the context error when ctx ends.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	for {
		frame, err := s.source.Next(ctx)
		if err != nil {
			return Result{}, err
		}

		sum := sha256.Sum256(frame.Data)
		if s.isLast(sum) {
			s.logger.Debug("duplicate frame skipped", "path", frame.Path)
			continue
		}

		payload, err := s.decode(ctx, frame)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			s.logger.Debug("frame not decoded", "path", frame.Path, "error", err)
			continue
		}

		ref, err := ResolvePayload(payload, s.baseURL)
		if err != nil {
			s.logger.Debug("payload ignored", "payload", payload, "error", err)
			continue
		}

		s.mu.Lock()
		s.last, s.hasLast = sum, true
		s.mu.Unlock()

		s.logger.Info("card scanned", "ref", ref)
		return Result{Payload: payload, Ref: ref}, nil
	}
}

// Reset forgets the last accepted frame so the same card can be scanned again.
//
// It is safe to call while Scan runs on another goroutine.
func (s *Scanner) Reset() {
	s.mu.Lock()
	s.hasLast = false
	s.mu.Unlock()
}

func (s *Scanner) isLast(sum [sha256.Size]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLast && sum == s.last
}

func (s *Scanner) decode(ctx context.Context, frame Frame) (string, error) {
	if frame.Text {
		return strings.TrimSpace(string(frame.Data)), nil
	}
	if s.decoder == nil {
		return "", errors.New("no decoder configured")
	}
	return s.decoder.Decode(ctx, frame)
}

// ResolvePayload maps a decoded QR payload to a card reference.
//
// Track URIs, open.spotify.com track links and bare track ids become canonical track URIs. Anything else must
// be an http(s) URL or a path relative to baseURL; the v= cache buster is dropped so reprinted cards resolve to
// the same page.
func ResolvePayload(payload, baseURL string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", fmt.Errorf("%w: empty payload", shared.ErrInvalidCard)
	}

	if cards.IsTrackReference(payload) {
		return cards.NormalizeTrackURI(payload)
	}

	if strings.ContainsAny(payload, " \t\r\n") {
		return "", fmt.Errorf("%w: payload is not a card reference", shared.ErrInvalidCard)
	}

	u, err := url.Parse(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidCard, err)
	}

	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		if u.Host == "" {
			return "", fmt.Errorf("%w: missing host", shared.ErrInvalidCard)
		}
	case u.Scheme != "":
		return "", fmt.Errorf("%w: unsupported scheme %q", shared.ErrInvalidCard, u.Scheme)
	case baseURL != "":
		base, err := url.Parse(ensureTrailingSlash(baseURL))
		if err != nil {
			return "", fmt.Errorf("%w: base url: %v", shared.ErrInvalidConfig, err)
		}
		u = base.ResolveReference(u)
	case u.Path == "":
		return "", fmt.Errorf("%w: payload is not a card reference", shared.ErrInvalidCard)
	}

	q := u.Query()
	if q.Has(cacheBuster) {
		q.Del(cacheBuster)
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""

	return u.String(), nil
}

func ensureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
