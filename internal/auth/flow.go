package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/retry"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// Options tunes a [Flow]. Zero values pick defaults.
type Options struct {
	HTTPClient      *http.Client
	Logger          *log.Logger
	Now             func() time.Time
	NetworkAttempts int
	NetworkBackoff  time.Duration
	Sleep           retry.Sleeper
}

type pendingAuth struct {
	state    string
	verifier string
}

// Flow performs the PKCE authorization handshake and credential refresh, committing results to a [Store].
type Flow struct {
	config     *oauth2.Config
	store      *Store
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time
	network    retry.Rule
	sleep      retry.Sleeper

	mu      sync.Mutex
	pending *pendingAuth

	refreshMu sync.Mutex
}

// NewFlow creates a Flow for the public client described by cfg.
func NewFlow(cfg shared.SpotifyConfig, store *Store, opts Options) (*Flow, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("%w: missing redirect_uri", shared.ErrMissingCredentials)
	}
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Flow{
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:      store,
		httpClient: opts.HTTPClient,
		logger:     shared.WithLogger(opts.Logger, "component", "auth"),
		now:        opts.Now,
		sleep:      opts.Sleep,
		network: retry.Rule{
			Name:      "network",
			Match:     shared.IsRetryable,
			Attempts:  opts.NetworkAttempts,
			Backoff:   opts.NetworkBackoff,
			Exhausted: retry.Wrap(shared.ErrUnreachable),
		},
	}, nil
}

// Store returns the store this flow commits to.
func (f *Flow) Store() *Store { return f.store }

// Begin starts a new authorization and returns the URL the user must visit.
//
// A fresh state and verifier replace any authorization already in progress.
func (f *Flow) Begin() (string, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	f.mu.Lock()
	f.pending = &pendingAuth{state: state, verifier: verifier}
	f.mu.Unlock()

	return f.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Complete exchanges the code in the provider's redirect parameters for a credential and commits it.
func (f *Flow) Complete(ctx context.Context, params url.Values) (*models.Credential, error) {
	pending, err := f.takePending(params.Get("state"))
	if err != nil {
		return nil, err
	}

	if e := params.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrAuthFailed, e, params.Get("error_description"))
	}

	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", shared.ErrAuthFailed)
	}

	token, err := f.config.Exchange(f.clientContext(ctx), code, oauth2.VerifierOption(pending.verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", classify(ctx, err))
	}

	cred := models.CredentialFromToken(token, f.now())
	if err := f.store.Commit(ctx, cred); err != nil {
		return nil, err
	}

	f.logger.Info("authorization complete", "expires_at", cred.ExpiresAt)
	return cred, nil
}

// takePending claims the authorization in progress when state matches it, so only one redirect can complete it.
func (f *Flow) takePending(state string) (*pendingAuth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending == nil {
		return nil, fmt.Errorf("%w: no authorization in progress", shared.ErrInvalidState)
	}
	if state != f.pending.state {
		return nil, fmt.Errorf("%w: state mismatch", shared.ErrInvalidState)
	}

	pending := f.pending
	f.pending = nil
	return pending, nil
}

// Refresh exchanges the current refresh capability for a new credential.
//
// A rejected refresh token clears the store and returns [shared.ErrAuthExpired]; transient failures are retried
// with backoff and reported as [shared.ErrUnreachable] once the budget is spent.
func (f *Flow) Refresh(ctx context.Context) (*models.Credential, error) {
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()

	cur := f.store.Current()
	if cur == nil {
		return nil, shared.ErrNotAuthenticated
	}
	if !cur.CanRefresh() {
		f.clear(ctx)
		return nil, fmt.Errorf("%w: no refresh token", shared.ErrAuthExpired)
	}

	policy := retry.Policy{Rules: []retry.Rule{f.network}, Sleep: f.sleep, Logger: f.logger}

	token, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*oauth2.Token, error) {
		src := f.config.TokenSource(f.clientContext(ctx), &oauth2.Token{RefreshToken: cur.RefreshToken})
		token, err := src.Token()
		if err != nil {
			return nil, classify(ctx, err)
		}
		return token, nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInvalidGrant) {
			f.clear(ctx)
			return nil, fmt.Errorf("%w: %w", shared.ErrAuthExpired, err)
		}
		return nil, fmt.Errorf("refresh failed: %w", err)
	}

	if token.RefreshToken == "" {
		token.RefreshToken = cur.RefreshToken
	}

	cred := models.CredentialFromToken(token, f.now())
	if err := f.store.Commit(ctx, cred); err != nil {
		return nil, err
	}

	f.logger.Debug("credential refreshed", "expires_at", cred.ExpiresAt)
	return cred, nil
}

// Credential returns a credential that is valid now, refreshing first when the held one has expired.
func (f *Flow) Credential(ctx context.Context) (*models.Credential, error) {
	cur := f.store.Current()
	if cur == nil {
		return nil, shared.ErrNotAuthenticated
	}
	if !cur.Expired(f.now()) {
		return cur, nil
	}
	return f.Refresh(ctx)
}

// Logout clears the credential and any authorization in progress.
func (f *Flow) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()

	return f.store.Clear(ctx)
}

func (f *Flow) clear(ctx context.Context) {
	if err := f.store.Clear(ctx); err != nil {
		f.logger.Error("failed to clear credential", "error", err)
	}
}

func (f *Flow) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

// classify maps token endpoint failures onto the shared taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}

		switch {
		case re.ErrorCode == "invalid_grant":
			return fmt.Errorf("%w: %s", shared.ErrInvalidGrant, re.ErrorDescription)
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("%w: token endpoint returned %d", shared.ErrNetwork, status)
		default:
			return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
		}
	}

	return fmt.Errorf("%w: %v", shared.ErrNetwork, err)
}
