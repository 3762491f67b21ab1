package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// Completer finishes an authorization from the provider's redirect parameters. [auth.Flow] implements it.
type Completer interface {
	Complete(ctx context.Context, params url.Values) (*models.Credential, error)
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Credential *models.Credential
	err        error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler handles the provider redirect for the authorization code flow.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	completer   Completer
	path        string
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a handler serving the path of redirectURI ("/callback" when it has none).
func NewOAuthHandler(completer Completer, redirectURI string) *OAuthHandler {
	path := "/callback"
	if u, err := url.Parse(redirectURI); err == nil && u.Path != "" {
		path = u.Path
	}

	return &OAuthHandler{
		completer:  completer,
		path:       path,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{h.path}
}

// ServeHTTP completes the authorization and sends the result through the result channel.
//
// A request whose state does not match is rejected without consuming the handler, so a stray hit cannot end
// the login. Any other outcome is final.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	cred, err := h.completer.Complete(r.Context(), r.URL.Query())
	if err != nil {
		if errors.Is(err, shared.ErrInvalidState) {
			h.mu.Lock()
			h.callbackHit = false
			h.mu.Unlock()
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed: "+shared.UserMessage(err), http.StatusBadRequest)
		return
	}

	h.Send(OAuthResult{Credential: cred})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>qrdeck connected</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #121212; }
        .container { text-align: center; background: #1e1e1e; padding: 2rem; border-radius: 8px; }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #b3b3b3; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Spotify connected</h1>
        <p>Close this tab and start scanning cards.</p>
    </div>
</body>
</html>
`
