package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/skywisej/qr-music-card-maker/internal/controller"
	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/relay"
	"github.com/skywisej/qr-music-card-maker/internal/repositories"
	"github.com/skywisej/qr-music-card-maker/internal/scanner"
	"github.com/skywisej/qr-music-card-maker/internal/server"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
	tu "github.com/skywisej/qr-music-card-maker/internal/testing"
)

const testTrack = "spotify:track:2WfaOiMkCvy7F5fcp2zZ8L"

// fakeSpotify serves the Web API and token endpoints the commands use.
type fakeSpotify struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
	plays    []string
	active   bool
	premium  bool
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()

	f := &fakeSpotify{premium: true}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600,"refresh_token":"refresh-2"}`)
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		product := "free"
		if f.isPremium() {
			product = "premium"
		}
		writeJSONBody(w, map[string]any{"id": "ada", "display_name": "Ada", "product": product})
	})
	mux.HandleFunc("GET /v1/me/player/devices", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		active := f.active
		f.mu.Unlock()
		writeJSONBody(w, map[string]any{"devices": []map[string]any{
			{"id": "dev-kitchen", "name": "Kitchen", "type": "Speaker", "is_active": active},
			{"id": "dev-phone", "name": "Phone", "type": "Smartphone", "is_active": false},
		}})
	})
	mux.HandleFunc("PUT /v1/me/player", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.active = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/me/player", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /v1/me/player/play", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if !f.isPremium() {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"status":403,"message":"Player command failed: Premium required","reason":"PREMIUM_REQUIRED"}}`)
			return
		}
		var body struct {
			URIs []string `json:"uris"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.plays = append(f.plays, body.URIs...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /v1/me/player/pause", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/tracks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSONBody(w, map[string]any{
			"id":      r.PathValue("id"),
			"name":    "Take On Me",
			"uri":     "spotify:track:" + r.PathValue("id"),
			"artists": []map[string]any{{"name": "a-ha"}},
			"album":   map[string]any{"name": "Hunting High and Low", "release_date": "1985-06-01"},
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeJSONBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakeSpotify) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

func (f *fakeSpotify) isPremium() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.premium
}

func (f *fakeSpotify) setPremium(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.premium = v
}

func (f *fakeSpotify) saw(request string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == request {
			return true
		}
	}
	return false
}

func (f *fakeSpotify) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.plays...)
}

type testEnv struct {
	runner  *Runner
	output  *bytes.Buffer
	spotify *fakeSpotify
}

func newTestEnv(t *testing.T, input string) *testEnv {
	t.Helper()

	api := newFakeSpotify(t)

	config := shared.DefaultConfig()
	config.Database.Path = ":memory:"
	config.Credentials.Spotify.ClientID = "client-id"
	config.Credentials.Spotify.AuthURL = api.URL + "/authorize"
	config.Credentials.Spotify.TokenURL = api.URL + "/api/token"
	config.Credentials.Spotify.APIBaseURL = api.URL + "/v1"
	config.Device.Name = "Kitchen"
	config.Playback.NetworkBackoff = shared.Duration{Duration: time.Millisecond}
	config.Playback.ActivationInterval = shared.Duration{Duration: time.Millisecond}
	config.Relay.RequesterID = "table-1"

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:     config,
		Logger:     shared.NewLogger(io.Discard),
		Output:     output,
		Input:      strings.NewReader(input),
		HTTPClient: &http.Client{},
		OpenURL:    func(string) error { return nil },
		IsTerminal: func() bool { return false },
	})
	t.Cleanup(func() { runner.Close() })

	return &testEnv{runner: runner, output: output, spotify: api}
}

// login stores a valid credential as a previous 'auth login' would have.
func (e *testEnv) login(t *testing.T) {
	t.Helper()

	db, err := e.runner.database()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	cred := &models.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := repositories.NewCredentialRepository(db, repositories.ProviderSpotify).Save(context.Background(), cred); err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}
}

func (e *testEnv) run(ctx context.Context, args ...string) error {
	app := &cli.Command{Name: "qrdeck", Commands: e.runner.register()}
	return app.Run(ctx, append([]string{"qrdeck"}, args...))
}

func (e *testEnv) roundStates(t *testing.T) []models.RoundState {
	t.Helper()

	repo, err := e.runner.rounds()
	if err != nil {
		t.Fatalf("failed to open rounds: %v", err)
	}
	rounds, err := repo.List(nil)
	if err != nil {
		t.Fatalf("failed to list rounds: %v", err)
	}

	states := make([]models.RoundState, len(rounds))
	for i, r := range rounds {
		states[i] = r.State()
	}
	return states
}

func newHubServer(t *testing.T) (*relay.Hub, *httptest.Server) {
	t.Helper()

	hub := relay.NewHub(shared.NewLogger(io.Discard))
	router := server.NewBasicRouter()
	relay.NewHandler(hub, nil).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	wd := tu.MustGetwd(t)
	tu.MustChdir(t, dir)
	t.Cleanup(func() { tu.MustChdir(t, wd) })

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		ConfigPath: filepath.Join(dir, "config.toml"),
		Logger:     shared.NewLogger(io.Discard),
		Output:     output,
	})
	t.Cleanup(func() { runner.Close() })

	app := &cli.Command{Name: "qrdeck", Commands: runner.register()}
	if err := app.Run(context.Background(), []string{"qrdeck", "setup"}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	tu.AssertFileExists(t, filepath.Join(dir, "config.toml"))
	tu.AssertFileExists(t, filepath.Join(dir, "qrdeck.db"))
	if !strings.Contains(output.String(), "schema version") {
		t.Errorf("expected schema version in output, got %q", output.String())
	}
	if !strings.Contains(output.String(), "qrdeck auth login") {
		t.Errorf("expected next steps in output, got %q", output.String())
	}
}

func TestAuthCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("status when logged out", func(t *testing.T) {
		env := newTestEnv(t, "")

		if err := env.run(ctx, "auth", "status"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(env.output.String(), "✗ Not logged in") {
			t.Errorf("unexpected output %q", env.output.String())
		}
	})

	t.Run("status shows the product", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)

		if err := env.run(ctx, "auth", "status"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		out := env.output.String()
		for _, want := range []string{"✓ Logged in", "Account: Ada", "Product: premium ✓"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in %q", want, out)
			}
		}
	})

	t.Run("status flags a free account", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)
		env.spotify.setPremium(false)

		if err := env.run(ctx, "auth", "status", "--json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var status authStatus
		if err := json.Unmarshal(env.output.Bytes(), &status); err != nil {
			t.Fatalf("invalid JSON %q: %v", env.output.String(), err)
		}
		if !status.LoggedIn || status.Premium || status.Product != "free" {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("logout clears the stored credential", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)

		if err := env.run(ctx, "auth", "logout"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		cred, err := repositories.NewCredentialRepository(env.runner.db, repositories.ProviderSpotify).Load(ctx)
		if err != nil || cred != nil {
			t.Errorf("expected no stored credential, got %v, %v", cred, err)
		}
	})

	t.Run("login completes through the local redirect", func(t *testing.T) {
		env := newTestEnv(t, "")

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to reserve a port: %v", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		env.runner.config.Credentials.Spotify.RedirectURI = fmt.Sprintf("http://127.0.0.1:%d/callback", port)

		var opened string
		env.runner.openURL = func(authURL string) error {
			opened = authURL
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			q := u.Query()
			redirect := q.Get("redirect_uri") + "?code=auth-code&state=" + url.QueryEscape(q.Get("state"))
			go func() {
				if resp, err := http.Get(redirect); err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		}

		if err := env.run(ctx, "auth", "login", "--timeout", "10s"); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		if !strings.Contains(opened, "code_challenge_method=S256") {
			t.Errorf("expected a PKCE challenge in %q", opened)
		}
		if !strings.Contains(env.output.String(), "✓ Logged in") {
			t.Errorf("unexpected output %q", env.output.String())
		}

		cred, err := repositories.NewCredentialRepository(env.runner.db, repositories.ProviderSpotify).Load(ctx)
		if err != nil || cred == nil || cred.AccessToken != "fresh-token" {
			t.Fatalf("expected the exchanged credential to be stored, got %+v, %v", cred, err)
		}
	})

	t.Run("login times out without a redirect", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.runner.config.Credentials.Spotify.RedirectURI = "http://127.0.0.1:0/callback"

		err := env.run(ctx, "auth", "login", "--timeout", "50ms", "--no-browser")
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})
}

func TestPlaybackCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("devices marks the configured device", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)

		if err := env.run(ctx, "devices"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		out := env.output.String()
		if !strings.Contains(out, "Kitchen") || !strings.Contains(out, "★ configured") {
			t.Errorf("unexpected output %q", out)
		}
		if strings.Contains(out, "▶ active") {
			t.Errorf("nothing should be active yet: %q", out)
		}
	})

	t.Run("devices --ensure transfers to the configured device", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)

		if err := env.run(ctx, "devices", "--ensure"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !env.spotify.saw("PUT /v1/me/player") {
			t.Error("expected a playback transfer")
		}
		if !strings.Contains(env.output.String(), "▶ active") {
			t.Errorf("expected the device to be active: %q", env.output.String())
		}
	})

	t.Run("play records a round", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)

		if err := env.run(ctx, "play", "https://open.spotify.com/track/2WfaOiMkCvy7F5fcp2zZ8L?si=abc"); err != nil {
			t.Fatalf("play failed: %v", err)
		}

		if got := env.spotify.played(); len(got) != 1 || got[0] != testTrack {
			t.Errorf("unexpected plays %v", got)
		}
		if strings.Contains(env.output.String(), "Take On Me") {
			t.Error("play must not reveal the title")
		}
		if states := env.roundStates(t); len(states) != 1 || states[0] != models.RoundPlaying {
			t.Errorf("unexpected rounds %v", states)
		}
	})

	t.Run("play without login", func(t *testing.T) {
		env := newTestEnv(t, "")

		err := env.run(ctx, "play", testTrack)
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if !strings.Contains(err.Error(), "qrdeck auth login") {
			t.Errorf("expected a login hint, got %v", err)
		}
	})

	t.Run("forbidden play marks the round failed", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)
		env.spotify.setPremium(false)

		err := env.run(ctx, "play", testTrack)
		if !errors.Is(err, shared.ErrPlaybackForbidden) {
			t.Fatalf("expected ErrPlaybackForbidden, got %v", err)
		}
		if states := env.roundStates(t); len(states) != 1 || states[0] != models.RoundFailed {
			t.Errorf("unexpected rounds %v", states)
		}
	})

	t.Run("play rejects an unreadable payload", func(t *testing.T) {
		env := newTestEnv(t, "")

		if err := env.run(ctx, "play", "ftp://cards/1"); !errors.Is(err, shared.ErrInvalidCard) {
			t.Errorf("expected ErrInvalidCard, got %v", err)
		}
	})

	t.Run("pause and resume", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.login(t)

		if err := env.run(ctx, "pause"); err != nil {
			t.Fatalf("pause failed: %v", err)
		}
		if err := env.run(ctx, "resume"); err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		if !env.spotify.saw("PUT /v1/me/player/pause") || !env.spotify.saw("PUT /v1/me/player/play") {
			t.Error("expected pause and resume requests")
		}
	})
}

func TestScanLineMode(t *testing.T) {
	// scan, tap to play, tap to reveal, tap for the next card
	env := newTestEnv(t, testTrack+"\n\n\n\n")
	env.login(t)

	if err := env.run(context.Background(), "scan", "--plain"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	out := env.output.String()
	steps := []string{
		"Card ready. Tap to play.",
		"Playing. Tap to reveal.",
		"★ Take On Me - a-ha (1985)",
		"Scan the next card.",
	}
	last := -1
	for _, step := range steps {
		i := strings.Index(out, step)
		if i < 0 {
			t.Fatalf("missing %q in:\n%s", step, out)
		}
		if i < last {
			t.Errorf("%q out of order in:\n%s", step, out)
		}
		last = i
	}

	if got := env.spotify.played(); len(got) != 1 || got[0] != testTrack {
		t.Errorf("unexpected plays %v", got)
	}
	if states := env.roundStates(t); len(states) != 1 || states[0] != models.RoundRevealed {
		t.Errorf("unexpected rounds %v", states)
	}

	env.output.Reset()
	if err := env.run(context.Background(), "history", "--format", "csv"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(env.output.String(), testTrack+",table-1,revealed") {
		t.Errorf("unexpected history %q", env.output.String())
	}
}

func TestScanLineModeRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, "not a card\nq\n")
	env.login(t)

	if err := env.run(context.Background(), "scan", "--plain"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !strings.Contains(env.output.String(), "✗ "+shared.UserMessage(shared.ErrInvalidCard)) {
		t.Errorf("expected a card error, got %q", env.output.String())
	}
}

func TestRelayCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("publish reaches subscribers", func(t *testing.T) {
		hub, srv := newHubServer(t)
		env := newTestEnv(t, "")
		env.runner.config.Relay.URL = srv.URL

		requests, cancel := hub.Subscribe(env.runner.config.Relay.Channel)
		defer cancel()

		if err := env.run(ctx, "relay", "publish", testTrack); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case req := <-requests:
			if req.TrackURI != testTrack || req.Action != models.ActionPlay || req.RequesterID != "table-1" {
				t.Errorf("unexpected request %+v", req)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no request delivered")
		}

		if err := env.run(ctx, "relay", "publish", "--pause"); err != nil {
			t.Fatalf("pause publish failed: %v", err)
		}
		select {
		case req := <-requests:
			if req.Action != models.ActionPause {
				t.Errorf("expected pause, got %+v", req)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no pause delivered")
		}
	})

	t.Run("publish without a login", func(t *testing.T) {
		_, srv := newHubServer(t)
		env := newTestEnv(t, "")
		env.runner.config.Relay.URL = srv.URL

		if err := env.run(ctx, "relay", "publish", testTrack); err != nil {
			t.Fatalf("guests publish without a Spotify login, got %v", err)
		}
		if env.spotify.saw("GET /v1/tracks/2WfaOiMkCvy7F5fcp2zZ8L") {
			t.Error("guest publish must not call the catalog")
		}
	})

	t.Run("unreachable hub", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.runner.config.Relay.URL = "http://127.0.0.1:1"

		if err := env.run(ctx, "relay", "publish", testTrack); !errors.Is(err, shared.ErrRelayClosed) {
			t.Errorf("expected ErrRelayClosed, got %v", err)
		}
	})

	t.Run("serve answers health and stops with the context", func(t *testing.T) {
		env := newTestEnv(t, "")

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- env.runner.serveRelay(ctx, ln) }()

		var resp *http.Response
		waitFor(t, "hub to answer", func() bool {
			resp, err = http.Get("http://" + ln.Addr().String() + "/health")
			return err == nil
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}

		cancel()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("expected clean shutdown, got %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not stop")
		}
	})

	t.Run("host plays published cards", func(t *testing.T) {
		hub, srv := newHubServer(t)
		env := newTestEnv(t, "")
		env.login(t)
		env.runner.config.Relay.URL = srv.URL
		channel := env.runner.config.Relay.Channel

		ctx, cancel := context.WithCancel(context.Background())
		hosted := make(chan error, 1)
		go func() { hosted <- env.run(ctx, "host") }()

		waitFor(t, "host to subscribe", func() bool { return hub.Subscribers(channel) == 1 })

		req := models.NewRelayRequest(testTrack, "guest", models.ActionPlay, time.Now())
		if err := hub.Channel(channel).Publish(ctx, req); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, "host to play", func() bool { return len(env.spotify.played()) == 1 })
		waitFor(t, "round to be recorded", func() bool { return len(env.roundStates(t)) == 1 })

		cancel()
		select {
		case err := <-hosted:
			if err != nil {
				t.Errorf("expected clean stop, got %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("host did not stop")
		}

		if states := env.roundStates(t); len(states) != 1 || states[0] != models.RoundPlaying {
			t.Errorf("unexpected rounds %v", states)
		}
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, env *testEnv) {
		t.Helper()
		repo, err := env.runner.rounds()
		if err != nil {
			t.Fatalf("failed to open rounds: %v", err)
		}
		revealed := models.NewRound("s1", testTrack, "table-1")
		if err := repo.Create(revealed); err != nil {
			t.Fatalf("failed to create round: %v", err)
		}
		revealed.MarkRevealed(revealed.StartedAt().Add(30 * time.Second))
		if err := repo.Update(revealed); err != nil {
			t.Fatalf("failed to update round: %v", err)
		}
		failed := models.NewRound("s2", "spotify:track:7ouMYWpwJ422jRcDASZB7P", "")
		failed.SetState(models.RoundFailed, "no device")
		if err := repo.Create(failed); err != nil {
			t.Fatalf("failed to create round: %v", err)
		}
	}

	t.Run("markdown to stdout", func(t *testing.T) {
		env := newTestEnv(t, "")
		seed(t, env)

		if err := env.run(ctx, "history", "--format", "md"); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		out := env.output.String()
		if !strings.Contains(out, "# Game history") || !strings.Contains(out, "**Rounds**: 2") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("state filter", func(t *testing.T) {
		env := newTestEnv(t, "")
		seed(t, env)

		if err := env.run(ctx, "history", "--state", "failed"); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		out := env.output.String()
		if !strings.Contains(out, "Rounds: 1") || strings.Contains(out, testTrack) {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("export to file", func(t *testing.T) {
		env := newTestEnv(t, "")
		seed(t, env)
		path := filepath.Join(t.TempDir(), "history.json")

		if err := env.run(ctx, "history", "--format", "json", "--output", path); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		tu.AssertFileExists(t, path)

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read export: %v", err)
		}
		var records []map[string]any
		if err := json.Unmarshal(data, &records); err != nil || len(records) != 2 {
			t.Errorf("unexpected export %s: %v", data, err)
		}
		if !strings.Contains(env.output.String(), "Exported 2 rounds") {
			t.Errorf("unexpected output %q", env.output.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		env := newTestEnv(t, "")

		if err := env.run(ctx, "history", "--format", "xml"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestForwardUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The same card read twice in a row, as when it is dealt again under the camera.
	sc := scanner.New(scanner.NewTextSource(strings.NewReader(testTrack+"\n"+testTrack+"\n")), nil, "", shared.NewLogger(io.Discard))

	res, err := sc.Scan(ctx)
	if err != nil || res.Ref != testTrack {
		t.Fatalf("first scan = %+v, %v", res, err)
	}

	in := make(chan controller.Update, 1)
	out := make(chan controller.Update, 1)
	go forwardUpdates(ctx, in, out, sc)

	in <- controller.Update{Kind: controller.UpdateState, Message: "Playing. Tap to reveal."}
	if u := <-out; u.Kind != controller.UpdateState {
		t.Fatalf("expected the state update to pass through, got %s", u.Kind)
	}

	in <- controller.Update{Kind: controller.UpdateReady, Message: "Scan the next card."}
	if u := <-out; u.Kind != controller.UpdateReady {
		t.Fatalf("expected the ready update to pass through, got %s", u.Kind)
	}

	res, err = sc.Scan(ctx)
	if err != nil {
		t.Fatalf("expected the repeated card after the next-card prompt, got %v", err)
	}
	if res.Ref != testTrack {
		t.Errorf("unexpected ref %q", res.Ref)
	}
}

func TestHelpers(t *testing.T) {
	t.Run("callbackAddr", func(t *testing.T) {
		tests := []struct {
			uri, want string
		}{
			{"http://127.0.0.1:8888/callback", "127.0.0.1:8888"},
			{"http://localhost/callback", "127.0.0.1:3000"},
		}
		for _, tt := range tests {
			got, err := callbackAddr(tt.uri, "127.0.0.1:3000")
			if err != nil || got != tt.want {
				t.Errorf("callbackAddr(%q) = %q, %v; want %q", tt.uri, got, err, tt.want)
			}
		}

		if _, err := callbackAddr("http://[::1", ""); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("settled", func(t *testing.T) {
		tests := []struct {
			update controller.Update
			want   bool
		}{
			{controller.Update{Kind: controller.UpdateCard}, true},
			{controller.Update{Kind: controller.UpdateState, Busy: true}, false},
			{controller.Update{Kind: controller.UpdateState}, true},
			{controller.Update{Kind: controller.UpdateError}, true},
			{controller.Update{Kind: controller.UpdateReady}, true},
			{controller.Update{Kind: controller.UpdateRelay}, false},
		}
		for _, tt := range tests {
			if got := settled(tt.update); got != tt.want {
				t.Errorf("settled(%s busy=%v) = %v, want %v", tt.update.Kind, tt.update.Busy, got, tt.want)
			}
		}
	})
}
