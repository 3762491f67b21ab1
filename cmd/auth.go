package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/skywisej/qr-music-card-maker/internal/server"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// AuthLogin runs the PKCE login: it serves the redirect URI locally, opens the authorization URL and waits for
// the provider to redirect back.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	flow, err := r.authFlow(ctx)
	if err != nil {
		return err
	}

	redirectURI := r.config.Credentials.Spotify.RedirectURI
	addr, err := callbackAddr(redirectURI, r.config.Server.Addr())
	if err != nil {
		return err
	}

	handler := server.NewOAuthHandler(flow, redirectURI)
	router := server.NewBasicRouter()
	router.Use(server.Logging(r.logger))
	router.Handler(handler)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for the redirect on %s: %w", addr, err)
	}

	timeout := cmd.Duration("timeout")
	loginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- server.Serve(loginCtx, ln, router, r.logger) }()

	authURL, err := flow.Begin()
	if err != nil {
		cancel()
		<-served
		return err
	}

	r.writePlain("Open this URL to log in with Spotify:\n\n%s\n\n", authURL)
	if !cmd.Bool("no-browser") {
		if err := r.openURL(authURL); err != nil {
			r.logger.Warn("failed to open browser", "error", err)
		}
	}

	select {
	case result := <-handler.Result():
		cancel()
		<-served
		if err := result.Error(); err != nil {
			return err
		}
		r.logger.Info("login complete", "expires_at", result.Credential.ExpiresAt)
		return r.writePlain("✓ Logged in\n")

	case err := <-served:
		if err != nil {
			return fmt.Errorf("callback server failed: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: no redirect within %s", shared.ErrTimeout, timeout)
	}
}

// callbackAddr is the host:port of redirectURI, or fallback when the URI has no explicit port.
func callbackAddr(redirectURI, fallback string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("%w: redirect_uri: %v", shared.ErrInvalidConfig, err)
	}
	if u.Port() == "" {
		return fallback, nil
	}
	return u.Host, nil
}

// AuthLogout clears the stored credential.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	flow, err := r.authFlow(ctx)
	if err != nil {
		return err
	}
	if err := flow.Logout(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Logged out\n")
}

type authStatus struct {
	LoggedIn  bool      `json:"logged_in"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	User      string    `json:"user,omitempty"`
	Product   string    `json:"product,omitempty"`
	Premium   bool      `json:"premium"`
	Error     string    `json:"error,omitempty"`
}

// AuthStatus reports whether a credential is stored and which product the account has.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	flow, err := r.authFlow(ctx)
	if err != nil {
		return err
	}

	status := authStatus{}
	if flow.Store().Current() != nil {
		status.LoggedIn = true

		cred, err := flow.Credential(ctx)
		switch {
		case shared.RequiresLogin(err):
			status.LoggedIn = false
			status.Error = shared.UserMessage(err)
		case err != nil:
			status.Error = shared.UserMessage(err)
		default:
			status.ExpiresAt = cred.ExpiresAt
			user, err := r.spotifyService().UserProfile(ctx, cred)
			if err != nil {
				r.logger.Warn("failed to read profile", "error", err)
				status.Error = shared.UserMessage(err)
			} else {
				status.User = user.DisplayName
				if status.User == "" {
					status.User = user.ID
				}
				status.Product = user.Product
				status.Premium = user.Premium()
			}
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}
	return r.printAuthStatus(status)
}

func (r *Runner) printAuthStatus(s authStatus) error {
	if !s.LoggedIn {
		r.writePlain("✗ Not logged in\n")
		if s.Error != "" {
			r.writePlain("%s\n", s.Error)
		}
		return r.writePlain("Run 'qrdeck auth login' to connect your Spotify account.\n")
	}

	r.writePlain("✓ Logged in\n")
	if !s.ExpiresAt.IsZero() {
		r.writePlain("Token expires: %s\n", s.ExpiresAt.Local().Format(time.DateTime))
	}
	if s.User != "" {
		r.writePlain("Account: %s\n", s.User)
		if s.Premium {
			r.writePlain("Product: %s ✓\n", s.Product)
		} else {
			r.writePlain("Product: %s ✗ (Spotify Premium is required to play cards)\n", s.Product)
		}
	}
	if s.Error != "" {
		r.writePlain("%s\n", s.Error)
	}
	return nil
}

// requireLogin turns a missing credential into the message that tells the user what to run.
func requireLogin(err error) error {
	if errors.Is(err, shared.ErrNotAuthenticated) {
		return fmt.Errorf("%w: run 'qrdeck auth login' first", err)
	}
	return err
}
