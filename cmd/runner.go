package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/skywisej/qr-music-card-maker/internal/auth"
	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/playback"
	"github.com/skywisej/qr-music-card-maker/internal/repositories"
	"github.com/skywisej/qr-music-card-maker/internal/services"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, auth flow and playback commander are built on first use so commands that need none of them
// (setup, relay serve) never touch the credential store.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	input      io.Reader
	httpClient *http.Client
	openURL    func(string) error
	isTerminal func() bool
	now        func() time.Time

	db        *sql.DB
	flow      *auth.Flow
	spotify   *services.SpotifyService
	commander *playback.Commander
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	HTTPClient *http.Client
	OpenURL    func(string) error
	IsTerminal func() bool
	Now        func() time.Time
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenURL == nil {
		opts.OpenURL = shared.OpenBrowser
	}
	if opts.IsTerminal == nil {
		opts.IsTerminal = func() bool {
			return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		input:      opts.Input,
		httpClient: opts.HTTPClient,
		openURL:    opts.OpenURL,
		isTerminal: opts.IsTerminal,
		now:        opts.Now,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, devicesCommand, playCommand, pauseCommand, resumeCommand,
		scanCommand, hostCommand, relayCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// LoadConfig reads the config file at path when it exists and applies its log level.
//
// A missing file keeps the defaults; a file that fails to parse or validate is an error.
func (r *Runner) LoadConfig(path string) error {
	if path != "" {
		r.configPath = path
	}
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return err
			}
			r.config = config
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		}
	}

	shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))
	return nil
}

// SetLogger replaces the logger, e.g. with a file logger while the TUI owns the terminal.
func (r *Runner) SetLogger(logger *log.Logger) {
	logger.SetLevel(r.logger.GetLevel())
	r.logger = logger
}

// Close releases the database, if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, err
	}
	r.db = db
	return db, nil
}

// authFlow builds the credential store from the database and restores the saved credential into it.
func (r *Runner) authFlow(ctx context.Context) (*auth.Flow, error) {
	if r.flow != nil {
		return r.flow, nil
	}

	db, err := r.database()
	if err != nil {
		return nil, err
	}

	store := auth.NewStore(repositories.NewCredentialRepository(db, repositories.ProviderSpotify), r.logger)
	if err := store.Restore(ctx); err != nil {
		return nil, err
	}

	flow, err := auth.NewFlow(r.config.Credentials.Spotify, store, auth.Options{
		HTTPClient:      r.httpClient,
		Logger:          r.logger,
		Now:             r.now,
		NetworkAttempts: r.config.Playback.NetworkAttempts,
		NetworkBackoff:  r.config.Playback.NetworkBackoff.Duration,
	})
	if err != nil {
		return nil, err
	}

	r.flow = flow
	return flow, nil
}

func (r *Runner) spotifyService() *services.SpotifyService {
	if r.spotify == nil {
		r.spotify = services.NewSpotifyService(
			r.config.Credentials.Spotify.APIBaseURL, r.httpClient, r.config.Playback.RequestTimeout.Duration,
		)
	}
	return r.spotify
}

func (r *Runner) playbackCommander(ctx context.Context) (*playback.Commander, error) {
	if r.commander != nil {
		return r.commander, nil
	}

	flow, err := r.authFlow(ctx)
	if err != nil {
		return nil, err
	}

	spotify := r.spotifyService()
	pb := r.config.Playback
	devices := playback.NewDeviceController(spotify, r.config.Device, playback.DeviceOptions{
		Attempts: pb.ActivationAttempts,
		Interval: pb.ActivationInterval.Duration,
		Logger:   r.logger,
	})

	r.commander = playback.NewCommander(spotify, flow, devices, playback.Options{
		NetworkAttempts: pb.NetworkAttempts,
		NetworkBackoff:  pb.NetworkBackoff.Duration,
		Logger:          r.logger,
	})
	return r.commander, nil
}

// cardLoader reads card pages over plain HTTP. creds may be nil, in which case missing metadata stays empty.
func (r *Runner) cardLoader(creds cards.CredentialSource) *cards.Loader {
	pages := services.NewAPIService(r.config.Scanner.BaseURL, r.httpClient)
	if creds == nil {
		return cards.NewLoader(pages, nil, nil, r.logger)
	}
	return cards.NewLoader(pages, r.spotifyService(), creds, r.logger)
}

func (r *Runner) rounds() (*repositories.RoundRepository, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	return repositories.NewRoundRepository(db), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
