package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{
		ConfigPath: "config.toml",
		Logger:     logger,
	})
	defer runner.Close()

	app := &cli.Command{
		Name:    "qrdeck",
		Usage:   "Scan music cards and play them on your Spotify speaker",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := runner.LoadConfig(cmd.String("config")); err != nil {
				return ctx, err
			}
			if cmd.Bool("verbose") {
				runner.logger.SetLevel(log.DebugLevel)
			}
			return ctx, nil
		},
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented")
			return
		default:
			logger.Error("application error", "error", err)
			if msg := shared.UserMessage(err); msg != "" {
				logger.Info(msg)
			}
			runner.Close()
			os.Exit(1)
		}
	}
}
