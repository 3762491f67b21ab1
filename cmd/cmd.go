// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// setupCommand creates the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml from the template, create the database and run migrations",
		Action: r.Setup,
	}
}

// authCommand handles the Spotify authorization.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the Spotify login",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in with Spotify in the browser (PKCE, no client secret)",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser redirect",
						Value: 5 * time.Minute,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening it",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored credential",
				Action: r.AuthLogout,
			},
			{
				Name:  "status",
				Usage: "Show the login state and the account's product (premium is required to play)",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

// devicesCommand lists Spotify Connect devices.
func devicesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List playback devices",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ensure",
				Usage: "Activate the configured device when nothing is active",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Devices,
	}
}

// playCommand plays one card without revealing it.
func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "Play a card from its QR payload, page URL or track URI",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "payload"},
		},
		Action: r.Play,
	}
}

func pauseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "pause",
		Usage:  "Pause playback on the configured device",
		Action: r.Pause,
	}
}

func resumeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "resume",
		Usage:  "Resume playback on the configured device",
		Action: r.Resume,
	}
}

// scanCommand runs the game loop.
func scanCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "scan",
		Aliases: []string{"game"},
		Usage:   "Scan cards and tap to play and reveal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Watch a directory for camera frames (defaults to scanner.watch_dir)",
			},
			&cli.StringSliceFlag{
				Name:  "image",
				Usage: "Decode these image files in order",
			},
			&cli.BoolFlag{
				Name:  "relay",
				Usage: "Send plays to the host over the relay instead of playing here",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Line mode even on a terminal",
			},
		},
		Action: r.Scan,
	}
}

// hostCommand executes relayed requests.
func hostCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "host",
		Usage:  "Play cards published by other devices on the relay channel",
		Action: r.Host,
	}
}

// relayCommand handles the realtime channel.
func relayCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Relay hub for host-only mode",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the relay hub over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (defaults to server.host:server.port)",
					},
				},
				Action: r.RelayServe,
			},
			{
				Name:  "publish",
				Usage: "Ask the host to play a card",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "payload"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pause",
						Usage: "Ask the host to pause instead",
					},
				},
				Action: r.RelayPublish,
			},
		},
	}
}

// historyCommand exports past rounds.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List or export past rounds",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "csv, markdown, text or json",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to this file instead of stdout",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Only rounds in this state (hidden, playing, revealed, failed)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of rounds",
			},
		},
		Action: r.History,
	}
}
