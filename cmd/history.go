package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/skywisej/qr-music-card-maker/internal/formatter"
)

// History prints or exports recorded rounds.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	repo, err := r.rounds()
	if err != nil {
		return err
	}

	rounds, err := repo.List(map[string]any{
		"state": cmd.String("state"),
		"limit": cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteExport(rounds, format, path); err != nil {
			return err
		}
		r.logger.Info("history exported", "path", path, "format", format, "rounds", len(rounds))
		return r.writePlain("✓ Exported %d rounds to %s\n", len(rounds), path)
	}

	data, err := formatter.Export(rounds, format)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
