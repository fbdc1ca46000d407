package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dukerupert/choreboard/internal/config"
	"github.com/dukerupert/choreboard/internal/database"
	"github.com/dukerupert/choreboard/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "choreboard",
		Short: "Shared household chore board",
		Long: `choreboard tracks household chores, points and rankings.

Configuration is read from CHOREBOARD_* environment variables and an
optional .env file in the working directory.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newCleanupCmd())
	return root
}

// setup loads configuration, configures logging and opens the database.
func setup() (*config.Config, *slog.Logger, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return cfg, logger, db, nil
}
