package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/server"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired invite codes, sessions and email confirmations once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := setup()
			if err != nil {
				return err
			}
			defer db.Close()

			srv := server.New(db, serverConfig(cfg), metrics.NewRegistry(), logger)
			rep := srv.Cleaner().RunOnce(context.Background())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d invite codes, %d sessions, %d email confirmations\n",
				rep.InviteCodes, rep.Sessions, rep.Confirmations)
			return nil
		},
	}
}
