package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/choreboard/internal/config"
	"github.com/dukerupert/choreboard/internal/email"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/server"
)

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides CHOREBOARD_PORT)")
	return cmd
}

func serverConfig(cfg *config.Config) server.Config {
	sc := server.Config{
		InviteValidity:  cfg.InviteValidity,
		CleanupInterval: cfg.CleanupEvery,
	}
	if mailer := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL); mailer.Configured() {
		sc.Mailer = mailer
	}
	return sc
}

func runServe(port string) error {
	cfg, logger, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()
	if port != "" {
		cfg.Port = port
	}

	sc := serverConfig(cfg)
	if sc.Mailer == nil {
		logger.Warn("CHOREBOARD_POSTMARK_TOKEN not set, confirmation emails disabled")
	}
	srv := server.New(db, sc, metrics.NewRegistry(), logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	cleaner := srv.Cleaner()
	cleaner.Start(context.Background())
	defer cleaner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("choreboard starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-quit:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
