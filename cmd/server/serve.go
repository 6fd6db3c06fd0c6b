package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienbonastre/ebay-listing-publisher/internal/database"
	"github.com/julienbonastre/ebay-listing-publisher/internal/handlers"
	"github.com/spf13/cobra"
)

const sessionCleanupInterval = 10 * time.Minute

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionStore, dbSessions := a.sessionStore()
	deps := handlers.Dependencies{
		Orchestrator:  a.orchestrator,
		Cipher:        a.cipher,
		EbayClient:    a.client,
		Publisher:     a.publisher,
		Searcher:      a.client,
		Sessions:      sessionStore,
		Metrics:       a.metrics.Handler(),
		SecureCookies: a.cfg.App.Production(),
		Logger:        a.logger,
	}
	if a.history != nil {
		deps.History = a.history
	}
	router := handlers.NewRouter(handlers.NewHandler(deps), a.cfg.CORSOrigins)

	if dbSessions != nil {
		go cleanupSessions(ctx, a, dbSessions)
	}

	port := a.cfg.App.Port
	if servePort != "" {
		port = servePort
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("Starting eBay listing publisher")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cleanupSessions(ctx context.Context, a *app, store *database.StateStore) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PurgeExpired(ctx)
			if err != nil {
				a.logger.Warn().Err(err).Msg("Session cleanup failed")
				continue
			}
			if removed > 0 {
				a.logger.Debug().Int64("removed", removed).Msg("Expired OAuth states removed")
			}
		}
	}
}
