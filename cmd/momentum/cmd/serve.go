package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"momentum/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the journal over a read-only HTTP API",
	Long: `Serve persisted intraday records, orders and decisions as JSON:

  GET /api/dates
  GET /api/bars/{date}?code=069500
  GET /api/orders/{date}
  GET /api/signals?limit=20`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8081", "listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	st, err := newStack(cfg, "offline")
	if err != nil {
		return err
	}
	defer st.Close()

	logger := slog.Default()
	httpServer := &http.Server{
		Addr:    serveAddr,
		Handler: httpapi.NewJournalServer(st.bars, st.db, st.db).Handler(),
	}

	ctx := cmd.Context()
	errc := make(chan error, 1)
	go func() {
		logger.Info("journal server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down journal server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
