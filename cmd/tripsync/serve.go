package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fleetops/tripsync/internal/api"
	"github.com/fleetops/tripsync/internal/engine"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync engine over HTTP",
		Long: `Start an HTTP server exposing single-trip sync, bulk job creation, and
job progress polling. Bulk jobs run in-process; their state is lost when
the server stops.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().Int("workers", 0, "Worker pool size for bulk jobs (default 8, max 32)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	workers, _ := cmd.Flags().GetInt("workers")
	ctx := cmd.Context()

	if v := viper.GetString("server.addr"); v != "" && !cmd.Flags().Changed("addr") {
		addr = v
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	orch, err := initOrchestrator(store)
	if err != nil {
		return err
	}
	tracker := engine.NewTracker(orch, workers)

	router := api.SetupRouter(api.NewHandler(store, orch, tracker))

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
