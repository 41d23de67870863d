package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/dfsolve/internal/server"
	"github.com/cwbudde/dfsolve/internal/store"
)

var (
	serveAddr     string
	serveDataDir  string
	maxConcurrent int
	noArchive     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts the REST API for submitting solver jobs, polling their
progress and streaming it over SSE. Finished runs are archived under --data
unless --no-archive is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data", "./data", "Base directory for archived runs and traces")
	serveCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 4, "How many jobs may solve at once")
	serveCmd.Flags().BoolVar(&noArchive, "no-archive", false, "Keep jobs in memory only, without traces or archived runs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var st *store.FSStore
	if !noArchive {
		var err error
		st, err = store.NewFSStore(serveDataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
	}

	srv := server.NewServer(serveAddr, st, maxConcurrent)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	return nil
}
