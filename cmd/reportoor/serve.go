package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/reportoor/pkg/api"
	"github.com/ethpandaops/reportoor/pkg/archive"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/provider"
	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reportoor HTTP server",
	Long: `Start the HTTP server that accepts queries, tracks background
generation runs, and serves the status, stream, edit, and rollback
endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// A .env file in the working directory is optional; the process
	// environment always wins.
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if !cmd.Flags().Changed("log-level") {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}

		log.SetLevel(level)
	}

	if dump, err := cfg.Dump(); err == nil {
		log.WithField("config", "\n"+dump).Debug("Effective configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := buildStore(ctx, cfg)

	var archiver archive.Archiver
	if cfg.Archive != nil && cfg.Archive.Enabled {
		archiver = archive.NewS3Archiver(log, &cfg.Archive.S3)
	}

	// Bring the backends up in parallel; a failed archiver preflight
	// only disables archival, it never blocks serving.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return startStoreWithFallback(gctx, cfg, &st)
	})

	if archiver != nil {
		g.Go(func() error {
			if err := archiver.Preflight(gctx); err != nil {
				log.WithError(err).Warn("Archive preflight failed; archival disabled")
				archiver = nil
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("starting backends: %w", err)
	}

	pc := provider.NewClient(log, &cfg.Provider)

	srv := api.NewServer(log, cfg, st, pc, archiver)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	if err := st.Stop(); err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	return nil
}

// buildStore selects the durable store when a database is configured
// and the in-memory store otherwise.
func buildStore(_ context.Context, cfg *config.Config) store.Store {
	if cfg.Database.Driver == "" {
		log.Info("No database configured; using in-memory store")

		return store.NewMemoryStore(log)
	}

	return store.NewStore(log, &cfg.Database)
}

// startStoreWithFallback starts the selected store. If the durable
// backend is unreachable it degrades to the in-memory store rather
// than refusing to serve: availability over durability for this tool.
func startStoreWithFallback(
	ctx context.Context, cfg *config.Config, st *store.Store,
) error {
	err := (*st).Start(ctx)
	if err == nil {
		return nil
	}

	if cfg.Database.Driver == "" {
		// The memory store has no failure modes worth degrading past.
		return err
	}

	log.WithError(err).
		Warn("Durable store unavailable; falling back to in-memory store")

	mem := store.NewMemoryStore(log)
	if err := mem.Start(ctx); err != nil {
		return err
	}

	*st = mem

	return nil
}
