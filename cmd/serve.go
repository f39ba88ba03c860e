package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/matcher"
	"github.com/kozaktomas/clone-finder/internal/metrics"
	"github.com/kozaktomas/clone-finder/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Clone Finder HTTP API.

The server answers searches from the backend selected by SEARCH_BACKEND
(inmemory or ondisk), exposes corpus stats, rebuilds the index on request
and publishes Prometheus metrics on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8085, "Port to listen on (overrides PORT)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("backend", "inmemory", "Search backend: inmemory or ondisk (overrides SEARCH_BACKEND)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	cfg.Server.Port = intOverride(cmd, "port", cfg.Server.Port)
	cfg.Server.Host = stringOverride(cmd, "host", cfg.Server.Host)
	cfg.Search.Backend = stringOverride(cmd, "backend", cfg.Search.Backend)
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var detector facedetect.Detector
	if d, err := facedetect.New(cfg.Detector); err != nil {
		logger.Warn("face detector unavailable, image searches are disabled", "error", err)
	} else {
		detector = facedetect.Instrument(d, m)
	}

	opts, err := indexOptions(cmd, cfg)
	if err != nil {
		return err
	}
	svc, err := matcher.NewService(ctx, store, matcher.ServiceConfig{
		Backend:   cfg.Search.Backend,
		IndexPath: cfg.Index.Path,
		Index:     opts,
		CacheSize: cfg.Search.CacheSize,
	}, logger, m)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, web.Deps{
		Store:    store,
		Search:   svc,
		Detector: detector,
		Gatherer: registry,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	fmt.Printf("Starting Clone Finder API on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	return g.Wait()
}
