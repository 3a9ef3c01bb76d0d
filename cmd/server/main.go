package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/geopublish/internal/config"
	"github.com/JonMunkholm/geopublish/internal/core"
	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/logging"
	"github.com/JonMunkholm/geopublish/internal/spatial"
	"github.com/JonMunkholm/geopublish/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Values already in the environment win over .env.
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	logger := slog.Default()
	inspector := spatial.NewInspector(logger)

	pubOpts := []geoserver.Option{
		geoserver.WithTimeout(cfg.GeoServer.Timeout),
		geoserver.WithRetries(cfg.GeoServer.Retries),
	}
	target := cfg.PublishTarget("")

	gateways := core.GatewaySettings{
		Params:           cfg.ConnectionParams(),
		Reader:           inspector,
		Target:           target,
		BatchSize:        cfg.Batch.ImportBatchSize,
		Logger:           logger,
		PublisherOptions: pubOpts,
	}

	runs, err := core.NewService(
		core.NewGatewayFactory(gateways),
		core.ServiceConfig{
			Target:        target,
			StoreParams:   cfg.StoreParams(),
			Schema:        cfg.Database.Schema,
			Overwrite:     cfg.Batch.Overwrite,
			TargetCRS:     cfg.Batch.TargetCRS,
			RunTimeout:    cfg.Batch.RunTimeout,
			MaxConcurrent: cfg.Batch.MaxConcurrentRuns,
			SlotWait:      cfg.Batch.SlotWait,
			Retention:     cfg.Batch.Retention,
			Logger:        logger,
		},
	)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, web.Deps{
		Runs:      runs,
		Catalog:   web.PostGISCatalog(cfg.ConnectionParams(), inspector, logger),
		MapServer: geoserver.NewForTarget(target, append(pubOpts, geoserver.WithLogger(logger))...),
		Inspector: inspector,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let active runs finish their current item, then stop them.
		if status := runs.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
			if err := runs.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("runs did not complete in time, cancelling", "error", err)
				runs.CancelAll()
			} else {
				slog.Info("all runs completed")
			}
		}

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("server stopped")
	return nil
}
