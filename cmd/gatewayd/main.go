// Command gatewayd launches the perpgate venue gateway daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	dbmigrations "github.com/perpgate/perpgate/db/migrations"
	"github.com/perpgate/perpgate/gateway"
	"github.com/perpgate/perpgate/internal/config"
	"github.com/perpgate/perpgate/internal/journal"
	"github.com/perpgate/perpgate/internal/journal/migrations"
	journalpg "github.com/perpgate/perpgate/internal/journal/postgres"
	"github.com/perpgate/perpgate/internal/observability"
	"github.com/perpgate/perpgate/internal/schema"
	"github.com/perpgate/perpgate/internal/telemetry"
	"github.com/perpgate/perpgate/internal/venues/binancef"
)

const (
	defaultConfigPath        = "config/gateway.yaml"
	initTimeout              = 60 * time.Second
	shutdownTimeout          = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to the gateway configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "gatewayd ", log.LstdFlags)
	observability.SetLogger(observability.NewStd(logger))
	slog := observability.Log()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if len(cfg.Venues) == 0 {
		return fmt.Errorf("no venues configured in %s", *configPath)
	}
	slog.Info("configuration loaded",
		observability.F("path", *configPath),
		observability.F("venues", len(cfg.Venues)))

	telemetryProvider, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", observability.F("error", err))
		}
	}()
	metrics, err := telemetry.NewMetrics(telemetryProvider.Meter("perpgate"), telemetryProvider.Environment())
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var recorder journal.Recorder = journal.Nop{}
	if cfg.Journal.Enabled {
		if err := migrations.ApplyEmbedded(ctx, cfg.Journal.DSN, dbmigrations.Files, logger); err != nil {
			return fmt.Errorf("apply journal migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("open journal pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping journal database: %w", err)
		}
		recorder = journalpg.NewStore(pool)
		slog.Info("order journal enabled")
	}

	gateways := make([]gateway.Gateway, 0, len(cfg.Venues))
	for _, venueCfg := range cfg.Venues {
		if venueCfg.Name != binancef.Venue {
			return fmt.Errorf("unknown venue %q", venueCfg.Name)
		}
		gw := binancef.New(binancef.Options{
			Config:  venueCfg,
			Metrics: metrics,
			Journal: recorder,
		})
		gateways = append(gateways, gw)
	}

	var lifecycle conc.WaitGroup
	for _, gw := range gateways {
		lifecycle.Go(func() {
			initCtx, cancel := context.WithTimeout(ctx, initTimeout)
			defer cancel()
			for _, symbol := range symbolsFor(cfg, gw.Name()) {
				// Held for process lifetime; released by gateway Close.
				_, err := gw.WatchDepth(initCtx, symbol, func(schema.Depth) {})
				if err != nil {
					slog.Error("initial depth subscription failed",
						observability.F("venue", gw.Name()),
						observability.F("symbol", symbol),
						observability.F("error", err))
				}
			}
			slog.Info("gateway started",
				observability.F("venue", gw.Name()),
				observability.F("status", string(gw.Status())))
		})
	}
	lifecycle.Wait()

	slog.Info("gatewayd running; awaiting shutdown signal")
	<-ctx.Done()
	slog.Info("shutdown signal received")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, gw := range gateways {
			if err := gw.Close(); err != nil {
				slog.Error("gateway close failed",
					observability.F("venue", gw.Name()),
					observability.F("error", err))
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		slog.Error("graceful shutdown timed out")
	}
	return nil
}

func symbolsFor(cfg config.Config, venue string) []string {
	venueCfg, ok := cfg.Venue(venue)
	if !ok {
		return nil
	}
	return venueCfg.Symbols
}
