// quotad is the disk-space quota accounting daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/catalog"
	"github.com/xtxerr/quotad/internal/enforce"
	"github.com/xtxerr/quotad/internal/history"
	"github.com/xtxerr/quotad/internal/loader"
	"github.com/xtxerr/quotad/internal/logging"
	"github.com/xtxerr/quotad/internal/model"
	"github.com/xtxerr/quotad/internal/registry"
	"github.com/xtxerr/quotad/internal/server"
	"github.com/xtxerr/quotad/internal/stats"
	"github.com/xtxerr/quotad/internal/worker"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("main")

func main() {
	if err := run(); err != nil {
		log.Error("quotad failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "quotad.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	root := flag.String("root", "", "storage root directory (overrides config)")
	dbPath := flag.String("db", "", "catalog database path (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	// Load config; a missing file is fine, defaults apply.
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = loader.DefaultConfig()
		} else {
			return fmt.Errorf("load config: %w", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *dbPath != "" {
		cfg.Catalog.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := loader.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	log.Info("quotad starting", "version", Version, "root", cfg.Root, "listen", cfg.Listen)

	// =========================================================================
	// Catalog (DuckDB - ownership and quota configuration)
	// =========================================================================

	cat, err := catalog.Open(catalog.Config{
		DSN:          cfg.Catalog.Path,
		MaxOpenConns: cfg.Catalog.MaxOpenConns,
		QueryTimeout: time.Duration(cfg.Catalog.QueryTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	// =========================================================================
	// Aggregate table and usage history
	// =========================================================================

	reg := registry.New(cfg.Registry.MaxEntries)

	var sink *history.Sink
	if cfg.History.Enabled {
		sink, err = history.NewSink(history.DefaultOptions(cfg.History.Dir))
		if err != nil {
			return fmt.Errorf("open usage history: %w", err)
		}
		defer sink.Close()
		log.Info("usage history enabled", "dir", cfg.History.Dir)
	}

	// =========================================================================
	// Workers, one per partition plus the shared partition
	// =========================================================================

	partitions := append([]string{config.SharedPartition}, cfg.Partitions...)
	workers := make([]*worker.Worker, 0, len(partitions))
	recorders := make(map[string]*stats.Recorder, len(partitions))

	for _, partition := range partitions {
		w := worker.New(worker.Options{
			Partition:  partition,
			Root:       cfg.Root,
			Naptime:    time.Duration(cfg.NaptimeSeconds) * time.Second,
			MinUnitID:  model.UnitID(cfg.Scan.MinUnitID),
			YieldEvery: cfg.Scan.YieldEvery,
			History:    sink,
		}, reg, cat, cat)
		workers = append(workers, w)
		recorders[partition] = w.Stats()
	}

	checker := enforce.NewChecker(reg, cat)
	srv := server.New(server.Config{
		Listen:          cfg.Listen,
		ShutdownTimeout: config.DefaultShutdownTimeout,
	}, reg, checker, recorders, cat.Health)

	// =========================================================================
	// Run until SIGINT/SIGTERM; SIGHUP forces an immediate cycle
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		g.Go(func() error {
			err := w.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return srv.Run(ctx)
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				log.Info("reload requested, waking workers")
				for _, w := range workers {
					w.Wake()
				}
			}
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("quotad stopped")
	return nil
}
