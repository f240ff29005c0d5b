// Command hived runs a single hivecache node: one worker (index 0) that
// serves the storage DB on the listen address, plus a snapshot engine.
// It starts no further workers and does not pin threads to CPUs; the
// --workers value only sizes the per-worker transaction counters. Flags
// follow a cobra root-command-with-persistent-flags convention, bound
// straight into a config struct.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"net/http"

	"github.com/hivecache/hivecache/internal/config"
	"github.com/hivecache/hivecache/internal/metrics"
	"github.com/hivecache/hivecache/internal/snapshot"
	"github.com/hivecache/hivecache/internal/storagedb"
	"github.com/hivecache/hivecache/internal/transaction"
	"github.com/hivecache/hivecache/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var metricsAddr string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "hived",
		Short: "hivecache server: an in-memory, snapshot-backed key/value cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, metricsAddr, logLevel)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of worker slots for transaction counters (one worker is started)")
	flags.Uint64Var(&cfg.MaxKeys, "max-keys", cfg.MaxKeys, "hash table capacity before next_pow2 rounding")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address the first worker listens on")
	flags.StringVar(&cfg.SnapshotPath, "snapshot-path", cfg.SnapshotPath, "RDB snapshot file path (empty disables snapshotting)")
	flags.IntVar(&cfg.SnapshotRotationMax, "snapshot-rotation-max", cfg.SnapshotRotationMax, "rotated snapshot generations to keep")
	flags.DurationVar(&cfg.SnapshotMinInterval, "snapshot-min-interval", cfg.SnapshotMinInterval, "minimum time between automatic snapshot runs")
	flags.StringVar(&metricsAddr, "metrics-listen", "127.0.0.1:9121", "Prometheus /metrics listen address")
	flags.StringVar(&logLevel, "log-level", "info", "zerolog level (debug, info, warn, error)")

	var policy string
	flags.StringVar(&policy, "eviction-policy", cfg.EvictionPolicy.String(), "eviction policy: random, lru, lfu, ttl")
	cobra.OnInitialize(func() { cfg.EvictionPolicy = parsePolicy(policy) })

	return cmd
}

func parsePolicy(s string) config.Policy {
	switch s {
	case "lru":
		return config.PolicyLRU
	case "lfu":
		return config.PolicyLFU
	case "ttl":
		return config.PolicyTTL
	default:
		return config.PolicyRandom
	}
}

func run(cfg *config.Config, metricsAddr, logLevel string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	const numDatabases = 16
	db := storagedb.New(*cfg, numDatabases)

	transaction.Init(cfg.Workers)
	w := worker.New(0, cfg, db, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx, cfg.ListenAddr); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	log.Info().Str("addr", cfg.ListenAddr).Msg("hived started")

	go serveMetrics(ctx, metricsAddr, reg, log)

	var eng *snapshot.Engine
	if cfg.SnapshotPath != "" {
		eng = snapshot.New(cfg, numDatabases)
		go snapshotLoop(ctx, eng, db, numDatabases, cfg.SnapshotMinInterval, log)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return w.Stop()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("metrics server stopped")
	}
}

func snapshotLoop(ctx context.Context, eng *snapshot.Engine, db *storagedb.DB, numDatabases int, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sources := make([]snapshot.Source, numDatabases)
	for i := range sources {
		sources[i] = db
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := eng.Run(sources)
			if err != nil {
				log.Warn().Err(err).Msg("snapshot run failed")
				continue
			}
			log.Info().Str("path", path).Msg("snapshot complete")
		}
	}
}
