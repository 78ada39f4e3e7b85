package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/subscriber-go/client"
	"github.com/0xmhha/subscriber-go/internal/config"
	"github.com/0xmhha/subscriber-go/internal/logger"
	"github.com/0xmhha/subscriber-go/storage"
	"github.com/0xmhha/subscriber-go/subscriber"
	"github.com/0xmhha/subscriber-go/subscription"
	"github.com/0xmhha/subscriber-go/types"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		algodURL    = flag.String("algod", "", "Algod node URL")
		indexerURL  = flag.String("indexer", "", "Indexer URL")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("subscriber-go version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *algodURL != "" {
		cfg.Algod.URL = *algodURL
	}
	if *indexerURL != "" {
		cfg.Indexer.URL = *indexerURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log, err := logger.NewWithConfig(&logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Format,
		Development: cfg.Log.Format == "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Subscriber failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := client.NewAlgodClient(cfg.Algod.URL, cfg.Algod.Token)
	if err != nil {
		return err
	}

	var indexerClient client.IndexerClient
	if cfg.Indexer.URL != "" {
		c, err := client.NewIndexerClient(cfg.Indexer.URL, cfg.Indexer.Token, cfg.Indexer.RequestsPerSecond)
		if err != nil {
			return err
		}
		indexerClient = c
	}

	store, err := storage.OpenWatermarkStore(cfg.Subscriber.WatermarkPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	filters, err := cfg.TransactionFilters()
	if err != nil {
		return err
	}

	sub, err := subscriber.New(subscriber.Config{
		Filters:                filters,
		SyncBehaviour:          subscription.SyncBehaviour(cfg.Subscriber.SyncBehaviour),
		MaxRoundsToSync:        cfg.Subscriber.MaxRoundsToSync,
		MaxIndexerRoundsToSync: cfg.Subscriber.MaxIndexerRoundsToSync,
		PollInterval:           cfg.Subscriber.PollInterval,
		WaitForBlockWhenAtTip:  cfg.Subscriber.WaitForBlockWhenAtTip,
	}, node, indexerClient, store, logger.WithComponent(log, "subscriber"))
	if err != nil {
		return err
	}

	for _, f := range filters {
		name := f.Name
		sub.OnBatch(name, func(ctx context.Context, txns []*types.SubscribedTransaction) error {
			log.Info("Matched transactions",
				zap.String("filter", name),
				zap.Int("count", len(txns)),
			)
			return nil
		})
	}
	sub.OnPoll(func(ctx context.Context, result *subscription.Result) error {
		log.Debug("Poll finished",
			zap.Uint64("synced_from", result.SyncedRoundRange[0]),
			zap.Uint64("synced_to", result.SyncedRoundRange[1]),
			zap.Uint64("new_watermark", result.NewWatermark),
		)
		return nil
	})

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr, log)
	}

	log.Info("Subscriber starting",
		zap.String("algod", cfg.Algod.URL),
		zap.String("sync_behaviour", cfg.Subscriber.SyncBehaviour),
		zap.Int("filters", len(filters)),
	)
	return sub.Run(ctx)
}

func serveMetrics(ctx context.Context, addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.Info("Metrics server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics server failed", zap.Error(err))
	}
}
