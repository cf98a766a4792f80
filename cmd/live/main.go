// Package main runs the live mempool service: it follows the explorer push
// feed, reconciles the mempool snapshot, enriches new transactions and
// serves them to renderers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ergo-live/internal/api"
	"ergo-live/internal/assets"
	"ergo-live/internal/boxcache"
	"ergo-live/internal/config"
	"ergo-live/internal/ergo"
	"ergo-live/internal/explorer"
	"ergo-live/internal/feeder"
	"ergo-live/internal/labelstats"
	"ergo-live/internal/logging"
	"ergo-live/internal/mempool"
	"ergo-live/internal/notify"
	"ergo-live/internal/presentation"
	"ergo-live/internal/storage"
	chstore "ergo-live/internal/storage/clickhouse"
	"ergo-live/internal/storage/memory"
	"ergo-live/internal/storage/migrations"
	pgstore "ergo-live/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("ERGO_LIVE_CONFIG"), "YAML config file")
	initPath := flag.String("init", "", "write the default config to this path and exit")
	apiURL := flag.String("api-url", os.Getenv("ERGO_API_URL"), "Explorer REST API base URL")
	socketURL := flag.String("socket-url", os.Getenv("ERGO_SOCKET_URL"), "Explorer push feed URL")
	network := flag.String("network", os.Getenv("ERGO_NETWORK"), "mainnet or testnet")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (token metadata)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (label metrics)")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the delivery sink")
	httpAddr := flag.String("http-addr", os.Getenv("HTTP_ADDR"), "Renderer API listen address")
	logLevel := flag.String("log-level", os.Getenv("LOG_LEVEL"), "debug, info, warn or error")
	flag.Parse()

	if *initPath != "" {
		if err := config.Save(config.Default(), *initPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default config written to %s\n", *initPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	override(&cfg.Explorer.APIURL, *apiURL)
	override(&cfg.Explorer.SocketURL, *socketURL)
	override(&cfg.Network, *network)
	override(&cfg.Storage.PostgresDSN, *postgresDSN)
	override(&cfg.Storage.ClickHouseDSN, *clickhouseDSN)
	override(&cfg.Redis.Addr, *redisAddr)
	override(&cfg.HTTP.Addr, *httpAddr)
	override(&cfg.Logger.Level, *logLevel)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logger, "ergo-live")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.Stringer("signal", sig))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	close(done)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("service error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// run wires every component and blocks until ctx is cancelled or one of
// them fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	net, err := ergo.ParseNetwork(cfg.Network)
	if err != nil {
		return err
	}
	codec := ergo.NewCodec(net)

	stores, cleanup, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	// Explorer access
	clientOpts := []explorer.ClientOption{
		explorer.WithTimeout(cfg.Explorer.Timeout),
		explorer.WithMaxRetries(cfg.Explorer.MaxRetries),
		explorer.WithRetryDelay(cfg.Explorer.RetryDelay),
		explorer.WithMaxDelay(cfg.Explorer.MaxDelay),
	}
	if cfg.Explorer.TokensURL != "" {
		clientOpts = append(clientOpts, explorer.WithTokensURL(cfg.Explorer.TokensURL))
	}
	client := explorer.NewClient(cfg.Explorer.APIURL, clientOpts...)

	feedCfg := explorer.DefaultFeedConfig()
	if cfg.Explorer.ReconnectDelay > 0 {
		feedCfg.ReconnectDelay = cfg.Explorer.ReconnectDelay
	}
	if cfg.Explorer.MaxReconnectDelay > 0 {
		feedCfg.MaxReconnectDelay = cfg.Explorer.MaxReconnectDelay
	}
	feed, err := explorer.NewFeed(cfg.Explorer.SocketURL, &feedCfg, logger)
	if err != nil {
		return fmt.Errorf("create push feed: %w", err)
	}

	// Caches and reconciliation
	boxes := boxcache.New(client, codec, boxcache.Options{
		Concurrency: cfg.Reconciler.Concurrency,
		Logger:      logger,
	})
	tokens := assets.New(client, assets.Options{Store: stores.tokens, Logger: logger})
	reconciler := mempool.NewReconciler(boxes, tokens, mempool.Options{
		Codec:         codec,
		Blocks:        client,
		PruneInterval: cfg.Reconciler.PruneInterval,
		Logger:        logger,
	})

	// Presentation
	var speech *notify.SpeechQueue
	if cfg.Speech.Enabled {
		speech = notify.NewSpeechQueue(notify.LogSpeaker{Logger: logger}, cfg.Speech.Gap, logger)
	}
	announcer := notify.NewAnnouncer(notify.LogPlayer{Logger: logger}, speech, logger)

	labels := labelstats.New(stores.labels, labelstats.Options{
		FlushInterval: cfg.Storage.FlushInterval,
		Logger:        logger,
	})
	if err := labels.Load(ctx); err != nil {
		logger.Warn("could not restore today's label metrics", zap.Error(err))
	}

	queue := presentation.NewQueue(presentation.Options{
		Delay:        cfg.Presentation.Delay,
		MaxDisplayed: cfg.Presentation.MaxDisplayed,
		Buffer:       cfg.Presentation.Buffer,
		Sinks:        []presentation.Sink{labels},
		Announcer:    announcer,
		Logger:       logger,
	})

	server := api.New(api.Deps{
		Mempool: reconciler,
		Queue:   queue,
		Tokens:  tokens,
		Labels:  labels,
	}, logger)
	queue.AddSink(server.Hub())

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		queue.AddSink(notify.NewRedisSink(rdb, notify.RedisSinkConfig{
			Channel:   cfg.Redis.Channel,
			RecentKey: cfg.Redis.RecentKey,
			RecentLen: cfg.Redis.RecentLen,
			RecentTTL: cfg.Redis.RecentTTL,
		}))
		logger.Info("redis delivery sink enabled", zap.String("addr", cfg.Redis.Addr))
	}

	fd := feeder.New(reconciler, queue, tokens, classifier(cfg.Labels), logger)

	logger.Info("starting ergo-live",
		zap.String("network", cfg.Network),
		zap.String("api_url", cfg.Explorer.APIURL),
		zap.String("socket_url", cfg.Explorer.SocketURL),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx, feed.Events()) })
	g.Go(func() error { return fd.Run(gctx) })
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return labels.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, cfg.HTTP.Addr) })
	g.Go(func() error { return logDeliveries(gctx, queue.Deliveries(), logger) })
	if speech != nil {
		g.Go(func() error { return speech.Run(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serviceStores holds the storage backends.
type serviceStores struct {
	tokens storage.TokenStore
	labels storage.LabelMetricsStore
}

// createStores opens the configured databases, falling back to memory.
func createStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*serviceStores, func(), error) {
	stores := &serviceStores{
		tokens: memory.NewTokenStore(),
		labels: memory.NewLabelMetricsStore(),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.tokens = pgstore.NewTokenStore(pool)
		logger.Info("token metadata persisted in postgres")
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.labels = chstore.NewLabelMetricsStore(conn)
		logger.Info("label metrics persisted in clickhouse")
	}

	return stores, cleanup, nil
}

// classifier builds the feeder classifier from validated label config.
func classifier(cfg config.LabelsConfig) *feeder.Classifier {
	rules := make([]feeder.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, feeder.Rule{
			Address: r.Address,
			Label:   r.Label,
			Sound:   presentation.SoundType(r.Sound),
			Style:   r.Style,
		})
	}
	return feeder.NewClassifier(rules, cfg.TinyThreshold, presentation.SoundType(cfg.DefaultSound))
}

// logDeliveries drains the delivery channel, logging what is displayed.
func logDeliveries(ctx context.Context, deliveries <-chan presentation.Delivery, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-deliveries:
			logger.Info("displayed",
				zap.Uint64("seq", d.Seq),
				zap.String("tx_id", d.ID()),
				zap.String("label", d.Label),
				zap.String("sound", string(d.Sound)),
				zap.Int("transfers", len(d.Transfers)),
			)
		}
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// loadEnvFile loads KEY=VALUE pairs from .env without overriding the environment.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
