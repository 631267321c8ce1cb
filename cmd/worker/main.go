// Package main runs the indexing worker: the backfill job consumers, the
// change-data-capture consumer and the health server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chain-indexer/internal/api"
	"github.com/chain-indexer/internal/attribution"
	"github.com/chain-indexer/internal/backfill"
	"github.com/chain-indexer/internal/cdc"
	"github.com/chain-indexer/internal/circuitbreaker"
	"github.com/chain-indexer/internal/config"
	"github.com/chain-indexer/internal/fetcher"
	"github.com/chain-indexer/internal/logging"
	"github.com/chain-indexer/internal/queue"
	"github.com/chain-indexer/internal/ratelimit"
	"github.com/chain-indexer/internal/retry"
	"github.com/chain-indexer/internal/storage"
)

type options struct {
	NoCDC                 bool `long:"no-cdc" description:"do not consume the change log"`
	NoQueues              bool `long:"no-queues" description:"do not consume backfill queues"`
	StartActivityBackfill bool `long:"start-activity-backfill" description:"enqueue a rebuild of the activity records on startup"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logging.SetGlobal(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) error {
	pg, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	ch, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	rc, err := storage.NewRedisClient(ctx, &cfg.Database.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	pool, err := fetcher.NewEndpointPool(ctx, fetcher.PoolConfig{Endpoints: fetcher.SplitEndpoints(cfg.RPC.URL)}, logger)
	if err != nil {
		return fmt.Errorf("connect to rpc: %w", err)
	}
	defer pool.Close()

	var caller fetcher.Caller = pool
	if cfg.RPC.BreakerFailures > 0 {
		caller = fetcher.NewBreakerCaller(pool, &circuitbreaker.Config{
			Name:             "rpc",
			MaxFailures:      cfg.RPC.BreakerFailures,
			FailureThreshold: 1,
			Timeout:          cfg.RPC.BreakerTimeout,
			HalfOpenMaxCalls: 3,
		}, logger)
	}

	tracer, err := fetcher.NewTracer(cfg.RPC.TraceStrategy)
	if err != nil {
		return err
	}
	caps := fetcher.ProbeCapabilities(ctx, caller, tracer, logger)

	backfillLimiter, liveLimiter, err := newLimiters(cfg, rc.Client(), logger)
	if err != nil {
		return err
	}
	newFetcher := func(limiter fetcher.Limiter) *fetcher.Fetcher {
		return fetcher.New(caller, caps, logger, fetcher.Options{
			Retry:   retry.FixedRetryConfig(cfg.RPC.MaxAttempts, cfg.RPC.RetryDelay),
			FanOut:  cfg.RPC.FanOut,
			Limiter: limiter,
			Tracer:  tracer,
		})
	}

	txs := storage.NewTransactionRepository(pg.Pool())
	contracts := storage.NewContractAddressRepository(pg.Pool())
	activities := storage.NewActivityRepository(ch)

	broker := newBroker(cfg, rc.Client(), logger)
	defer func() { _ = broker.Close() }()

	g, gctx := errgroup.WithContext(ctx)

	server := api.NewServer(api.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.Port}, logger, pg, ch, rc)
	g.Go(func() error { return server.Run(gctx) })

	if !opts.NoQueues {
		runner, activityHandler, err := newRunner(cfg, broker, rc.Client(), newFetcher(backfillLimiter), backfill.Stores{
			Transactions: txs,
			Contracts:    contracts,
			Activities:   activities,
		}, txs, logger)
		if err != nil {
			return err
		}
		if opts.StartActivityBackfill {
			if err := activityHandler.Start(ctx); err != nil {
				return fmt.Errorf("start activity backfill: %w", err)
			}
		}
		g.Go(func() error { return runner.Run(gctx) })
	}

	if cfg.CDC.Enabled && !opts.NoCDC {
		consumer, err := newConsumer(ctx, cfg, pg, rc.Client(), txs, newFetcher(liveLimiter), logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	logger.Info("worker started",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Bool("cdc", cfg.CDC.Enabled && !opts.NoCDC),
		zap.Bool("queues", !opts.NoQueues))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newLimiters returns the limiters of backfill calls and of live replication
// calls. With a shared budget the live calls draw from the reserved pool.
func newLimiters(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (fetcher.Limiter, fetcher.Limiter, error) {
	if !cfg.RPC.SharedBudget {
		local := ratelimit.NewLocal(cfg.RPC.RequestsPerSecond, cfg.RPC.FanOut)
		return local, local, nil
	}

	tracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
		Redis:          rdb,
		TotalBudget:    cfg.RateLimit.TotalCUPerSecond,
		ReservedBudget: cfg.RateLimit.ReservedCU,
		WindowSize:     cfg.RateLimit.WindowSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("budget tracker: %w", err)
	}
	shared, err := ratelimit.NewShared(ratelimit.SharedConfig{
		Tracker:  tracker,
		Costs:    ratelimit.NewCostRegistry(nil),
		Priority: ratelimit.PriorityLow,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return shared, shared.WithPriority(ratelimit.PriorityHigh), nil
}

func newBroker(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) queue.Broker {
	if cfg.Queue.Backend == "memory" {
		logger.Warn("using the in-memory job broker; jobs do not survive a restart")
		return queue.NewMemoryBroker(logger)
	}
	redisCfg := cfg.Database.Redis
	return queue.NewAsynqBroker(asynq.RedisClientOpt{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
		PoolSize: redisCfg.MaxConnections,
	}, rdb, logger)
}

func newRunner(
	cfg *config.Config,
	broker queue.Broker,
	rdb redis.UniversalClient,
	f *fetcher.Fetcher,
	stores backfill.Stores,
	pager backfill.TransactionPager,
	logger *zap.Logger,
) (*queue.Runner, *backfill.ActivityHandler, error) {
	cursors := backfill.NewCursorStore(rdb)
	blockCfg := backfill.BlockConfig(cfg.Queue)
	activityHandler := backfill.NewActivityHandler(broker, pager, stores.Activities, rdb, cfg.Backfill, logger)

	runner := queue.NewRunner(broker, logger)
	for _, h := range []queue.Handler{
		backfill.NewRangeHandler(backfill.RangeConfig(cfg.Queue), broker, blockCfg, cursors, cfg.Backfill, logger),
		backfill.NewBlockHandler(blockCfg, f, stores, cursors, logger),
		activityHandler,
	} {
		if err := runner.Register(h); err != nil {
			return nil, nil, err
		}
	}
	return runner, activityHandler, nil
}

func newConsumer(
	ctx context.Context,
	cfg *config.Config,
	pg *storage.PostgresDB,
	rdb redis.UniversalClient,
	txs *storage.TransactionRepository,
	f *fetcher.Fetcher,
	logger *zap.Logger,
) (*cdc.Consumer, error) {
	sources := storage.NewSourceRepository(pg.Pool())
	if err := sources.Load(ctx); err != nil {
		logger.Warn("failed to preload sources", zap.Error(err))
	}
	routers := storage.NewRouterRepository(pg.Pool())
	orders := storage.NewOrderSourceRepository(pg.Pool(), sources)

	attributor := attribution.New(
		attribution.NewStoredThenChain(txs, f, logger),
		sources, routers, orders, logger,
		attribution.WithNonceCache(attribution.NewNonceCache(f, attribution.DefaultNonceCacheSize)),
	)
	enrich := cdc.WithEnricher(attribution.NewFillEnricher(attributor))

	publisher := cdc.NewRedisPublisher(rdb)
	handlers := filterHandlers([]cdc.TopicHandler{
		cdc.NewFillEventsHandler(cfg.CDC.EventsChannel, publisher, logger, enrich),
		cdc.NewNftApprovalsHandler(cfg.CDC.EventsChannel, publisher, logger),
	}, cfg.CDC.Topics)

	log := cdc.NewStreamLog(rdb, cdc.StreamLogConfig{
		Group:    cfg.CDC.Group,
		Consumer: cfg.CDC.Consumer,
		Block:    cfg.CDC.ReadBlock,
		Count:    cfg.CDC.ReadCount,
	}, logger)
	return cdc.NewConsumer(log, handlers, cdc.ConsumerOptions{
		MaxRetries:           cfg.CDC.MaxRetries,
		PartitionConcurrency: cfg.CDC.PartitionConcurrency,
	}, logger)
}

// filterHandlers keeps the handlers of topics; no topics keeps all
func filterHandlers(handlers []cdc.TopicHandler, topics []string) []cdc.TopicHandler {
	if len(topics) == 0 {
		return handlers
	}
	enabled := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		enabled[t] = struct{}{}
	}
	var out []cdc.TopicHandler
	for _, h := range handlers {
		if _, ok := enabled[h.Topic()]; ok {
			out = append(out, h)
		}
	}
	return out
}
