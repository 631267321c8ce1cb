// Package main enqueues a historical block range for the worker to sync.
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
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/backfill"
	"github.com/chain-indexer/internal/config"
	"github.com/chain-indexer/internal/logging"
	"github.com/chain-indexer/internal/queue"
	"github.com/chain-indexer/internal/storage"
)

type options struct {
	From             uint64 `long:"from" description:"first block of the range" required:"true"`
	To               uint64 `long:"to" description:"last block of the range" required:"true"`
	ChunkSize        uint64 `long:"chunk-size" description:"sync the range in resumable windows of this many blocks"`
	SkipPrimaryStore bool   `long:"skip-primary-store" description:"only rebuild the analytics records"`
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		if errors.Is(err, backfill.ErrInvalidRange) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Fatal("failed to enqueue backfill", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) error {
	if cfg.Queue.Backend != "redis" {
		return fmt.Errorf("queue backend %q cannot be reached from another process", cfg.Queue.Backend)
	}

	rc, err := storage.NewRedisClient(ctx, &cfg.Database.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	redisCfg := cfg.Database.Redis
	broker := queue.NewAsynqBroker(asynq.RedisClientOpt{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}, rc.Client(), logger)
	defer func() { _ = broker.Close() }()

	orchestrator := backfill.NewOrchestrator(
		queue.NewQueue(broker, backfill.RangeConfig(cfg.Queue)),
		backfill.NewCursorStore(rc.Client()),
		logger,
	)

	id, err := orchestrator.EnqueueRange(ctx, opts.From, opts.To, backfill.RangeOptions{
		WriteToPrimaryStore: !opts.SkipPrimaryStore,
		ChunkSize:           opts.ChunkSize,
	})
	if err != nil {
		return err
	}

	if id != "" {
		fmt.Printf("accepted blocks %d-%d as resumable backfill %s\n", opts.From, opts.To, id)
	} else {
		fmt.Printf("accepted blocks %d-%d\n", opts.From, opts.To)
	}
	return nil
}
