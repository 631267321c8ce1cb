package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chain-indexer/internal/metrics"
)

// LogDeadLetter returns the default failure-channel signal: an error log and a counter
func LogDeadLetter(logger *zap.Logger) DeadLetterFunc {
	return func(ctx context.Context, job *Job, err error) {
		metrics.NewQueue(job.Queue).ObserveDeadLetter()
		logger.Error("job exhausted retries and moved to failure channel",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.String("dedup_key", job.DedupKey),
			zap.Int("attempts", job.Attempt+1),
			zap.Error(err))
	}
}

// Runner consumes every registered handler's queue from one broker
type Runner struct {
	broker   Broker
	logger   *zap.Logger
	mu       sync.Mutex
	handlers []Handler
}

// NewRunner creates a runner over broker
func NewRunner(broker Broker, logger *zap.Logger) *Runner {
	return &Runner{
		broker: broker,
		logger: logger.Named("queue"),
	}
}

// Register adds a handler. Queue names must be unique.
func (r *Runner) Register(h Handler) error {
	cfg := h.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.handlers {
		if existing.Config().QueueName == cfg.QueueName {
			return fmt.Errorf("handler for queue %s already registered", cfg.QueueName)
		}
	}
	if cfg.Persistent && !r.broker.Durable() {
		r.logger.Warn("persistent handler registered on a non-durable broker; jobs will not survive a restart",
			zap.String("queue", cfg.QueueName))
	}
	r.handlers = append(r.handlers, h)
	return nil
}

// Run consumes all registered queues until ctx is done or a broker fails
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	handlers := append([]Handler(nil), r.handlers...)
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		h := h
		cfg := h.Config()
		r.logger.Info("starting consumer",
			zap.String("queue", cfg.QueueName),
			zap.Int("concurrency", cfg.Concurrency),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Duration("consumer_timeout", cfg.ConsumerTimeout))

		g.Go(func() error {
			if err := r.broker.Consume(ctx, cfg, r.wrap(h)); err != nil {
				return fmt.Errorf("consume %s: %w", cfg.QueueName, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// wrap adds metrics, logging and panic recovery around a handler
func (r *Runner) wrap(h Handler) ProcessFunc {
	cfg := h.Config()
	m := metrics.NewQueue(cfg.QueueName)
	logger := r.logger.With(zap.String("queue", cfg.QueueName))

	return func(ctx context.Context, job *Job) (err error) {
		started := time.Now()
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panic: %v", p)
				logger.Error("handler panicked",
					zap.String("job_id", job.ID),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
			}
			m.ObserveProcess(err, started)
			if err != nil && !job.FinalAttempt() {
				logger.Warn("job failed, will retry",
					zap.String("job_id", job.ID),
					zap.Int("attempt", job.Attempt+1),
					zap.Int("max_retries", job.MaxRetries),
					zap.Error(err))
			}
		}()

		return h.Process(ctx, job)
	}
}
