package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lazyKeyPrefix  = "queue:lazy:"
	defaultLazyTTL = 7 * 24 * time.Hour
)

// taskEnvelope is the asynq task payload
type taskEnvelope struct {
	DedupKey   string    `json:"dedupKey,omitempty"`
	Payload    []byte    `json:"payload,omitempty"`
	LazyRef    string    `json:"lazyRef,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// AsynqBroker is a Redis-backed durable broker.
//
// Dedup keys become asynq task IDs, so a key stays taken while the task is
// pending, scheduled, active or retrying. Archived tasks form the failure
// channel; enqueueing a key held by an archived task replaces that task.
type AsynqBroker struct {
	redisOpt  asynq.RedisConnOpt
	client    *asynq.Client
	inspector *asynq.Inspector
	rdb       redis.UniversalClient
	logger    *zap.Logger
	onDead    DeadLetterFunc
	lazyTTL   time.Duration
}

// AsynqOption configures an AsynqBroker
type AsynqOption func(*AsynqBroker)

// WithAsynqDeadLetter sets the failure-channel signal
func WithAsynqDeadLetter(fn DeadLetterFunc) AsynqOption {
	return func(b *AsynqBroker) { b.onDead = fn }
}

// WithLazyTTL sets how long out-of-band payloads are kept
func WithLazyTTL(ttl time.Duration) AsynqOption {
	return func(b *AsynqBroker) { b.lazyTTL = ttl }
}

// NewAsynqBroker creates a broker. rdb stores lazy-mode payloads.
func NewAsynqBroker(redisOpt asynq.RedisConnOpt, rdb redis.UniversalClient, logger *zap.Logger, opts ...AsynqOption) *AsynqBroker {
	b := &AsynqBroker{
		redisOpt:  redisOpt,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		rdb:       rdb,
		logger:    logger.Named("asynq_broker"),
		lazyTTL:   defaultLazyTTL,
	}
	b.onDead = LogDeadLetter(b.logger)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// taskOptions maps the handler contract onto asynq options
func taskOptions(cfg HandlerConfig, opts EnqueueOptions) []asynq.Option {
	out := []asynq.Option{
		asynq.Queue(cfg.QueueName),
		asynq.MaxRetry(cfg.MaxRetries),
	}
	if cfg.ConsumerTimeout > 0 {
		out = append(out, asynq.Timeout(cfg.ConsumerTimeout))
	}
	if opts.Delay > 0 {
		out = append(out, asynq.ProcessIn(opts.Delay))
	}
	if opts.DedupKey != "" {
		out = append(out, asynq.TaskID(opts.DedupKey))
	}
	return out
}

func lazyKey(queue string) string {
	return fmt.Sprintf("%s%s:%s", lazyKeyPrefix, queue, uuid.NewString())
}

// Enqueue implements Broker
func (b *AsynqBroker) Enqueue(ctx context.Context, cfg HandlerConfig, payload []byte, opts EnqueueOptions) (bool, error) {
	env := taskEnvelope{
		DedupKey:   opts.DedupKey,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	if cfg.LazyMode {
		key := lazyKey(cfg.QueueName)
		if err := b.rdb.Set(ctx, key, payload, b.lazyTTL).Err(); err != nil {
			return false, fmt.Errorf("store lazy payload: %w", err)
		}
		env.Payload = nil
		env.LazyRef = key
	}

	data, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("encode task envelope: %w", err)
	}

	task := asynq.NewTask(cfg.QueueName, data)
	_, err = b.client.EnqueueContext(ctx, task, taskOptions(cfg, opts)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) && b.releaseArchived(ctx, cfg.QueueName, opts.DedupKey) {
		_, err = b.client.EnqueueContext(ctx, task, taskOptions(cfg, opts)...)
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		b.dropLazy(ctx, env.LazyRef)
		return false, nil
	}
	if err != nil {
		b.dropLazy(ctx, env.LazyRef)
		return false, fmt.Errorf("enqueue %s: %w", cfg.QueueName, err)
	}
	return true, nil
}

// releaseArchived deletes the task holding id when it sits in the failure
// channel, reporting whether the id is free again
func (b *AsynqBroker) releaseArchived(ctx context.Context, queue, id string) bool {
	info, err := b.inspector.GetTaskInfo(queue, id)
	if err != nil {
		b.logger.Debug("conflicting task not inspectable", zap.String("queue", queue), zap.String("task_id", id), zap.Error(err))
		return false
	}
	if info.State != asynq.TaskStateArchived {
		return false
	}
	if err := b.inspector.DeleteTask(queue, id); err != nil {
		b.logger.Warn("failed to delete archived task", zap.String("queue", queue), zap.String("task_id", id), zap.Error(err))
		return false
	}

	var env taskEnvelope
	if err := json.Unmarshal(info.Payload, &env); err == nil {
		b.dropLazy(ctx, env.LazyRef)
	}
	b.logger.Info("replacing archived task", zap.String("queue", queue), zap.String("task_id", id))
	return true
}

func (b *AsynqBroker) dropLazy(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		b.logger.Warn("failed to delete lazy payload", zap.String("key", key), zap.Error(err))
	}
}

// jobFromTask rebuilds a Job from an asynq task and its context
func (b *AsynqBroker) jobFromTask(ctx context.Context, cfg HandlerConfig, task *asynq.Task) (*Job, string, error) {
	var env taskEnvelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return nil, "", fmt.Errorf("decode task envelope: %v: %w", err, asynq.SkipRetry)
	}

	payload := env.Payload
	if env.LazyRef != "" {
		data, err := b.rdb.Get(ctx, env.LazyRef).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, "", fmt.Errorf("lazy payload %s expired: %w", env.LazyRef, asynq.SkipRetry)
		}
		if err != nil {
			return nil, "", fmt.Errorf("load lazy payload: %w", err)
		}
		payload = data
	}

	id, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = cfg.MaxRetries
	}

	return &Job{
		ID:         id,
		Queue:      cfg.QueueName,
		Payload:    payload,
		DedupKey:   env.DedupKey,
		Attempt:    retried,
		MaxRetries: maxRetry,
		EnqueuedAt: env.EnqueuedAt,
	}, env.LazyRef, nil
}

// Consume implements Broker. Each queue gets its own asynq server so that
// concurrency is enforced per handler.
func (b *AsynqBroker) Consume(ctx context.Context, cfg HandlerConfig, fn ProcessFunc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := b.logger.With(zap.String("queue", cfg.QueueName))

	srv := asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.QueueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return cfg.Backoff.Next(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
				return
			}
			job, _, decodeErr := b.jobFromTask(ctx, cfg, task)
			if decodeErr != nil {
				id, _ := asynq.GetTaskID(ctx)
				job = &Job{ID: id, Queue: cfg.QueueName, Attempt: retried, MaxRetries: maxRetry}
			}
			b.onDead(ctx, job, err)
		}),
		Logger: logger.Sugar(),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(cfg.QueueName, func(ctx context.Context, task *asynq.Task) error {
		job, ref, err := b.jobFromTask(ctx, cfg, task)
		if err != nil {
			return err
		}
		if err := fn(ctx, job); err != nil {
			return err
		}
		b.dropLazy(ctx, ref)
		return nil
	})

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// Durable implements Broker
func (b *AsynqBroker) Durable() bool { return true }

// Close implements Broker
func (b *AsynqBroker) Close() error {
	return errors.Join(b.client.Close(), b.inspector.Close())
}
