// Package queue defines the job contract shared by every background handler
// and the brokers that deliver jobs to them.
//
// A handler declares its queue name, retry ceiling, backoff, concurrency and
// consumer timeout once. Producers enqueue payloads into a named queue with an
// optional delay and dedup key. Delivery is at-least-once: a job may run more
// than once, so handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chain-indexer/internal/metrics"
	"github.com/chain-indexer/internal/retry"
)

// HandlerConfig is the declarative configuration of a job handler
type HandlerConfig struct {
	QueueName       string
	MaxRetries      int           // retries after the first execution
	Concurrency     int           // jobs in flight per worker process
	Backoff         retry.Backoff // wait between retries
	ConsumerTimeout time.Duration // a job running longer is treated as stuck and redelivered
	Persistent      bool          // jobs must survive a broker restart
	LazyMode        bool          // payload may be stored out of the broker's hot path
}

// Validate checks the configuration
func (c HandlerConfig) Validate() error {
	if c.QueueName == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("queue %s: concurrency must be positive, got %d", c.QueueName, c.Concurrency)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("queue %s: max retries must not be negative, got %d", c.QueueName, c.MaxRetries)
	}
	if c.ConsumerTimeout < 0 {
		return fmt.Errorf("queue %s: consumer timeout must not be negative", c.QueueName)
	}
	return nil
}

// Job is a single unit of work delivered to a handler
type Job struct {
	ID         string
	Queue      string
	Payload    []byte
	DedupKey   string
	Attempt    int // failed executions before this one
	MaxRetries int
	EnqueuedAt time.Time
}

// FinalAttempt reports whether a failure of this execution exhausts the retries
func (j *Job) FinalAttempt() bool {
	return j.Attempt >= j.MaxRetries
}

// Decode unmarshals the job payload
func Decode[T any](job *Job) (T, error) {
	var v T
	if err := json.Unmarshal(job.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", job.Queue, err)
	}
	return v, nil
}

// Handler processes jobs of one queue
type Handler interface {
	Config() HandlerConfig
	Process(ctx context.Context, job *Job) error
}

// ProcessFunc executes one job
type ProcessFunc func(ctx context.Context, job *Job) error

// DeadLetterFunc receives jobs that exhausted their retries
type DeadLetterFunc func(ctx context.Context, job *Job, err error)

// EnqueueOptions tune a single enqueue
type EnqueueOptions struct {
	Delay    time.Duration
	DedupKey string
}

// EnqueueOption mutates EnqueueOptions
type EnqueueOption func(*EnqueueOptions)

// WithDelay postpones the first execution
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

// WithDedupKey suppresses the enqueue while a job with the same key is pending or in flight
func WithDedupKey(key string) EnqueueOption {
	return func(o *EnqueueOptions) { o.DedupKey = key }
}

// Broker stores and delivers jobs
type Broker interface {
	// Enqueue stores a job. It returns false without error when the dedup key
	// is already pending or in flight in the same queue.
	Enqueue(ctx context.Context, cfg HandlerConfig, payload []byte, opts EnqueueOptions) (bool, error)
	// Consume delivers jobs of cfg.QueueName to fn until ctx is done.
	Consume(ctx context.Context, cfg HandlerConfig, fn ProcessFunc) error
	// Durable reports whether jobs survive a process restart.
	Durable() bool
	Close() error
}

// Queue is a producer bound to one handler configuration
type Queue struct {
	broker Broker
	cfg    HandlerConfig
}

// NewQueue creates a producer for the handler's queue
func NewQueue(broker Broker, cfg HandlerConfig) *Queue {
	return &Queue{broker: broker, cfg: cfg}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.cfg.QueueName
}

// Enqueue marshals payload and stores it as a job
func (q *Queue) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode %s payload: %w", q.cfg.QueueName, err)
	}

	var o EnqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	accepted, err := q.broker.Enqueue(ctx, q.cfg, data, o)
	metrics.NewQueue(q.cfg.QueueName).ObserveEnqueue(accepted, err)
	return accepted, err
}
