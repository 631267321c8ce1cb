package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrConsumerTimeout is recorded for a job that outlived its consumer timeout
var ErrConsumerTimeout = errors.New("consumer timeout exceeded")

type delayedJob struct {
	job     *Job
	readyAt time.Time
	seq     uint64
	index   int
}

// delayHeap orders jobs by ready time, then by insertion order
type delayHeap []*delayedJob

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}

func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x interface{}) {
	item := x.(*delayedJob)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

type memoryQueue struct {
	pending  delayHeap
	keys     map[string]struct{} // dedup keys pending or in flight
	failed   []*Job
	inFlight int
	wake     chan struct{}
}

// MemoryBroker is an in-process broker. Jobs are lost when the process exits.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	seq    uint64
	onDead DeadLetterFunc
	logger *zap.Logger
}

// MemoryBrokerOption configures a MemoryBroker
type MemoryBrokerOption func(*MemoryBroker)

// WithMemoryDeadLetter sets the failure-channel signal
func WithMemoryDeadLetter(fn DeadLetterFunc) MemoryBrokerOption {
	return func(b *MemoryBroker) { b.onDead = fn }
}

// NewMemoryBroker creates an empty in-process broker
func NewMemoryBroker(logger *zap.Logger, opts ...MemoryBrokerOption) *MemoryBroker {
	b := &MemoryBroker{
		queues: make(map[string]*memoryQueue),
		logger: logger.Named("memory_broker"),
	}
	b.onDead = LogDeadLetter(b.logger)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// queue returns the named queue, creating it. Caller holds b.mu.
func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			keys: make(map[string]struct{}),
			wake: make(chan struct{}, 1),
		}
		b.queues[name] = q
	}
	return q
}

// push schedules job. Caller holds b.mu.
func (b *MemoryBroker) push(q *memoryQueue, job *Job, delay time.Duration) {
	b.seq++
	heap.Push(&q.pending, &delayedJob{
		job:     job,
		readyAt: time.Now().Add(delay),
		seq:     b.seq,
	})
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue implements Broker
func (b *MemoryBroker) Enqueue(ctx context.Context, cfg HandlerConfig, payload []byte, opts EnqueueOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(cfg.QueueName)
	if opts.DedupKey != "" {
		if _, exists := q.keys[opts.DedupKey]; exists {
			return false, nil
		}
		q.keys[opts.DedupKey] = struct{}{}
	}

	job := &Job{
		ID:         uuid.NewString(),
		Queue:      cfg.QueueName,
		Payload:    append([]byte(nil), payload...),
		DedupKey:   opts.DedupKey,
		MaxRetries: cfg.MaxRetries,
		EnqueuedAt: time.Now(),
	}
	b.push(q, job, opts.Delay)
	return true, nil
}

// Consume implements Broker. At most cfg.Concurrency jobs run at once.
func (b *MemoryBroker) Consume(ctx context.Context, cfg HandlerConfig, fn ProcessFunc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	q := b.queue(cfg.QueueName)
	b.mu.Unlock()

	slots := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		job, ok := b.next(ctx, q)
		if !ok {
			<-slots
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			b.execute(ctx, cfg, q, job, fn)
		}()
	}
}

// next blocks until a job is ready or ctx is done
func (b *MemoryBroker) next(ctx context.Context, q *memoryQueue) (*Job, bool) {
	for {
		b.mu.Lock()
		wait := time.Duration(-1)
		if q.pending.Len() > 0 {
			top := q.pending[0]
			if d := time.Until(top.readyAt); d > 0 {
				wait = d
			} else {
				heap.Pop(&q.pending)
				q.inFlight++
				b.mu.Unlock()
				return top.job, true
			}
		}
		b.mu.Unlock()

		var timer <-chan time.Time
		if wait > 0 {
			t := time.NewTimer(wait)
			timer = t.C
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, false
			case <-q.wake:
				t.Stop()
			case <-timer:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

func (b *MemoryBroker) execute(ctx context.Context, cfg HandlerConfig, q *memoryQueue, job *Job, fn ProcessFunc) {
	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.ConsumerTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, cfg.ConsumerTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("handler panic: %v", p)
			}
		}()
		done <- fn(jobCtx, job)
	}()

	var err error
	select {
	case err = <-done:
	case <-jobCtx.Done():
		// The stuck handler keeps running; its result is discarded.
		err = fmt.Errorf("%w after %s", ErrConsumerTimeout, cfg.ConsumerTimeout)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	q.inFlight--

	if err != nil && ctx.Err() != nil {
		// Shutdown, not a failure: hand the job back untouched.
		b.push(q, job, 0)
		return
	}
	if err == nil {
		if job.DedupKey != "" {
			delete(q.keys, job.DedupKey)
		}
		return
	}

	if job.Attempt >= cfg.MaxRetries {
		if job.DedupKey != "" {
			delete(q.keys, job.DedupKey)
		}
		q.failed = append(q.failed, job)
		go b.onDead(context.WithoutCancel(ctx), job, err)
		return
	}

	retried := *job
	retried.Attempt++
	b.push(q, &retried, cfg.Backoff.Next(retried.Attempt))
}

// Failed returns the jobs that exhausted their retries in queue
func (b *MemoryBroker) Failed(queue string) []*Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Job(nil), b.queue(queue).failed...)
}

// Pending returns the number of jobs waiting in queue, including delayed ones
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(queue).pending.Len()
}

// Idle reports whether queue has nothing pending or in flight
func (b *MemoryBroker) Idle(queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	return q.pending.Len() == 0 && q.inFlight == 0
}

// Durable implements Broker
func (b *MemoryBroker) Durable() bool { return false }

// Close implements Broker
func (b *MemoryBroker) Close() error { return nil }
