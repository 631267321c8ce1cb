package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/retry"
)

func testConfig(name string) HandlerConfig {
	return HandlerConfig{
		QueueName:       name,
		MaxRetries:      2,
		Concurrency:     1,
		Backoff:         retry.Fixed(time.Millisecond),
		ConsumerTimeout: time.Second,
	}
}

// runConsumer consumes cfg's queue in the background until the test ends
func runConsumer(t *testing.T, b Broker, cfg HandlerConfig, fn ProcessFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, cfg, fn)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMemoryBrokerDedup(t *testing.T) {
	b := NewMemoryBroker(zap.NewNop())
	cfg := testConfig("blocks")
	ctx := context.Background()

	ok, err := b.Enqueue(ctx, cfg, []byte(`{}`), EnqueueOptions{DedupKey: "100"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Enqueue(ctx, cfg, []byte(`{}`), EnqueueOptions{DedupKey: "100"})
	require.NoError(t, err)
	assert.False(t, ok, "duplicate key must be suppressed while pending")

	// A different queue has its own key space.
	other := testConfig("other")
	ok, err = b.Enqueue(ctx, other, []byte(`{}`), EnqueueOptions{DedupKey: "100"})
	require.NoError(t, err)
	assert.True(t, ok)

	var processed atomic.Int32
	runConsumer(t, b, cfg, func(ctx context.Context, job *Job) error {
		processed.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return b.Idle("blocks") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), processed.Load())

	// Once completed, the key is free again.
	ok, err = b.Enqueue(ctx, cfg, []byte(`{}`), EnqueueOptions{DedupKey: "100"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryBrokerDedupWhileInFlight(t *testing.T) {
	b := NewMemoryBroker(zap.NewNop())
	cfg := testConfig("blocks")
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	runConsumer(t, b, cfg, func(ctx context.Context, job *Job) error {
		close(started)
		<-release
		return nil
	})

	ok, err := b.Enqueue(ctx, cfg, nil, EnqueueOptions{DedupKey: "7"})
	require.NoError(t, err)
	require.True(t, ok)
	<-started

	ok, err = b.Enqueue(ctx, cfg, nil, EnqueueOptions{DedupKey: "7"})
	require.NoError(t, err)
	assert.False(t, ok, "duplicate key must be suppressed while in flight")
	close(release)
}

func TestMemoryBrokerRetriesThenDeadLetters(t *testing.T) {
	var deadJobs []*Job
	var mu sync.Mutex
	b := NewMemoryBroker(zap.NewNop(), WithMemoryDeadLetter(func(ctx context.Context, job *Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		deadJobs = append(deadJobs, job)
	}))
	cfg := testConfig("flaky")
	cfg.MaxRetries = 3

	var attempts []int
	runConsumer(t, b, cfg, func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		mu.Unlock()
		return errors.New("always fails")
	})

	_, err := b.Enqueue(context.Background(), cfg, []byte(`{"n":1}`), EnqueueOptions{DedupKey: "k"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deadJobs) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3}, attempts, "first execution plus MaxRetries retries")
	mu.Unlock()

	failed := b.Failed("flaky")
	require.Len(t, failed, 1)
	assert.Equal(t, `{"n":1}`, string(failed[0].Payload))
	assert.True(t, b.Idle("flaky"))
}

func TestMemoryBrokerDelay(t *testing.T) {
	b := NewMemoryBroker(zap.NewNop())
	cfg := testConfig("delayed")

	var processedAt atomic.Int64
	runConsumer(t, b, cfg, func(ctx context.Context, job *Job) error {
		processedAt.Store(time.Now().UnixNano())
		return nil
	})

	enqueuedAt := time.Now()
	_, err := b.Enqueue(context.Background(), cfg, nil, EnqueueOptions{Delay: 80 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return processedAt.Load() != 0 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Duration(processedAt.Load()-enqueuedAt.UnixNano()), 80*time.Millisecond)
}

func TestMemoryBrokerConcurrencyBound(t *testing.T) {
	b := NewMemoryBroker(zap.NewNop())
	cfg := testConfig("bounded")
	cfg.Concurrency = 2

	var running, maxRunning, done atomic.Int32
	runConsumer(t, b, cfg, func(ctx context.Context, job *Job) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return nil
	})

	for i := 0; i < 8; i++ {
		_, err := b.Enqueue(context.Background(), cfg, nil, EnqueueOptions{DedupKey: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return done.Load() == 8 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
}

func TestMemoryBrokerConsumerTimeoutRedelivers(t *testing.T) {
	b := NewMemoryBroker(zap.NewNop())
	cfg := testConfig("stuck")
	cfg.ConsumerTimeout = 30 * time.Millisecond

	var succeededOn atomic.Int32
	succeededOn.Store(-1)
	runConsumer(t, b, cfg, func(ctx context.Context, job *Job) error {
		if job.Attempt == 0 {
			// Stuck worker: ignores cancellation.
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		succeededOn.Store(int32(job.Attempt))
		return nil
	})

	_, err := b.Enqueue(context.Background(), cfg, nil, EnqueueOptions{DedupKey: "slow"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return succeededOn.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, b.Failed("stuck"))
}

func TestMemoryBrokerDedupProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("accepted enqueues equal distinct dedup keys", prop.ForAll(
		func(keys []int) bool {
			b := NewMemoryBroker(zap.NewNop())
			cfg := testConfig("prop")

			distinct := make(map[int]struct{})
			accepted := 0
			// Submit every key twice, as a double-clicked range would.
			for round := 0; round < 2; round++ {
				for _, k := range keys {
					distinct[k] = struct{}{}
					ok, err := b.Enqueue(context.Background(), cfg, nil, EnqueueOptions{DedupKey: fmt.Sprint(k)})
					if err != nil {
						return false
					}
					if ok {
						accepted++
					}
				}
			}
			return accepted == len(distinct) && b.Pending("prop") == len(distinct)
		},
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.TestingRun(t)
}

func TestQueueEnqueueEncodesPayload(t *testing.T) {
	b := NewMemoryBroker(zap.NewNop())
	cfg := testConfig("typed")
	q := NewQueue(b, cfg)

	type payload struct {
		Block uint64 `json:"block"`
	}

	got := make(chan payload, 1)
	runConsumer(t, b, cfg, func(ctx context.Context, job *Job) error {
		p, err := Decode[payload](job)
		if err != nil {
			return err
		}
		got <- p
		return nil
	})

	ok, err := q.Enqueue(context.Background(), payload{Block: 42}, WithDedupKey("42"))
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case p := <-got:
		assert.Equal(t, uint64(42), p.Block)
	case <-time.After(time.Second):
		t.Fatal("job not delivered")
	}
}
