package backfill

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/config"
	"github.com/chain-indexer/internal/fetcher"
	"github.com/chain-indexer/internal/models"
	"github.com/chain-indexer/internal/queue"
	"github.com/chain-indexer/internal/storage"
)

// recordingBroker remembers every accepted enqueue
type recordingBroker struct {
	*queue.MemoryBroker
	mu       sync.Mutex
	keys     map[string][]string
	payloads map[string][][]byte
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{
		MemoryBroker: queue.NewMemoryBroker(zap.NewNop()),
		keys:         make(map[string][]string),
		payloads:     make(map[string][][]byte),
	}
}

func (b *recordingBroker) Enqueue(ctx context.Context, cfg queue.HandlerConfig, payload []byte, opts queue.EnqueueOptions) (bool, error) {
	ok, err := b.MemoryBroker.Enqueue(ctx, cfg, payload, opts)
	if ok {
		b.mu.Lock()
		b.keys[cfg.QueueName] = append(b.keys[cfg.QueueName], opts.DedupKey)
		b.payloads[cfg.QueueName] = append(b.payloads[cfg.QueueName], payload)
		b.mu.Unlock()
	}
	return ok, err
}

func (b *recordingBroker) acceptedKeys(queueName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys[queueName]...)
}

func (b *recordingBroker) acceptedPayloads(queueName string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.payloads[queueName]...)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testJob(t *testing.T, queueName string, payload any) *queue.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "test", Queue: queueName, Payload: data, MaxRetries: 3}
}

type testEnv struct {
	broker       *recordingBroker
	cursors      *CursorStore
	orchestrator *Orchestrator
	ranges       *RangeHandler
}

func newTestEnv(t *testing.T) *testEnv {
	_, rdb := newTestRedis(t)
	broker := newRecordingBroker()
	cursors := NewCursorStore(rdb)
	rangeCfg := RangeConfig(config.QueueConfig{})

	return &testEnv{
		broker:       broker,
		cursors:      cursors,
		orchestrator: NewOrchestrator(queue.NewQueue(broker, rangeCfg), cursors, zap.NewNop()),
		ranges:       NewRangeHandler(rangeCfg, broker, BlockConfig(config.QueueConfig{}), cursors, config.BackfillConfig{}, zap.NewNop()),
	}
}

type fakeFetcher struct {
	data *fetcher.BlockData
	err  error
}

func (f *fakeFetcher) FetchBlockData(context.Context, uint64) (*fetcher.BlockData, error) {
	return f.data, f.err
}

type recordingStore struct {
	mu         sync.Mutex
	txs        []*models.Transaction
	contracts  []*models.ContractAddress
	activities []*models.Activity
}

func (s *recordingStore) UpsertTransactions(_ context.Context, txs []*models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, txs...)
	return nil
}

type txWriter struct{ s *recordingStore }

func (w txWriter) Upsert(ctx context.Context, txs []*models.Transaction) error {
	return w.s.UpsertTransactions(ctx, txs)
}

type contractWriter struct{ s *recordingStore }

func (w contractWriter) Upsert(_ context.Context, contracts []*models.ContractAddress) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.contracts = append(w.s.contracts, contracts...)
	return nil
}

func (s *recordingStore) Insert(_ context.Context, activities []*models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, activities...)
	return nil
}

func (s *recordingStore) stores() Stores {
	return Stores{Transactions: txWriter{s}, Contracts: contractWriter{s}, Activities: s}
}

type fakePager struct {
	pages   [][]*models.Transaction
	cursors []storage.TransactionCursor
	limits  []int
}

func (p *fakePager) Page(_ context.Context, cursor storage.TransactionCursor, limit int) ([]*models.Transaction, error) {
	p.cursors = append(p.cursors, cursor)
	p.limits = append(p.limits, limit)
	if len(p.pages) == 0 {
		return nil, nil
	}
	page := p.pages[0]
	p.pages = p.pages[1:]
	return page, nil
}

func configWithConcurrency(n int) config.QueueConfig {
	return config.QueueConfig{RangeConcurrency: n, BlockConcurrency: n}
}
