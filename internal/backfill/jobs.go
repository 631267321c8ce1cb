// Package backfill turns operator block ranges into per-block sync jobs and
// drives them through the chain data fetcher into the stores.
package backfill

import (
	"time"

	"github.com/chain-indexer/internal/config"
	"github.com/chain-indexer/internal/queue"
	"github.com/chain-indexer/internal/retry"
)

// Queue names
const (
	RangeQueue    = "events-backfill-job"
	BlockQueue    = "events-sync-historical"
	ActivityQueue = "backfill-transaction-activities"
)

// RangeJob expands a block range into block jobs. A non-empty BackfillID
// selects the resumable variant, whose bounds live in the cursor store.
type RangeJob struct {
	FromBlock           uint64 `json:"fromBlock"`
	ToBlock             uint64 `json:"toBlock"`
	WriteToPrimaryStore bool   `json:"writeToPrimaryStore"`
	BackfillID          string `json:"backfillId,omitempty"`
}

// BlockJob syncs a single block
type BlockJob struct {
	Block               uint64 `json:"block"`
	WriteToPrimaryStore bool   `json:"writeToPrimaryStore"`
	BackfillID          string `json:"backfillId,omitempty"`
}

// RangeConfig returns the range expansion handler configuration. Ranges run
// one at a time so blocks are enqueued in order.
func RangeConfig(cfg config.QueueConfig) queue.HandlerConfig {
	return queue.HandlerConfig{
		QueueName:       RangeQueue,
		MaxRetries:      orDefault(cfg.RangeMaxRetries, 30),
		Concurrency:     orDefault(cfg.RangeConcurrency, 1),
		Backoff:         retry.Fixed(time.Second),
		ConsumerTimeout: durationOrDefault(cfg.RangeTimeout, time.Minute),
		Persistent:      true,
	}
}

// BlockConfig returns the block sync handler configuration
func BlockConfig(cfg config.QueueConfig) queue.HandlerConfig {
	return queue.HandlerConfig{
		QueueName:       BlockQueue,
		MaxRetries:      orDefault(cfg.BlockMaxRetries, 30),
		Concurrency:     orDefault(cfg.BlockConcurrency, 150),
		Backoff:         retry.Fixed(time.Second),
		ConsumerTimeout: durationOrDefault(cfg.BlockTimeout, 3*time.Minute),
		Persistent:      true,
	}
}

// ActivityConfig returns the activity backfill handler configuration
func ActivityConfig() queue.HandlerConfig {
	return queue.HandlerConfig{
		QueueName:       ActivityQueue,
		MaxRetries:      10,
		Concurrency:     1,
		Backoff:         retry.Exponential(time.Second, time.Minute),
		ConsumerTimeout: 5 * time.Minute,
		Persistent:      true,
		LazyMode:        true,
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func durationOrDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
