package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chain-indexer/internal/models"
)

// CursorStore keeps resumable range cursors in Redis: the cursor in hash
// backfill:<id>, the completed blocks of its window in set backfill:<id>:done
// and the blocks that exhausted their retries in set backfill:<id>:failed.
type CursorStore struct {
	rdb redis.UniversalClient
}

// NewCursorStore creates a cursor store
func NewCursorStore(rdb redis.UniversalClient) *CursorStore {
	return &CursorStore{rdb: rdb}
}

func cursorKey(id string) string {
	return "backfill:" + id
}

func doneKey(id string) string {
	return "backfill:" + id + ":done"
}

func failedKey(id string) string {
	return "backfill:" + id + ":failed"
}

// Save writes the cursor
func (s *CursorStore) Save(ctx context.Context, r *models.BackfillRange) error {
	r.UpdatedAt = time.Now().Unix()
	err := s.rdb.HSet(ctx, cursorKey(r.ID), map[string]interface{}{
		"id":                     r.ID,
		"from_block":             r.FromBlock,
		"to_block":               r.ToBlock,
		"latest_block":           r.LatestBlock,
		"max_block":              r.MaxBlock,
		"chunk_size":             r.ChunkSize,
		"write_to_primary_store": r.WriteToPrimaryStore,
		"state":                  string(r.State),
		"updated_at":             r.UpdatedAt,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save backfill cursor %s: %w", r.ID, err)
	}
	return nil
}

// Load reads the cursor of id, or nil when none exists
func (s *CursorStore) Load(ctx context.Context, id string) (*models.BackfillRange, error) {
	res := s.rdb.HGetAll(ctx, cursorKey(id))
	fields, err := res.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load backfill cursor %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var r models.BackfillRange
	if err := res.Scan(&r); err != nil {
		return nil, fmt.Errorf("failed to decode backfill cursor %s: %w", id, err)
	}
	return &r, nil
}

// MarkDone records block as synced for the range id
func (s *CursorStore) MarkDone(ctx context.Context, id string, block uint64) error {
	if err := s.rdb.SAdd(ctx, doneKey(id), strconv.FormatUint(block, 10)).Err(); err != nil {
		return fmt.Errorf("failed to mark block %d of %s done: %w", block, id, err)
	}
	return nil
}

// MarkFailed records block as having exhausted its retries for the range id
func (s *CursorStore) MarkFailed(ctx context.Context, id string, block uint64) error {
	if err := s.rdb.SAdd(ctx, failedKey(id), strconv.FormatUint(block, 10)).Err(); err != nil {
		return fmt.Errorf("failed to mark block %d of %s failed: %w", block, id, err)
	}
	return nil
}

// Done returns the synced blocks recorded for the range id
func (s *CursorStore) Done(ctx context.Context, id string) (map[uint64]struct{}, error) {
	return s.members(ctx, doneKey(id))
}

// Failed returns the blocks of the range id that exhausted their retries
func (s *CursorStore) Failed(ctx context.Context, id string) (map[uint64]struct{}, error) {
	return s.members(ctx, failedKey(id))
}

func (s *CursorStore) members(ctx context.Context, key string) (map[uint64]struct{}, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	blocks := make(map[uint64]struct{}, len(members))
	for _, m := range members {
		b, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		blocks[b] = struct{}{}
	}
	return blocks, nil
}

// ResetDone forgets the synced and failed blocks of the range id
func (s *CursorStore) ResetDone(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, doneKey(id), failedKey(id)).Err()
}
