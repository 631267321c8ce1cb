package backfill

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/chain-indexer/internal/config"
	"github.com/chain-indexer/internal/metrics"
	"github.com/chain-indexer/internal/models"
	"github.com/chain-indexer/internal/queue"
)

// DefaultPollInterval is how often a resumable range re-checks its window
const DefaultPollInterval = 30 * time.Second

// RangeHandler expands ranges into block jobs
type RangeHandler struct {
	cfg          queue.HandlerConfig
	ranges       *queue.Queue
	blocks       *queue.Queue
	cursors      *CursorStore
	pollInterval time.Duration
	logger       *zap.Logger
	metrics      metrics.Backfill
}

// NewRangeHandler creates a RangeHandler. ranges is used by resumable ranges
// to re-schedule themselves.
func NewRangeHandler(cfg queue.HandlerConfig, broker queue.Broker, blockCfg queue.HandlerConfig, cursors *CursorStore, backfillCfg config.BackfillConfig, logger *zap.Logger) *RangeHandler {
	return &RangeHandler{
		cfg:          cfg,
		ranges:       queue.NewQueue(broker, cfg),
		blocks:       queue.NewQueue(broker, blockCfg),
		cursors:      cursors,
		pollInterval: durationOrDefault(backfillCfg.PollInterval, DefaultPollInterval),
		logger:       logger.Named("range"),
		metrics:      metrics.NewBackfill(),
	}
}

// Config implements queue.Handler
func (h *RangeHandler) Config() queue.HandlerConfig { return h.cfg }

// Process implements queue.Handler
func (h *RangeHandler) Process(ctx context.Context, job *queue.Job) error {
	rj, err := queue.Decode[RangeJob](job)
	if err != nil {
		return err
	}
	if rj.BackfillID != "" {
		return h.advance(ctx, rj.BackfillID)
	}

	accepted, err := h.enqueueBlocks(ctx, rj.FromBlock, rj.ToBlock, rj.WriteToPrimaryStore, "", nil)
	if err != nil {
		return err
	}
	h.logger.Info("range expanded",
		zap.Uint64("from", rj.FromBlock),
		zap.Uint64("to", rj.ToBlock),
		zap.Int("enqueued", accepted))
	return nil
}

// enqueueBlocks walks [from, to] in order, enqueuing a block job per block
// not in skip. The block number is the dedup key.
func (h *RangeHandler) enqueueBlocks(ctx context.Context, from, to uint64, write bool, backfillID string, skip map[uint64]struct{}) (int, error) {
	accepted := 0
	for b := from; b <= to; b++ {
		if _, ok := skip[b]; ok {
			continue
		}
		ok, err := h.blocks.Enqueue(ctx,
			BlockJob{Block: b, WriteToPrimaryStore: write, BackfillID: backfillID},
			queue.WithDedupKey(strconv.FormatUint(b, 10)))
		if err != nil {
			h.metrics.ObserveRangeEnqueued(accepted)
			return accepted, fmt.Errorf("enqueue block %d: %w", b, err)
		}
		if ok {
			accepted++
		}
		if b == to {
			break
		}
	}
	h.metrics.ObserveRangeEnqueued(accepted)
	return accepted, nil
}

// advance moves a resumable range one step through
// Initializing -> Advancing -> Finished
func (h *RangeHandler) advance(ctx context.Context, id string) error {
	if h.cursors == nil {
		return fmt.Errorf("resumable range %s without cursor store", id)
	}
	cursor, err := h.cursors.Load(ctx, id)
	if err != nil {
		return err
	}
	if cursor == nil {
		h.logger.Warn("resumable range cursor missing, dropping", zap.String("backfill_id", id))
		return nil
	}
	logger := h.logger.With(zap.String("backfill_id", id))

	switch cursor.State {
	case models.RangeFinished:
		return nil

	case models.RangeInitializing:
		if _, err := h.enqueueBlocks(ctx, cursor.FromBlock, cursor.ToBlock, cursor.WriteToPrimaryStore, id, nil); err != nil {
			return err
		}
		cursor.State = models.RangeAdvancing
		if err := h.cursors.Save(ctx, cursor); err != nil {
			return err
		}
		logger.Info("range window started", zap.Uint64("from", cursor.FromBlock), zap.Uint64("to", cursor.ToBlock))
		return h.reschedule(ctx, id)

	case models.RangeAdvancing:
		done, err := h.cursors.Done(ctx, id)
		if err != nil {
			return err
		}
		failed, err := h.cursors.Failed(ctx, id)
		if err != nil {
			return err
		}
		for b := range failed {
			done[b] = struct{}{}
		}
		if uint64(countWithin(done, cursor.FromBlock, cursor.ToBlock)) < cursor.WindowSize() {
			// blocks whose job was lost or suppressed by a foreign job are enqueued again
			if _, err := h.enqueueBlocks(ctx, cursor.FromBlock, cursor.ToBlock, cursor.WriteToPrimaryStore, id, done); err != nil {
				return err
			}
			return h.reschedule(ctx, id)
		}

		if skipped := sortedWithin(failed, cursor.FromBlock, cursor.ToBlock); len(skipped) > 0 {
			logger.Error("range window advanced past failed blocks",
				zap.Uint64("from", cursor.FromBlock),
				zap.Uint64("to", cursor.ToBlock),
				zap.Uint64s("failed_blocks", skipped))
		}
		cursor.LatestBlock = cursor.ToBlock
		if err := h.cursors.ResetDone(ctx, id); err != nil {
			return err
		}
		if cursor.LatestBlock >= cursor.MaxBlock {
			cursor.State = models.RangeFinished
			logger.Info("resumable range finished", zap.Uint64("max_block", cursor.MaxBlock))
			return h.cursors.Save(ctx, cursor)
		}

		cursor.FromBlock = cursor.LatestBlock + 1
		cursor.ToBlock = windowEnd(cursor.FromBlock, cursor.ChunkSize, cursor.MaxBlock)
		if _, err := h.enqueueBlocks(ctx, cursor.FromBlock, cursor.ToBlock, cursor.WriteToPrimaryStore, id, nil); err != nil {
			return err
		}
		if err := h.cursors.Save(ctx, cursor); err != nil {
			return err
		}
		logger.Info("range window advanced",
			zap.Uint64("from", cursor.FromBlock),
			zap.Uint64("to", cursor.ToBlock),
			zap.Uint64("latest", cursor.LatestBlock))
		return h.reschedule(ctx, id)

	default:
		logger.Error("resumable range in unknown state, dropping", zap.String("state", string(cursor.State)))
		return nil
	}
}

func (h *RangeHandler) reschedule(ctx context.Context, id string) error {
	if _, err := h.ranges.Enqueue(ctx, RangeJob{BackfillID: id}, queue.WithDelay(h.pollInterval)); err != nil {
		return fmt.Errorf("reschedule range %s: %w", id, err)
	}
	return nil
}

func countWithin(set map[uint64]struct{}, from, to uint64) int {
	n := 0
	for b := range set {
		if b >= from && b <= to {
			n++
		}
	}
	return n
}

func sortedWithin(set map[uint64]struct{}, from, to uint64) []uint64 {
	var out []uint64
	for b := range set {
		if b >= from && b <= to {
			out = append(out, b)
		}
	}
	slices.Sort(out)
	return out
}
