package backfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/chain-indexer/internal/errors"
	"github.com/chain-indexer/internal/models"
	"github.com/chain-indexer/internal/queue"
)

// ErrInvalidRange rejects ranges with fromBlock > toBlock or fromBlock == 0
var ErrInvalidRange = errors.New("invalid block range")

// RangeOptions tune a range request
type RangeOptions struct {
	WriteToPrimaryStore bool
	// ChunkSize > 0 selects the resumable variant, advancing ChunkSize blocks at a time
	ChunkSize uint64
}

// Orchestrator accepts block ranges for historical sync
type Orchestrator struct {
	ranges  *queue.Queue
	cursors *CursorStore
	logger  *zap.Logger
}

// NewOrchestrator creates an Orchestrator. cursors may be nil when resumable
// ranges are not used.
func NewOrchestrator(ranges *queue.Queue, cursors *CursorStore, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{ranges: ranges, cursors: cursors, logger: logger.Named("backfill")}
}

// EnqueueRange schedules the sync of blocks [from, to]. It returns the range
// id of a resumable range, or "" for an eagerly expanded one.
func (o *Orchestrator) EnqueueRange(ctx context.Context, from, to uint64, opts RangeOptions) (string, error) {
	if from == 0 || from > to {
		return "", fmt.Errorf("%w: %w", ErrInvalidRange,
			apperrors.NewValidationError("range", fmt.Sprintf("fromBlock %d, toBlock %d", from, to)))
	}

	job := RangeJob{FromBlock: from, ToBlock: to, WriteToPrimaryStore: opts.WriteToPrimaryStore}

	if opts.ChunkSize > 0 {
		if o.cursors == nil {
			return "", fmt.Errorf("resumable ranges need a cursor store")
		}
		cursor := &models.BackfillRange{
			ID:                  uuid.NewString(),
			FromBlock:           from,
			ToBlock:             windowEnd(from, opts.ChunkSize, to),
			LatestBlock:         from - 1,
			MaxBlock:            to,
			ChunkSize:           opts.ChunkSize,
			WriteToPrimaryStore: opts.WriteToPrimaryStore,
			State:               models.RangeInitializing,
		}
		if err := o.cursors.Save(ctx, cursor); err != nil {
			return "", err
		}
		job.BackfillID = cursor.ID
	}

	if _, err := o.ranges.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue range %d-%d: %w", from, to, err)
	}

	o.logger.Info("range accepted",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Uint64("chunk_size", opts.ChunkSize),
		zap.Bool("write_to_primary_store", opts.WriteToPrimaryStore),
		zap.String("backfill_id", job.BackfillID))
	return job.BackfillID, nil
}

// windowEnd returns the last block of the window starting at from
func windowEnd(from, chunk, max uint64) uint64 {
	end := from + chunk - 1
	if end < from || end > max {
		return max
	}
	return end
}
