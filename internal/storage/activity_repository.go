package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/chain-indexer/internal/models"
)

// ActivityRepository writes address activity records to ClickHouse. The
// activities table is a ReplacingMergeTree, so replays collapse.
type ActivityRepository struct {
	db *ClickHouseDB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *ClickHouseDB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert writes activities in a single batch
func (r *ActivityRepository) Insert(ctx context.Context, activities []*models.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO activities (tx_hash, kind, address, counterparty, value, block_number, timestamp, success)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, a := range activities {
		value := a.Value
		if value == "" {
			value = "0"
		}
		if err := batch.Append(
			strings.ToLower(a.TxHash),
			string(a.Kind),
			strings.ToLower(a.Address),
			strings.ToLower(a.Counterparty),
			value,
			a.BlockNumber,
			a.Timestamp,
			a.Success,
		); err != nil {
			return fmt.Errorf("failed to append activity %s: %w", a.TxHash, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send activity batch: %w", err)
	}
	return nil
}
