package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chain-indexer/internal/errors"
	"github.com/chain-indexer/internal/fetcher"
	"github.com/chain-indexer/internal/metrics"
	"github.com/chain-indexer/internal/models"
	"github.com/chain-indexer/internal/queue"
)

// BlockFetcher fetches everything needed to sync a block
type BlockFetcher interface {
	FetchBlockData(ctx context.Context, number uint64) (*fetcher.BlockData, error)
}

// TransactionWriter persists transactions
type TransactionWriter interface {
	Upsert(ctx context.Context, txs []*models.Transaction) error
}

// ContractWriter persists deployed contracts
type ContractWriter interface {
	Upsert(ctx context.Context, contracts []*models.ContractAddress) error
}

// ActivityWriter persists activity records
type ActivityWriter interface {
	Insert(ctx context.Context, activities []*models.Activity) error
}

// Stores are the destinations of a block sync. Activities may be nil.
type Stores struct {
	Transactions TransactionWriter
	Contracts    ContractWriter
	Activities   ActivityWriter
}

// BlockHandler syncs single blocks
type BlockHandler struct {
	cfg     queue.HandlerConfig
	fetcher BlockFetcher
	stores  Stores
	cursors *CursorStore
	logger  *zap.Logger
	metrics metrics.Backfill
}

// NewBlockHandler creates a BlockHandler. cursors may be nil when resumable
// ranges are not used.
func NewBlockHandler(cfg queue.HandlerConfig, f BlockFetcher, stores Stores, cursors *CursorStore, logger *zap.Logger) *BlockHandler {
	return &BlockHandler{
		cfg:     cfg,
		fetcher: f,
		stores:  stores,
		cursors: cursors,
		logger:  logger.Named("block"),
		metrics: metrics.NewBackfill(),
	}
}

// Config implements queue.Handler
func (h *BlockHandler) Config() queue.HandlerConfig { return h.cfg }

// Process implements queue.Handler
func (h *BlockHandler) Process(ctx context.Context, job *queue.Job) (err error) {
	started := time.Now()
	defer func() { h.metrics.ObserveBlockSync(err, started) }()

	bj, err := queue.Decode[BlockJob](job)
	if err != nil {
		return apperrors.NewDataShapeError("block job", err)
	}
	logger := h.logger.With(zap.Uint64("block", bj.Block), zap.Int("attempt", job.Attempt))
	defer func() {
		if err != nil && job.FinalAttempt() {
			h.markFailed(ctx, bj, logger, err)
		}
	}()

	data, err := h.fetcher.FetchBlockData(ctx, bj.Block)
	if err != nil {
		if errors.Is(err, fetcher.ErrUnavailable) {
			return apperrors.NewTransientError("rpc", err)
		}
		if apperrors.IsDataShape(err) {
			logger.Error("malformed block data", zap.Error(err))
		}
		return fmt.Errorf("fetch block %d: %w", bj.Block, err)
	}

	txs := h.transactions(data, logger)
	contracts := contractAddresses(data.Traces)

	if bj.WriteToPrimaryStore {
		if err := h.stores.Transactions.Upsert(ctx, txs); err != nil {
			return apperrors.NewStorageError("upsert transactions", err)
		}
		h.metrics.ObserveRows("transactions", len(txs))

		if err := h.stores.Contracts.Upsert(ctx, contracts); err != nil {
			return apperrors.NewStorageError("upsert contract addresses", err)
		}
		h.metrics.ObserveRows("contract_addresses", len(contracts))
	}

	if h.stores.Activities != nil {
		var activities []*models.Activity
		for _, tx := range txs {
			activities = append(activities, tx.Activities()...)
		}
		if err := h.stores.Activities.Insert(ctx, activities); err != nil {
			return apperrors.NewStorageError("insert activities", err)
		}
		h.metrics.ObserveRows("activities", len(activities))
	}

	if bj.BackfillID != "" && h.cursors != nil {
		if err := h.cursors.MarkDone(ctx, bj.BackfillID, bj.Block); err != nil {
			return err
		}
	}

	logger.Debug("block synced",
		zap.Int("transactions", len(txs)),
		zap.Int("contracts", len(contracts)),
		zap.Bool("write_to_primary_store", bj.WriteToPrimaryStore))
	return nil
}

// markFailed lets a resumable range move past a block whose job is about to
// land in the failure channel
func (h *BlockHandler) markFailed(ctx context.Context, bj BlockJob, logger *zap.Logger, cause error) {
	if bj.BackfillID == "" || h.cursors == nil {
		return
	}
	if err := h.cursors.MarkFailed(context.WithoutCancel(ctx), bj.BackfillID, bj.Block); err != nil {
		logger.Error("failed to record exhausted block", zap.String("backfill_id", bj.BackfillID), zap.Error(err))
		return
	}
	logger.Warn("block exhausted its retries",
		zap.String("backfill_id", bj.BackfillID),
		zap.Error(cause))
}

// transactions joins the block's transactions with their receipts; those
// without a receipt are skipped
func (h *BlockHandler) transactions(data *fetcher.BlockData, logger *zap.Logger) []*models.Transaction {
	block := data.Block
	receipts := data.ReceiptsByHash()
	txs := make([]*models.Transaction, 0, len(block.Transactions))
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		receipt := receipts[tx.Hash]
		if receipt == nil {
			logger.Warn("transaction without receipt, skipping", zap.String("tx", tx.Hash))
			continue
		}
		txs = append(txs, toTransaction(block, tx, receipt))
	}
	return txs
}

func toTransaction(block *fetcher.BlockSnapshot, tx *fetcher.Transaction, receipt *fetcher.Receipt) *models.Transaction {
	to := tx.To
	if to == "" {
		to = models.ZeroAddress
	}
	return &models.Transaction{
		Hash:                 tx.Hash,
		From:                 tx.From,
		To:                   to,
		Value:                tx.Value,
		Data:                 tx.Input,
		BlockNumber:          block.Number,
		BlockHash:            block.Hash,
		BlockTimestamp:       block.Timestamp,
		Gas:                  tx.Gas,
		GasPrice:             tx.GasPrice,
		MaxFeePerGas:         tx.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas,
		CumulativeGasUsed:    receipt.CumulativeGasUsed,
		EffectiveGasPrice:    receipt.EffectiveGasPrice,
		GasUsed:              receipt.GasUsed,
		ContractAddress:      receipt.ContractAddress,
		LogsBloom:            receipt.LogsBloom,
		Status:               receipt.Status == 1,
		TransactionIndex:     tx.TransactionIndex,
		Type:                 tx.Type,
		Nonce:                tx.Nonce,
	}
}

func contractAddresses(traces []*fetcher.TransactionTrace) []*models.ContractAddress {
	found := fetcher.ExtractContractAddresses(traces)
	contracts := make([]*models.ContractAddress, len(found))
	for i, c := range found {
		contracts[i] = &models.ContractAddress{
			Address:           c.Address,
			DeploymentTxHash:  c.DeploymentTxHash,
			DeploymentSender:  c.Deployer,
			DeploymentFactory: c.Factory,
			Bytecode:          c.Bytecode,
		}
	}
	return contracts
}
