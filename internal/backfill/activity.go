package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/config"
	"github.com/chain-indexer/internal/models"
	"github.com/chain-indexer/internal/queue"
	"github.com/chain-indexer/internal/storage"
)

// DefaultActivityPageLimit is the page size when no override is set
const DefaultActivityPageLimit = 1000

// ActivityJob rebuilds activity records from stored transactions after Cursor
type ActivityJob struct {
	Cursor storage.TransactionCursor `json:"cursor"`
}

// TransactionPager pages stored transactions
type TransactionPager interface {
	Page(ctx context.Context, cursor storage.TransactionCursor, limit int) ([]*models.Transaction, error)
}

// ActivityHandler rebuilds the analytics activity records from the primary
// store, one page per job, re-enqueuing itself until a page comes back empty
type ActivityHandler struct {
	cfg          queue.HandlerConfig
	self         *queue.Queue
	txs          TransactionPager
	activities   ActivityWriter
	rdb          redis.UniversalClient
	defaultLimit int
	pace         ratelimit.Limiter
	logger       *zap.Logger
}

// NewActivityHandler creates an ActivityHandler
func NewActivityHandler(broker queue.Broker, txs TransactionPager, activities ActivityWriter, rdb redis.UniversalClient, cfg config.BackfillConfig, logger *zap.Logger) *ActivityHandler {
	hcfg := ActivityConfig()
	pace := ratelimit.NewUnlimited()
	if cfg.ActivityPagesPerSecond > 0 {
		pace = ratelimit.New(cfg.ActivityPagesPerSecond)
	}
	return &ActivityHandler{
		cfg:          hcfg,
		self:         queue.NewQueue(broker, hcfg),
		txs:          txs,
		activities:   activities,
		rdb:          rdb,
		defaultLimit: orDefault(cfg.ActivityPageLimit, DefaultActivityPageLimit),
		pace:         pace,
		logger:       logger.Named("activity-backfill"),
	}
}

// Start enqueues a rebuild from the first stored transaction
func (h *ActivityHandler) Start(ctx context.Context) error {
	_, err := h.self.Enqueue(ctx, ActivityJob{})
	return err
}

// Config implements queue.Handler
func (h *ActivityHandler) Config() queue.HandlerConfig { return h.cfg }

// LimitKey is the Redis key overriding the page size
func (h *ActivityHandler) LimitKey() string {
	return h.cfg.QueueName + "-limit"
}

// pageLimit reads the page size override, falling back to the default
func (h *ActivityHandler) pageLimit(ctx context.Context) int {
	v, err := h.rdb.Get(ctx, h.LimitKey()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.logger.Warn("failed to read page limit", zap.Error(err))
		}
		return h.defaultLimit
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return h.defaultLimit
	}
	return limit
}

// Process implements queue.Handler
func (h *ActivityHandler) Process(ctx context.Context, job *queue.Job) error {
	aj, err := queue.Decode[ActivityJob](job)
	if err != nil {
		return err
	}

	limit := h.pageLimit(ctx)
	h.pace.Take()
	if err := ctx.Err(); err != nil {
		return err
	}

	txs, err := h.txs.Page(ctx, aj.Cursor, limit)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		h.logger.Info("activity backfill complete", zap.Uint64("last_block", aj.Cursor.BlockNumber))
		return nil
	}

	var activities []*models.Activity
	for _, tx := range txs {
		activities = append(activities, tx.Activities()...)
	}
	if err := h.activities.Insert(ctx, activities); err != nil {
		return fmt.Errorf("insert activities: %w", err)
	}

	last := txs[len(txs)-1]
	next := ActivityJob{Cursor: storage.TransactionCursor{BlockNumber: last.BlockNumber, Hash: last.Hash}}
	if _, err := h.self.Enqueue(ctx, next); err != nil {
		return fmt.Errorf("enqueue next activity page: %w", err)
	}

	h.logger.Debug("activity page done",
		zap.Int("transactions", len(txs)),
		zap.Int("activities", len(activities)),
		zap.Uint64("cursor_block", last.BlockNumber))
	return nil
}
