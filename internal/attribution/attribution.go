// Package attribution resolves which marketplace, aggregator and router are
// credited for filling an order.
package attribution

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chain-indexer/internal/models"
)

// MetaAggregatorDomain marks fills routed through the meta aggregator
const MetaAggregatorDomain = "reservoir.tools"

var aggregatorDomains = map[string]struct{}{
	"gem.xyz":        {},
	"blur.io":        {},
	"alphasharks.io": {},
	"magically.gg":   {},
}

// Options narrows the order being attributed
type Options struct {
	Address string
	OrderID string
}

// Result holds the attribution of a fill. Any source may be nil.
type Result struct {
	OrderSource      *models.Source
	FillSource       *models.Source
	AggregatorSource *models.Source
	Taker            string
	TakerNonce       *uint64
}

// Attributor resolves fill attribution
type Attributor struct {
	txs     TransactionReader
	sources SourceRegistry
	routers RouterRegistry
	orders  OrderSources
	nonces  *NonceCache
	logger  *zap.Logger
}

// Option configures an Attributor
type Option func(*Attributor)

// WithNonceCache resolves the taker's nonce through cache
func WithNonceCache(cache *NonceCache) Option {
	return func(a *Attributor) { a.nonces = cache }
}

// New creates an Attributor
func New(txs TransactionReader, sources SourceRegistry, routers RouterRegistry, orders OrderSources, logger *zap.Logger, opts ...Option) *Attributor {
	a := &Attributor{
		txs:     txs,
		sources: sources,
		routers: routers,
		orders:  orders,
		logger:  logger.Named("attribution"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Extract attributes the fill made by txHash of an order of kind orderKind
func (a *Attributor) Extract(ctx context.Context, txHash, orderKind string, opts Options) (*Result, error) {
	res := &Result{}

	var err error
	if opts.OrderID != "" {
		if res.OrderSource, err = a.orders.ByOrderID(ctx, opts.OrderID); err != nil {
			return nil, fmt.Errorf("order source of %s: %w", opts.OrderID, err)
		}
	}
	if res.OrderSource == nil {
		if res.OrderSource, err = a.orders.ByOrderKind(ctx, orderKind, opts.Address); err != nil {
			return nil, fmt.Errorf("order source of kind %s: %w", orderKind, err)
		}
	}

	tx, err := a.txs.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", txHash, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s not found", txHash)
	}
	if nested, ok := unwrapNested(tx); ok {
		tx = nested
	}
	data := strings.ToLower(tx.Data)

	router, err := a.routers.GetRouter(ctx, strings.ToLower(tx.To))
	if err != nil {
		return nil, fmt.Errorf("router lookup: %w", err)
	}
	if router == nil {
		if recipient, ok := transferRecipient(data); ok {
			if router, err = a.routers.GetRouter(ctx, recipient); err != nil {
				return nil, fmt.Errorf("router lookup: %w", err)
			}
		}
	}
	if router != nil {
		res.Taker = strings.ToLower(tx.From)
	}

	tagged, err := a.sources.GetByDomainHash(ctx, lastDomainHash(data))
	if err != nil {
		return nil, fmt.Errorf("source lookup: %w", err)
	}

	switch {
	case tagged != nil:
		if _, ok := aggregatorDomains[tagged.Domain]; ok {
			if res.AggregatorSource, err = a.sources.GetOrInsert(ctx, tagged.Domain); err != nil {
				return nil, fmt.Errorf("aggregator source: %w", err)
			}
		}
		if res.FillSource, err = a.sources.GetOrInsert(ctx, tagged.Domain); err != nil {
			return nil, fmt.Errorf("fill source: %w", err)
		}
	case router != nil:
		res.FillSource = router
	default:
		res.FillSource = res.OrderSource
	}

	meta, err := a.sources.GetByDomainHash(ctx, precedingDomainHash(data))
	if err != nil {
		return nil, fmt.Errorf("source lookup: %w", err)
	}
	if meta != nil && meta.Domain == MetaAggregatorDomain {
		res.AggregatorSource = meta
	}

	if res.Taker != "" && a.nonces != nil {
		if nonce, err := a.nonces.Get(ctx, res.Taker); err != nil {
			a.logger.Debug("taker nonce unavailable", zap.String("taker", res.Taker), zap.Error(err))
		} else {
			res.TakerNonce = &nonce
		}
	}

	return res, nil
}
