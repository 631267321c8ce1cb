package attribution

import (
	"context"

	"go.uber.org/zap"

	"github.com/chain-indexer/internal/fetcher"
	"github.com/chain-indexer/internal/models"
)

// TransactionStore reads persisted transactions. It returns nil, nil when
// the transaction is not stored.
type TransactionStore interface {
	Get(ctx context.Context, hash string) (*models.Transaction, error)
}

// ChainTransactions reads transactions from the chain
type ChainTransactions interface {
	FetchTransaction(ctx context.Context, hash string) (*fetcher.Transaction, error)
}

// StoredThenChain reads transactions from the primary store, falling back to
// the chain for transactions not yet persisted.
type StoredThenChain struct {
	store  TransactionStore
	chain  ChainTransactions
	logger *zap.Logger
}

// NewStoredThenChain creates a TransactionReader. store may be nil.
func NewStoredThenChain(store TransactionStore, chain ChainTransactions, logger *zap.Logger) *StoredThenChain {
	return &StoredThenChain{store: store, chain: chain, logger: logger}
}

// GetTransaction implements TransactionReader
func (r *StoredThenChain) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	if r.store != nil {
		stored, err := r.store.Get(ctx, hash)
		if err != nil {
			r.logger.Warn("transaction store lookup failed, reading from chain", zap.String("tx", hash), zap.Error(err))
		} else if stored != nil {
			return &Transaction{Hash: stored.Hash, From: stored.From, To: stored.To, Data: stored.Data}, nil
		}
	}

	tx, err := r.chain.FetchTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &Transaction{Hash: tx.Hash, From: tx.From, To: tx.To, Data: tx.Input}, nil
}
