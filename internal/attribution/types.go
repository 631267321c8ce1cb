package attribution

import (
	"context"

	"github.com/chain-indexer/internal/models"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// TransactionReader loads a transaction by hash
	TransactionReader interface {
		GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	}
	// SourceRegistry looks up sources by the 4-byte tag of their domain
	SourceRegistry interface {
		GetByDomainHash(ctx context.Context, domainHash string) (*models.Source, error)
		GetOrInsert(ctx context.Context, domain string) (*models.Source, error)
	}
	// RouterRegistry maps router contract addresses to their source
	RouterRegistry interface {
		GetRouter(ctx context.Context, address string) (*models.Source, error)
	}
	// OrderSources resolves the declared source of an order
	OrderSources interface {
		ByOrderID(ctx context.Context, orderID string) (*models.Source, error)
		ByOrderKind(ctx context.Context, orderKind string, address string) (*models.Source, error)
	}
	// NonceReader reads the latest nonce of an address
	NonceReader interface {
		NonceAt(ctx context.Context, address string) (uint64, error)
	}
)

// Transaction is the part of a transaction attribution inspects
type Transaction struct {
	Hash string
	From string
	To   string
	Data string
}
