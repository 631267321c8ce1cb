package fetcher

import (
	"context"
	"strings"

	apperrors "github.com/chain-indexer/internal/errors"
)

// FetchTransaction returns a single normalized transaction
func (f *Fetcher) FetchTransaction(ctx context.Context, hash string) (*Transaction, error) {
	var raw rawTransaction
	if err := f.call(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}

	p := &fieldParser{}
	tx := &Transaction{
		Hash:                 strings.ToLower(raw.Hash),
		From:                 strings.ToLower(raw.From),
		To:                   strings.ToLower(raw.To),
		Input:                strings.ToLower(raw.Input),
		Value:                p.quantity("value", raw.Value),
		Nonce:                p.uint64("nonce", raw.Nonce),
		Gas:                  p.quantity("gas", raw.Gas),
		GasPrice:             p.quantity("gasPrice", raw.GasPrice),
		MaxFeePerGas:         p.quantity("maxFeePerGas", raw.MaxFeePerGas),
		MaxPriorityFeePerGas: p.quantity("maxPriorityFeePerGas", raw.MaxPriorityFeePerGas),
		BlockNumber:          p.uint64("blockNumber", raw.BlockNumber),
		BlockHash:            strings.ToLower(raw.BlockHash),
		TransactionIndex:     p.uint64("transactionIndex", raw.TransactionIndex),
		Type:                 p.uint64("type", raw.Type),
	}
	if p.err != nil {
		return nil, apperrors.NewDataShapeError("transaction", p.err)
	}
	return tx, nil
}

// NonceAt returns the latest transaction count of address
func (f *Fetcher) NonceAt(ctx context.Context, address string) (uint64, error) {
	var raw string
	if err := f.call(ctx, &raw, "eth_getTransactionCount", address, "latest"); err != nil {
		return 0, err
	}
	n, err := parseUint64("nonce", raw)
	if err != nil {
		return 0, apperrors.NewDataShapeError("nonce", err)
	}
	return n, nil
}
