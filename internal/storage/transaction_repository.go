package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/chain-indexer/internal/models"
)

var transactionColumns = []column{
	{name: "hash"},
	{name: `"from"`},
	{name: `"to"`},
	{name: "value", cast: numericCast},
	{name: "data"},
	{name: "block_number"},
	{name: "block_hash"},
	{name: "block_timestamp"},
	{name: "gas", cast: numericCast},
	{name: "gas_price", cast: numericCast},
	{name: "max_fee_per_gas", cast: numericCast},
	{name: "max_priority_fee_per_gas", cast: numericCast},
	{name: "cumulative_gas_used", cast: numericCast},
	{name: "effective_gas_price", cast: numericCast},
	{name: "gas_used", cast: numericCast},
	{name: "contract_address"},
	{name: "logs_bloom"},
	{name: "status"},
	{name: "transaction_index"},
	{name: "type"},
	{name: "nonce"},
}

const transactionSelect = `
	SELECT hash, "from", "to", value::text, COALESCE(data, ''), block_number, block_hash, block_timestamp,
		COALESCE(gas::text, ''), COALESCE(gas_price::text, ''), COALESCE(max_fee_per_gas::text, ''),
		COALESCE(max_priority_fee_per_gas::text, ''), COALESCE(cumulative_gas_used::text, ''),
		COALESCE(effective_gas_price::text, ''), COALESCE(gas_used::text, ''),
		COALESCE(contract_address, ''), COALESCE(logs_bloom, ''), status, transaction_index, type, nonce
	FROM transactions
`

// TransactionCursor positions a page of transactions. The zero value starts
// from the beginning.
type TransactionCursor struct {
	BlockNumber uint64 `json:"blockNumber"`
	Hash        string `json:"hash"`
}

// TransactionRepository persists transactions in Postgres
type TransactionRepository struct {
	db Querier
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db Querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Upsert stores transactions, leaving already stored hashes untouched
func (r *TransactionRepository) Upsert(ctx context.Context, txs []*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	rows := make([][]any, len(txs))
	for i, tx := range txs {
		rows[i] = []any{
			strings.ToLower(tx.Hash),
			strings.ToLower(tx.From),
			strings.ToLower(tx.To),
			tx.Value,
			tx.Data,
			tx.BlockNumber,
			strings.ToLower(tx.BlockHash),
			tx.BlockTimestamp,
			tx.Gas,
			tx.GasPrice,
			tx.MaxFeePerGas,
			tx.MaxPriorityFeePerGas,
			tx.CumulativeGasUsed,
			tx.EffectiveGasPrice,
			tx.GasUsed,
			nullable(strings.ToLower(tx.ContractAddress)),
			nullable(tx.LogsBloom),
			tx.Status,
			tx.TransactionIndex,
			tx.Type,
			tx.Nonce,
		}
	}

	return upsertChunked(ctx, r.db, "transactions", transactionColumns, "ON CONFLICT (hash) DO NOTHING", rows)
}

// Get returns the stored transaction, or nil when hash is unknown
func (r *TransactionRepository) Get(ctx context.Context, hash string) (*models.Transaction, error) {
	row := r.db.QueryRow(ctx, transactionSelect+" WHERE hash = $1", strings.ToLower(hash))
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash, err)
	}
	return tx, nil
}

// Page returns up to limit transactions ordered by (block_number, hash)
// strictly after cursor
func (r *TransactionRepository) Page(ctx context.Context, cursor TransactionCursor, limit int) ([]*models.Transaction, error) {
	rows, err := r.db.Query(ctx, transactionSelect+`
		WHERE (block_number, hash) > ($1, $2)
		ORDER BY block_number, hash
		LIMIT $3
	`, cursor.BlockNumber, strings.ToLower(cursor.Hash), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.Hash, &tx.From, &tx.To, &tx.Value, &tx.Data, &tx.BlockNumber, &tx.BlockHash, &tx.BlockTimestamp,
		&tx.Gas, &tx.GasPrice, &tx.MaxFeePerGas, &tx.MaxPriorityFeePerGas, &tx.CumulativeGasUsed,
		&tx.EffectiveGasPrice, &tx.GasUsed, &tx.ContractAddress, &tx.LogsBloom, &tx.Status,
		&tx.TransactionIndex, &tx.Type, &tx.Nonce,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
