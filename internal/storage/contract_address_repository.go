package storage

import (
	"context"
	"strings"

	"github.com/chain-indexer/internal/models"
)

var contractAddressColumns = []column{
	{name: "address"},
	{name: "deployment_tx_hash"},
	{name: "deployment_sender"},
	{name: "deployment_factory"},
	{name: "bytecode"},
}

// ContractAddressRepository persists deployed contracts in Postgres
type ContractAddressRepository struct {
	db Querier
}

// NewContractAddressRepository creates a new contract address repository
func NewContractAddressRepository(db Querier) *ContractAddressRepository {
	return &ContractAddressRepository{db: db}
}

// Upsert stores contracts; the first recorded deployment of an address wins
func (r *ContractAddressRepository) Upsert(ctx context.Context, contracts []*models.ContractAddress) error {
	if len(contracts) == 0 {
		return nil
	}

	rows := make([][]any, len(contracts))
	for i, c := range contracts {
		rows[i] = []any{
			strings.ToLower(c.Address),
			strings.ToLower(c.DeploymentTxHash),
			strings.ToLower(c.DeploymentSender),
			strings.ToLower(c.DeploymentFactory),
			nullable(c.Bytecode),
		}
	}

	return upsertChunked(ctx, r.db, "contract_addresses", contractAddressColumns, "ON CONFLICT (address) DO NOTHING", rows)
}
