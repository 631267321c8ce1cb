package models

import (
	"strings"
)

// ZeroAddress is stored as the recipient of contract creations
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Transaction represents a mined transaction stored in Postgres.
// Amounts and fees are base-10 strings; empty means unknown.
type Transaction struct {
	Hash                 string `json:"hash" db:"hash"`
	From                 string `json:"from" db:"from"`
	To                   string `json:"to" db:"to"`
	Value                string `json:"value" db:"value"`
	Data                 string `json:"data,omitempty" db:"data"`
	BlockNumber          uint64 `json:"blockNumber" db:"block_number"`
	BlockHash            string `json:"blockHash" db:"block_hash"`
	BlockTimestamp       uint64 `json:"blockTimestamp" db:"block_timestamp"`
	Gas                  string `json:"gas,omitempty" db:"gas"`
	GasPrice             string `json:"gasPrice,omitempty" db:"gas_price"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty" db:"max_fee_per_gas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty" db:"max_priority_fee_per_gas"`
	CumulativeGasUsed    string `json:"cumulativeGasUsed,omitempty" db:"cumulative_gas_used"`
	EffectiveGasPrice    string `json:"effectiveGasPrice,omitempty" db:"effective_gas_price"`
	GasUsed              string `json:"gasUsed,omitempty" db:"gas_used"`
	ContractAddress      string `json:"contractAddress,omitempty" db:"contract_address"`
	LogsBloom            string `json:"logsBloom,omitempty" db:"logs_bloom"`
	Status               bool   `json:"status" db:"status"`
	TransactionIndex     uint64 `json:"transactionIndex" db:"transaction_index"`
	Type                 uint64 `json:"type" db:"type"`
	Nonce                uint64 `json:"nonce" db:"nonce"`
}

// IsContractCreation reports whether the transaction deployed a contract
func (t *Transaction) IsContractCreation() bool {
	return t.To == ZeroAddress && t.ContractAddress != ""
}

// Activities derives the per-address activity records of a transaction
func (t *Transaction) Activities() []*Activity {
	base := Activity{
		TxHash:      t.Hash,
		Value:       t.Value,
		BlockNumber: t.BlockNumber,
		Timestamp:   t.BlockTimestamp,
		Success:     t.Status,
	}

	sent := base
	sent.Kind = ActivitySent
	sent.Address = t.From
	sent.Counterparty = t.To

	if t.IsContractCreation() {
		sent.Kind = ActivityDeploy
		sent.Counterparty = t.ContractAddress
		return []*Activity{&sent}
	}

	// self transfers produce a single record
	if strings.EqualFold(t.From, t.To) {
		return []*Activity{&sent}
	}

	received := base
	received.Kind = ActivityReceived
	received.Address = t.To
	received.Counterparty = t.From
	return []*Activity{&sent, &received}
}
