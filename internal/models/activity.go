package models

// ActivityKind names the role an address plays in a transaction
type ActivityKind string

const (
	ActivitySent     ActivityKind = "sent"
	ActivityReceived ActivityKind = "received"
	ActivityDeploy   ActivityKind = "deploy"
)

// Activity is one address-centric view of a transaction, stored in ClickHouse
type Activity struct {
	TxHash       string       `json:"txHash" ch:"tx_hash"`
	Kind         ActivityKind `json:"kind" ch:"kind"`
	Address      string       `json:"address" ch:"address"`
	Counterparty string       `json:"counterparty" ch:"counterparty"`
	Value        string       `json:"value" ch:"value"`
	BlockNumber  uint64       `json:"blockNumber" ch:"block_number"`
	Timestamp    uint64       `json:"timestamp" ch:"timestamp"`
	Success      bool         `json:"success" ch:"success"`
}
