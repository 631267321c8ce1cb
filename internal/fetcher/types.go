package fetcher

// BlockSnapshot is a normalized block with its full transactions.
// Counters are integers; amounts and fees are base-10 strings so that
// values above 2^64 survive; addresses and hashes are lower-case.
type BlockSnapshot struct {
	Number        uint64
	Hash          string
	ParentHash    string
	Timestamp     uint64
	GasLimit      uint64
	GasUsed       uint64
	BaseFeePerGas string
	Miner         string
	Size          uint64
	Transactions  []Transaction
}

// Transaction is a normalized transaction of a block
type Transaction struct {
	Hash                 string
	From                 string
	To                   string // empty for contract creation
	Input                string
	Value                string
	Nonce                uint64
	Gas                  string
	GasPrice             string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
	BlockNumber          uint64
	BlockHash            string
	TransactionIndex     uint64
	Type                 uint64
}

// Receipt is a normalized transaction receipt
type Receipt struct {
	TransactionHash   string
	TransactionIndex  uint64
	BlockNumber       uint64
	BlockHash         string
	From              string
	To                string
	Status            uint64
	GasUsed           string
	CumulativeGasUsed string
	EffectiveGasPrice string
	ContractAddress   string
	LogsBloom         string
}

// CallFrame is one call of a transaction's call tree
type CallFrame struct {
	Type    string      `json:"type"`
	From    string      `json:"from"`
	To      string      `json:"to,omitempty"`
	Value   string      `json:"value,omitempty"`
	Gas     string      `json:"gas,omitempty"`
	GasUsed string      `json:"gasUsed,omitempty"`
	Input   string      `json:"input,omitempty"`
	Output  string      `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
	Calls   []CallFrame `json:"calls,omitempty"`
}

// TransactionTrace is the call tree of one transaction
type TransactionTrace struct {
	Hash string
	Root CallFrame
}

// ContractAddress is a contract deployed by a CREATE or CREATE2 call
type ContractAddress struct {
	Address          string
	DeploymentTxHash string
	Deployer         string
	Factory          string
	Bytecode         string
}

// BlockData bundles everything fetched for one block
type BlockData struct {
	Block    *BlockSnapshot
	Receipts []*Receipt
	Traces   []*TransactionTrace
}

// ReceiptsByHash indexes the receipts by transaction hash
func (d *BlockData) ReceiptsByHash() map[string]*Receipt {
	index := make(map[string]*Receipt, len(d.Receipts))
	for _, r := range d.Receipts {
		if r != nil {
			index[r.TransactionHash] = r
		}
	}
	return index
}
