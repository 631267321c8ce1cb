package fetcher

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// rawBlock mirrors eth_getBlockByNumber with full transactions. Quantities
// are kept as strings so both hex and decimal renderings decode.
type rawBlock struct {
	Number        string           `json:"number"`
	Hash          string           `json:"hash"`
	ParentHash    string           `json:"parentHash"`
	Timestamp     string           `json:"timestamp"`
	GasLimit      string           `json:"gasLimit"`
	GasUsed       string           `json:"gasUsed"`
	BaseFeePerGas string           `json:"baseFeePerGas,omitempty"`
	Miner         string           `json:"miner"`
	Size          string           `json:"size"`
	Transactions  []rawTransaction `json:"transactions"`
}

type rawTransaction struct {
	Hash                 string `json:"hash"`
	From                 string `json:"from"`
	To                   string `json:"to,omitempty"`
	Input                string `json:"input"`
	Value                string `json:"value"`
	Nonce                string `json:"nonce"`
	Gas                  string `json:"gas"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	BlockNumber          string `json:"blockNumber"`
	BlockHash            string `json:"blockHash"`
	TransactionIndex     string `json:"transactionIndex"`
	Type                 string `json:"type,omitempty"`
}

type rawReceipt struct {
	TransactionHash   string `json:"transactionHash"`
	TransactionIndex  string `json:"transactionIndex"`
	BlockNumber       string `json:"blockNumber"`
	BlockHash         string `json:"blockHash"`
	From              string `json:"from"`
	To                string `json:"to,omitempty"`
	Status            string `json:"status"`
	GasUsed           string `json:"gasUsed"`
	CumulativeGasUsed string `json:"cumulativeGasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice,omitempty"`
	ContractAddress   string `json:"contractAddress,omitempty"`
	LogsBloom         string `json:"logsBloom"`
}

// NormalizeQuantity renders a hex or decimal quantity as a canonical base-10
// string. Applying it to its own output returns the same value.
func NormalizeQuantity(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	n := new(big.Int)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return "0", nil
		}
		if _, ok := n.SetString(digits, 16); !ok {
			return "", fmt.Errorf("invalid hex quantity %q", s)
		}
	} else if _, ok := n.SetString(s, 10); !ok {
		return "", fmt.Errorf("invalid quantity %q", s)
	}
	if n.Sign() < 0 {
		return "", fmt.Errorf("negative quantity %q", s)
	}
	return n.String(), nil
}

func parseUint64(field, s string) (uint64, error) {
	dec, err := NormalizeQuantity(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if dec == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(dec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// fieldParser collects the first error of a series of conversions
type fieldParser struct {
	err error
}

func (p *fieldParser) uint64(field, s string) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := parseUint64(field, s)
	p.err = err
	return v
}

func (p *fieldParser) quantity(field, s string) string {
	if p.err != nil {
		return ""
	}
	v, err := NormalizeQuantity(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}

func hexNumber(n uint64) string {
	return hexutil.EncodeUint64(n)
}

func normalizeBlock(raw *rawBlock) (*BlockSnapshot, error) {
	if raw.Hash == "" {
		return nil, fmt.Errorf("block has no hash")
	}

	p := &fieldParser{}
	block := &BlockSnapshot{
		Number:        p.uint64("number", raw.Number),
		Hash:          strings.ToLower(raw.Hash),
		ParentHash:    strings.ToLower(raw.ParentHash),
		Timestamp:     p.uint64("timestamp", raw.Timestamp),
		GasLimit:      p.uint64("gasLimit", raw.GasLimit),
		GasUsed:       p.uint64("gasUsed", raw.GasUsed),
		BaseFeePerGas: p.quantity("baseFeePerGas", raw.BaseFeePerGas),
		Miner:         strings.ToLower(raw.Miner),
		Size:          p.uint64("size", raw.Size),
		Transactions:  make([]Transaction, 0, len(raw.Transactions)),
	}
	if p.err != nil {
		return nil, fmt.Errorf("block %s: %w", raw.Number, p.err)
	}

	for i := range raw.Transactions {
		rt := &raw.Transactions[i]
		tx := Transaction{
			Hash:                 strings.ToLower(rt.Hash),
			From:                 strings.ToLower(rt.From),
			To:                   strings.ToLower(rt.To),
			Input:                strings.ToLower(rt.Input),
			Value:                p.quantity("value", rt.Value),
			Nonce:                p.uint64("nonce", rt.Nonce),
			Gas:                  p.quantity("gas", rt.Gas),
			GasPrice:             p.quantity("gasPrice", rt.GasPrice),
			MaxFeePerGas:         p.quantity("maxFeePerGas", rt.MaxFeePerGas),
			MaxPriorityFeePerGas: p.quantity("maxPriorityFeePerGas", rt.MaxPriorityFeePerGas),
			BlockNumber:          p.uint64("blockNumber", rt.BlockNumber),
			BlockHash:            strings.ToLower(rt.BlockHash),
			TransactionIndex:     p.uint64("transactionIndex", rt.TransactionIndex),
			Type:                 p.uint64("type", rt.Type),
		}
		if p.err != nil {
			return nil, fmt.Errorf("transaction %s: %w", rt.Hash, p.err)
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

// raw renders a snapshot back into the wire shape using decimal quantities
func (b *BlockSnapshot) raw() *rawBlock {
	out := &rawBlock{
		Number:        strconv.FormatUint(b.Number, 10),
		Hash:          b.Hash,
		ParentHash:    b.ParentHash,
		Timestamp:     strconv.FormatUint(b.Timestamp, 10),
		GasLimit:      strconv.FormatUint(b.GasLimit, 10),
		GasUsed:       strconv.FormatUint(b.GasUsed, 10),
		BaseFeePerGas: b.BaseFeePerGas,
		Miner:         b.Miner,
		Size:          strconv.FormatUint(b.Size, 10),
	}
	for _, tx := range b.Transactions {
		out.Transactions = append(out.Transactions, rawTransaction{
			Hash:                 tx.Hash,
			From:                 tx.From,
			To:                   tx.To,
			Input:                tx.Input,
			Value:                tx.Value,
			Nonce:                strconv.FormatUint(tx.Nonce, 10),
			Gas:                  tx.Gas,
			GasPrice:             tx.GasPrice,
			MaxFeePerGas:         tx.MaxFeePerGas,
			MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas,
			BlockNumber:          strconv.FormatUint(tx.BlockNumber, 10),
			BlockHash:            tx.BlockHash,
			TransactionIndex:     strconv.FormatUint(tx.TransactionIndex, 10),
			Type:                 strconv.FormatUint(tx.Type, 10),
		})
	}
	return out
}

func normalizeReceipt(raw *rawReceipt) (*Receipt, error) {
	p := &fieldParser{}
	r := &Receipt{
		TransactionHash:   strings.ToLower(raw.TransactionHash),
		TransactionIndex:  p.uint64("transactionIndex", raw.TransactionIndex),
		BlockNumber:       p.uint64("blockNumber", raw.BlockNumber),
		BlockHash:         strings.ToLower(raw.BlockHash),
		From:              strings.ToLower(raw.From),
		To:                strings.ToLower(raw.To),
		Status:            p.uint64("status", raw.Status),
		GasUsed:           p.quantity("gasUsed", raw.GasUsed),
		CumulativeGasUsed: p.quantity("cumulativeGasUsed", raw.CumulativeGasUsed),
		EffectiveGasPrice: p.quantity("effectiveGasPrice", raw.EffectiveGasPrice),
		ContractAddress:   strings.ToLower(raw.ContractAddress),
		LogsBloom:         raw.LogsBloom,
	}
	if p.err != nil {
		return nil, fmt.Errorf("receipt %s: %w", raw.TransactionHash, p.err)
	}
	if r.TransactionHash == "" {
		return nil, fmt.Errorf("receipt has no transaction hash")
	}
	return r, nil
}
