package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Trace strategies
const (
	StrategyDebug  = "debug"
	StrategyParity = "parity"
)

// Tracer fetches call trees using one family of node methods
type Tracer interface {
	Name() string
	Probe(ctx context.Context, call CallFunc) error
	TraceBlock(ctx context.Context, call CallFunc, block *BlockSnapshot) ([]*TransactionTrace, error)
	TraceTransaction(ctx context.Context, call CallFunc, hash string) (*TransactionTrace, error)
}

// NewTracer returns the tracer for a strategy name
func NewTracer(strategy string) (Tracer, error) {
	switch strategy {
	case StrategyDebug, "":
		return DebugTracer{}, nil
	case StrategyParity:
		return ParityTracer{}, nil
	default:
		return nil, fmt.Errorf("unknown trace strategy %q", strategy)
	}
}

var callTracerConfig = map[string]interface{}{"tracer": "callTracer"}

// DebugTracer uses debug_traceBlockByNumber / debug_traceTransaction with
// the callTracer.
type DebugTracer struct{}

func (DebugTracer) Name() string { return StrategyDebug }

func (DebugTracer) Probe(ctx context.Context, call CallFunc) error {
	var out json.RawMessage
	return call(ctx, &out, "debug_traceBlockByNumber", "latest", callTracerConfig)
}

type debugBlockResult struct {
	TxHash string     `json:"txHash"`
	Result *CallFrame `json:"result"`
	Error  string     `json:"error"`
}

// TraceBlock matches results to transactions by txHash, or by position when
// the node omits it.
func (DebugTracer) TraceBlock(ctx context.Context, call CallFunc, block *BlockSnapshot) ([]*TransactionTrace, error) {
	var results []debugBlockResult
	if err := call(ctx, &results, "debug_traceBlockByNumber", hexNumber(block.Number), callTracerConfig); err != nil {
		return nil, err
	}
	if len(results) != len(block.Transactions) {
		return nil, fmt.Errorf("block trace returned %d results for %d transactions", len(results), len(block.Transactions))
	}

	traces := make([]*TransactionTrace, 0, len(results))
	for i, r := range results {
		if r.Result == nil {
			continue
		}
		hash := strings.ToLower(r.TxHash)
		if hash == "" {
			hash = block.Transactions[i].Hash
		}
		traces = append(traces, &TransactionTrace{Hash: hash, Root: *r.Result})
	}
	return traces, nil
}

func (DebugTracer) TraceTransaction(ctx context.Context, call CallFunc, hash string) (*TransactionTrace, error) {
	var frame CallFrame
	if err := call(ctx, &frame, "debug_traceTransaction", hash, callTracerConfig); err != nil {
		return nil, err
	}
	return &TransactionTrace{Hash: strings.ToLower(hash), Root: frame}, nil
}

// ParityTracer uses trace_block / trace_transaction. The flat records are
// rebuilt into call trees.
type ParityTracer struct{}

type parityAction struct {
	CallType       string `json:"callType"`
	From           string `json:"from"`
	To             string `json:"to"`
	Input          string `json:"input"`
	Init           string `json:"init"`
	Value          string `json:"value"`
	Gas            string `json:"gas"`
	CreationMethod string `json:"creationMethod"`
	Address        string `json:"address"`
	RefundAddress  string `json:"refundAddress"`
}

type parityResult struct {
	Address string `json:"address"`
	Code    string `json:"code"`
	Output  string `json:"output"`
	GasUsed string `json:"gasUsed"`
}

type parityTrace struct {
	Action          parityAction  `json:"action"`
	Result          *parityResult `json:"result"`
	Error           string        `json:"error"`
	TraceAddress    []int         `json:"traceAddress"`
	TransactionHash string        `json:"transactionHash"`
	Type            string        `json:"type"`
}

func (ParityTracer) Name() string { return StrategyParity }

func (ParityTracer) Probe(ctx context.Context, call CallFunc) error {
	var out json.RawMessage
	return call(ctx, &out, "trace_block", "latest")
}

func (ParityTracer) TraceBlock(ctx context.Context, call CallFunc, block *BlockSnapshot) ([]*TransactionTrace, error) {
	var flat []parityTrace
	if err := call(ctx, &flat, "trace_block", hexNumber(block.Number)); err != nil {
		return nil, err
	}

	var order []string
	groups := make(map[string][]parityTrace)
	for _, t := range flat {
		// block and uncle rewards have no transaction
		if t.TransactionHash == "" {
			continue
		}
		hash := strings.ToLower(t.TransactionHash)
		if _, ok := groups[hash]; !ok {
			order = append(order, hash)
		}
		groups[hash] = append(groups[hash], t)
	}

	traces := make([]*TransactionTrace, 0, len(order))
	for _, hash := range order {
		trace, err := buildParityTree(hash, groups[hash])
		if err != nil {
			return nil, err
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func (ParityTracer) TraceTransaction(ctx context.Context, call CallFunc, hash string) (*TransactionTrace, error) {
	var flat []parityTrace
	if err := call(ctx, &flat, "trace_transaction", hash); err != nil {
		return nil, err
	}
	return buildParityTree(strings.ToLower(hash), flat)
}

// buildParityTree rebuilds a call tree from records listed depth-first, as
// the trace_* methods return them.
func buildParityTree(hash string, records []parityTrace) (*TransactionTrace, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("transaction %s has no trace records", hash)
	}
	if len(records[0].TraceAddress) != 0 {
		return nil, fmt.Errorf("transaction %s: first trace record is not the root", hash)
	}

	trace := &TransactionTrace{Hash: hash, Root: parityFrame(&records[0])}
	for i := 1; i < len(records); i++ {
		addr := records[i].TraceAddress
		if len(addr) == 0 {
			return nil, fmt.Errorf("transaction %s: duplicate root trace record", hash)
		}

		parent := &trace.Root
		for _, idx := range addr[:len(addr)-1] {
			if idx < 0 || idx >= len(parent.Calls) {
				return nil, fmt.Errorf("transaction %s: trace address %v has no parent", hash, addr)
			}
			parent = &parent.Calls[idx]
		}
		if last := addr[len(addr)-1]; last != len(parent.Calls) {
			return nil, fmt.Errorf("transaction %s: trace address %v out of order", hash, addr)
		}
		parent.Calls = append(parent.Calls, parityFrame(&records[i]))
	}
	return trace, nil
}

func parityFrame(t *parityTrace) CallFrame {
	frame := CallFrame{
		From:  strings.ToLower(t.Action.From),
		Value: t.Action.Value,
		Gas:   t.Action.Gas,
		Error: t.Error,
	}

	switch t.Type {
	case "create":
		frame.Type = "CREATE"
		if strings.EqualFold(t.Action.CreationMethod, "create2") {
			frame.Type = "CREATE2"
		}
		frame.Input = t.Action.Init
		if t.Result != nil {
			frame.To = strings.ToLower(t.Result.Address)
			frame.Output = t.Result.Code
			frame.GasUsed = t.Result.GasUsed
		}
	case "suicide":
		frame.Type = "SELFDESTRUCT"
		frame.From = strings.ToLower(t.Action.Address)
		frame.To = strings.ToLower(t.Action.RefundAddress)
	default:
		frame.Type = strings.ToUpper(t.Action.CallType)
		if frame.Type == "" {
			frame.Type = strings.ToUpper(t.Type)
		}
		frame.To = strings.ToLower(t.Action.To)
		frame.Input = t.Action.Input
		if t.Result != nil {
			frame.Output = t.Result.Output
			frame.GasUsed = t.Result.GasUsed
		}
	}
	return frame
}
