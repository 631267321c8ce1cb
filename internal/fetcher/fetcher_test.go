package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/retry"
)

type rpcHandler func(args []interface{}) (interface{}, error)

// fakeCaller answers JSON-RPC calls from per-method handlers
type fakeCaller struct {
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    map[string]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{handlers: map[string]rpcHandler{}, calls: map[string]int{}}
}

func (c *fakeCaller) on(method string, h rpcHandler) *fakeCaller {
	c.handlers[method] = h
	return c
}

func (c *fakeCaller) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *fakeCaller) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	c.mu.Lock()
	c.calls[method]++
	h, ok := c.handlers[method]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("the method %s does not exist/is not available", method)
	}
	resp, err := h(args)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

type countingLimiter struct {
	mu    sync.Mutex
	waits map[string]int
}

func (l *countingLimiter) Wait(_ context.Context, method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waits == nil {
		l.waits = map[string]int{}
	}
	l.waits[method]++
	return nil
}

func fastRetry() *retry.RetryConfig {
	return retry.FixedRetryConfig(10, time.Millisecond)
}

func newTestFetcher(caller Caller, caps Capabilities, tracer Tracer) *Fetcher {
	return New(caller, caps, zap.NewNop(), Options{Retry: fastRetry(), FanOut: 4, Tracer: tracer})
}

func blockJSON(number uint64, txHashes ...string) map[string]interface{} {
	txs := make([]map[string]interface{}, 0, len(txHashes))
	for i, h := range txHashes {
		txs = append(txs, map[string]interface{}{
			"hash":             h,
			"from":             "0xAAAA000000000000000000000000000000000001",
			"to":               "0xbbbb000000000000000000000000000000000002",
			"input":            "0x",
			"value":            "0xde0b6b3a7640000",
			"nonce":            "0x1",
			"gas":              "0x5208",
			"gasPrice":         "0x3b9aca00",
			"blockNumber":      hexutil.EncodeUint64(number),
			"blockHash":        "0xB10C",
			"transactionIndex": hexutil.EncodeUint64(uint64(i)),
			"type":             "0x2",
		})
	}
	return map[string]interface{}{
		"number":        hexutil.EncodeUint64(number),
		"hash":          "0xB10C",
		"parentHash":    "0x0000",
		"timestamp":     "0x5f5e100",
		"gasLimit":      "0x1c9c380",
		"gasUsed":       "0x5208",
		"baseFeePerGas": "0x7",
		"miner":         "0xMINER",
		"size":          "0x220",
		"transactions":  txs,
	}
}

func receiptJSON(hash string, index int) map[string]interface{} {
	return map[string]interface{}{
		"transactionHash":   hash,
		"transactionIndex":  hexutil.EncodeUint64(uint64(index)),
		"blockNumber":       "0x64",
		"blockHash":         "0xb10c",
		"from":              "0xaaaa000000000000000000000000000000000001",
		"to":                "0xbbbb000000000000000000000000000000000002",
		"status":            "0x1",
		"gasUsed":           "0x5208",
		"cumulativeGasUsed": "0x5208",
		"effectiveGasPrice": "0x7",
		"logsBloom":         "0x00",
	}
}

func TestFetchBlockNormalizes(t *testing.T) {
	caller := newFakeCaller().on("eth_getBlockByNumber", func(args []interface{}) (interface{}, error) {
		require.Equal(t, "0x64", args[0])
		require.Equal(t, true, args[1])
		return blockJSON(100, "0xT1"), nil
	})
	f := newTestFetcher(caller, Capabilities{}, nil)

	block, err := f.FetchBlock(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), block.Number)
	assert.Equal(t, "0xb10c", block.Hash)
	assert.Equal(t, uint64(100000000), block.Timestamp)
	assert.Equal(t, uint64(30000000), block.GasLimit)
	assert.Equal(t, "7", block.BaseFeePerGas)
	assert.Equal(t, "0xminer", block.Miner)
	assert.Equal(t, uint64(544), block.Size)

	require.Len(t, block.Transactions, 1)
	tx := block.Transactions[0]
	assert.Equal(t, "0xt1", tx.Hash)
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", tx.From)
	assert.Equal(t, "1000000000000000000", tx.Value)
	assert.Equal(t, "21000", tx.Gas)
	assert.Equal(t, "1000000000", tx.GasPrice)
	assert.Equal(t, uint64(1), tx.Nonce)
	assert.Equal(t, uint64(2), tx.Type)
}

func TestFetchBlockRetriesTransientFailures(t *testing.T) {
	var failures int
	caller := newFakeCaller().on("eth_getBlockByNumber", func([]interface{}) (interface{}, error) {
		if failures < 2 {
			failures++
			return nil, errors.New("connection reset")
		}
		return blockJSON(7), nil
	})
	limiter := &countingLimiter{}
	f := New(caller, Capabilities{}, zap.NewNop(), Options{Retry: fastRetry(), Limiter: limiter})

	block, err := f.FetchBlock(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), block.Number)
	assert.Equal(t, 3, caller.count("eth_getBlockByNumber"))
	assert.Equal(t, 3, limiter.waits["eth_getBlockByNumber"], "every attempt is paced")
}

func TestFetchBlockUnavailableAfterRetries(t *testing.T) {
	caller := newFakeCaller().on("eth_getBlockByNumber", func([]interface{}) (interface{}, error) {
		return nil, errors.New("upstream 502")
	})
	f := newTestFetcher(caller, Capabilities{}, nil)

	_, err := f.FetchBlock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 10, caller.count("eth_getBlockByNumber"))
}

func TestFetchBlockNullIsUnavailable(t *testing.T) {
	caller := newFakeCaller().on("eth_getBlockByNumber", func([]interface{}) (interface{}, error) {
		return nil, nil
	})
	f := newTestFetcher(caller, Capabilities{}, nil)

	_, err := f.FetchBlock(context.Background(), 1_000_000_000)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchReceiptsBulk(t *testing.T) {
	caller := newFakeCaller().on("eth_getBlockReceipts", func([]interface{}) (interface{}, error) {
		return []interface{}{receiptJSON("0xt1", 0), receiptJSON("0xt2", 1)}, nil
	})
	f := newTestFetcher(caller, Capabilities{BlockReceipts: true}, nil)

	block := &BlockSnapshot{Number: 100, Transactions: []Transaction{{Hash: "0xt1"}, {Hash: "0xt2"}}}
	receipts, err := f.FetchReceipts(context.Background(), block)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "21000", receipts[0].GasUsed)
	assert.Equal(t, uint64(1), receipts[1].Status)
	assert.Zero(t, caller.count("eth_getTransactionReceipt"))
}

func TestFetchReceiptsPerTransactionOmitsUnavailable(t *testing.T) {
	caller := newFakeCaller().on("eth_getTransactionReceipt", func(args []interface{}) (interface{}, error) {
		hash := args[0].(string)
		if hash == "0xt2" {
			return nil, errors.New("receipt not found")
		}
		return receiptJSON(hash, 0), nil
	})
	f := newTestFetcher(caller, Capabilities{}, nil)

	block := &BlockSnapshot{Number: 100, Transactions: []Transaction{{Hash: "0xt1"}, {Hash: "0xt2"}, {Hash: "0xt3"}}}
	receipts, err := f.FetchReceipts(context.Background(), block)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "0xt1", receipts[0].TransactionHash)
	assert.Equal(t, "0xt3", receipts[1].TransactionHash)
	assert.Zero(t, caller.count("eth_getBlockReceipts"))
}

func TestDebugTracerMatchesByHashThenIndex(t *testing.T) {
	caller := newFakeCaller().on("debug_traceBlockByNumber", func([]interface{}) (interface{}, error) {
		return []interface{}{
			map[string]interface{}{"txHash": "0xT1", "result": map[string]interface{}{"type": "CALL", "from": "0xa", "to": "0xb"}},
			map[string]interface{}{"result": map[string]interface{}{"type": "CALL", "from": "0xa", "to": "0xc"}},
		}, nil
	})
	f := newTestFetcher(caller, Capabilities{BlockTraces: true}, DebugTracer{})

	block := &BlockSnapshot{Number: 5, Transactions: []Transaction{{Hash: "0xt1"}, {Hash: "0xt2"}}}
	traces, err := f.FetchTraces(context.Background(), block)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "0xt1", traces[0].Hash)
	assert.Equal(t, "0xt2", traces[1].Hash)
	assert.Equal(t, "0xc", traces[1].Root.To)
}

func TestBulkTraceFailureFallsBackPerTransaction(t *testing.T) {
	caller := newFakeCaller().
		on("debug_traceBlockByNumber", func([]interface{}) (interface{}, error) {
			return nil, errors.New("tracing timed out")
		}).
		on("debug_traceTransaction", func(args []interface{}) (interface{}, error) {
			return map[string]interface{}{"type": "CALL", "from": "0xa", "to": args[0]}, nil
		})
	f := newTestFetcher(caller, Capabilities{BlockTraces: true}, DebugTracer{})

	block := &BlockSnapshot{Number: 5, Transactions: []Transaction{{Hash: "0xt1"}, {Hash: "0xt2"}}}
	traces, err := f.FetchTraces(context.Background(), block)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "0xt1", traces[0].Hash)
	assert.Equal(t, 2, caller.count("debug_traceTransaction"))
}

func TestBulkTraceCountMismatchFallsBack(t *testing.T) {
	caller := newFakeCaller().
		on("debug_traceBlockByNumber", func([]interface{}) (interface{}, error) {
			return []interface{}{}, nil
		}).
		on("debug_traceTransaction", func([]interface{}) (interface{}, error) {
			return map[string]interface{}{"type": "CALL"}, nil
		})
	f := newTestFetcher(caller, Capabilities{BlockTraces: true}, DebugTracer{})

	traces, err := f.FetchTraces(context.Background(), &BlockSnapshot{Transactions: []Transaction{{Hash: "0xt1"}}})
	require.NoError(t, err)
	assert.Len(t, traces, 1)
}

func TestFetchBlockData(t *testing.T) {
	caller := newFakeCaller().
		on("eth_getBlockByNumber", func([]interface{}) (interface{}, error) {
			return blockJSON(100, "0xt1", "0xt2"), nil
		}).
		on("eth_getBlockReceipts", func([]interface{}) (interface{}, error) {
			return []interface{}{receiptJSON("0xt1", 0)}, nil
		}).
		on("debug_traceBlockByNumber", func([]interface{}) (interface{}, error) {
			return []interface{}{
				map[string]interface{}{"txHash": "0xt1", "result": map[string]interface{}{"type": "CALL"}},
				map[string]interface{}{"txHash": "0xt2", "result": map[string]interface{}{"type": "CALL"}},
			}, nil
		})
	f := newTestFetcher(caller, Capabilities{BlockReceipts: true, BlockTraces: true}, DebugTracer{})

	data, err := f.FetchBlockData(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, data.Block.Transactions, 2)
	assert.Len(t, data.Receipts, 1)
	assert.Len(t, data.Traces, 2)
	receipts := data.ReceiptsByHash()
	assert.NotNil(t, receipts["0xt1"])
	assert.Nil(t, receipts["0xt2"])
}

func TestProbeCapabilities(t *testing.T) {
	caller := newFakeCaller().on("eth_getBlockReceipts", func([]interface{}) (interface{}, error) {
		return []interface{}{}, nil
	})

	caps := ProbeCapabilities(context.Background(), caller, DebugTracer{}, zap.NewNop())
	assert.True(t, caps.BlockReceipts)
	assert.False(t, caps.BlockTraces)
	assert.Equal(t, 1, caller.count("debug_traceBlockByNumber"), "probes are not retried")

	caller.on("trace_block", func([]interface{}) (interface{}, error) { return []interface{}{}, nil })
	caps = ProbeCapabilities(context.Background(), caller, ParityTracer{}, zap.NewNop())
	assert.True(t, caps.BlockTraces)
}

func TestNewTracer(t *testing.T) {
	tr, err := NewTracer("parity")
	require.NoError(t, err)
	assert.Equal(t, StrategyParity, tr.Name())

	tr, err = NewTracer("")
	require.NoError(t, err)
	assert.Equal(t, StrategyDebug, tr.Name())

	_, err = NewTracer("geth")
	assert.Error(t, err)
}

func TestFetchTransactionAndNonce(t *testing.T) {
	caller := newFakeCaller().
		on("eth_getTransactionByHash", func(args []interface{}) (interface{}, error) {
			return map[string]interface{}{
				"hash": args[0], "from": "0xAA", "to": "0xBB", "input": "0xDEADBEEF",
				"value": "0x10", "nonce": "0x2", "gas": "0x5208", "blockNumber": "0x64",
			}, nil
		}).
		on("eth_getTransactionCount", func(args []interface{}) (interface{}, error) {
			require.Equal(t, "latest", args[1])
			return "0x1f", nil
		})
	f := newTestFetcher(caller, Capabilities{}, nil)

	tx, err := f.FetchTransaction(context.Background(), "0xT1")
	require.NoError(t, err)
	assert.Equal(t, "0xt1", tx.Hash)
	assert.Equal(t, "0xdeadbeef", tx.Input)
	assert.Equal(t, "16", tx.Value)
	assert.Equal(t, uint64(100), tx.BlockNumber)

	nonce, err := f.NonceAt(context.Background(), "0xaa")
	require.NoError(t, err)
	assert.Equal(t, uint64(31), nonce)
}
