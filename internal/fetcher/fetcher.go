package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/chain-indexer/internal/errors"
	"github.com/chain-indexer/internal/logging"
	"github.com/chain-indexer/internal/metrics"
	"github.com/chain-indexer/internal/retry"
)

// ErrUnavailable is returned when a call still fails after its retries
var ErrUnavailable = errors.New("chain data unavailable")

var errNullResult = errors.New("null result")

// Caller issues JSON-RPC calls. *rpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Limiter paces outgoing calls
type Limiter interface {
	Wait(ctx context.Context, method string) error
}

// CallFunc is the retried call a Tracer issues its requests through
type CallFunc func(ctx context.Context, result interface{}, method string, args ...interface{}) error

// Capabilities records which bulk methods the node supports
type Capabilities struct {
	BlockReceipts bool
	BlockTraces   bool
}

// Options configures a Fetcher
type Options struct {
	Retry   *retry.RetryConfig
	FanOut  int
	Limiter Limiter
	Tracer  Tracer
}

// Fetcher reads blocks, receipts and traces from a chain node
type Fetcher struct {
	caller  Caller
	caps    Capabilities
	tracer  Tracer
	retry   *retry.RetryConfig
	fanOut  int
	limiter Limiter
	logger  *zap.Logger
	metrics metrics.Fetcher
}

// New creates a Fetcher. Capabilities normally come from ProbeCapabilities.
func New(caller Caller, caps Capabilities, logger *zap.Logger, opts Options) *Fetcher {
	if opts.Retry == nil {
		opts.Retry = retry.FixedRetryConfig(10, 200*time.Millisecond)
	}
	if opts.FanOut < 1 {
		opts.FanOut = 16
	}
	if opts.Tracer == nil {
		opts.Tracer = DebugTracer{}
	}
	return &Fetcher{
		caller:  caller,
		caps:    caps,
		tracer:  opts.Tracer,
		retry:   opts.Retry,
		fanOut:  opts.FanOut,
		limiter: opts.Limiter,
		logger:  logger.Named("fetcher"),
		metrics: metrics.NewFetcher(),
	}
}

// Capabilities returns the capabilities the fetcher was created with
func (f *Fetcher) Capabilities() Capabilities {
	return f.caps
}

// ProbeCapabilities checks once which bulk methods the node serves.
// Probes are not retried; a failing probe means the method is unsupported.
func ProbeCapabilities(ctx context.Context, caller Caller, tracer Tracer, logger *zap.Logger) Capabilities {
	var caps Capabilities

	var receipts json.RawMessage
	caps.BlockReceipts = caller.CallContext(ctx, &receipts, "eth_getBlockReceipts", "latest") == nil

	direct := func(ctx context.Context, result interface{}, method string, args ...interface{}) error {
		return caller.CallContext(ctx, result, method, args...)
	}
	if tracer == nil {
		tracer = DebugTracer{}
	}
	caps.BlockTraces = tracer.Probe(ctx, direct) == nil

	logger.Info("probed node capabilities",
		zap.Bool("blockReceipts", caps.BlockReceipts),
		zap.Bool("blockTraces", caps.BlockTraces),
		zap.String("traceStrategy", tracer.Name()))
	return caps
}

// call issues one logical RPC call with pacing and bounded retries
func (f *Fetcher) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	started := time.Now()
	var raw json.RawMessage

	res := retry.Do(logging.WithLogger(ctx, f.logger), f.retry, func(ctx context.Context, attempt int) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, method); err != nil {
				return err
			}
		}
		raw = nil
		if err := f.caller.CallContext(ctx, &raw, method, args...); err != nil {
			return err
		}
		if len(raw) == 0 || string(raw) == "null" {
			return errNullResult
		}
		return nil
	})
	f.metrics.ObserveCall(method, res.LastError, res.Attempts, started)

	if !res.Success {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, method, res.Attempts, res.LastError)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return apperrors.NewDataShapeError(method, err)
	}
	return nil
}

// FetchBlock returns the normalized block with its transactions
func (f *Fetcher) FetchBlock(ctx context.Context, number uint64) (*BlockSnapshot, error) {
	var raw rawBlock
	if err := f.call(ctx, &raw, "eth_getBlockByNumber", hexNumber(number), true); err != nil {
		return nil, err
	}
	block, err := normalizeBlock(&raw)
	if err != nil {
		return nil, apperrors.NewDataShapeError("block", err)
	}
	return block, nil
}

// FetchReceipts returns the receipts of block's transactions. Receipts that
// stay unavailable are omitted.
func (f *Fetcher) FetchReceipts(ctx context.Context, block *BlockSnapshot) ([]*Receipt, error) {
	if len(block.Transactions) == 0 {
		return nil, nil
	}

	if f.caps.BlockReceipts {
		var raws []rawReceipt
		err := f.call(ctx, &raws, "eth_getBlockReceipts", hexNumber(block.Number))
		if err == nil {
			receipts := make([]*Receipt, 0, len(raws))
			for i := range raws {
				r, err := normalizeReceipt(&raws[i])
				if err != nil {
					return nil, apperrors.NewDataShapeError("receipt", err)
				}
				receipts = append(receipts, r)
			}
			return receipts, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		f.logger.Warn("bulk receipts unavailable, falling back to per-transaction calls",
			zap.Uint64("block", block.Number), zap.Error(err))
	}

	return f.receiptsByTransaction(ctx, block)
}

func (f *Fetcher) receiptsByTransaction(ctx context.Context, block *BlockSnapshot) ([]*Receipt, error) {
	results := make([]*Receipt, len(block.Transactions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fanOut)
	for i := range block.Transactions {
		i, hash := i, block.Transactions[i].Hash
		g.Go(func() error {
			var raw rawReceipt
			if err := f.call(gctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
				if errors.Is(err, ErrUnavailable) {
					f.logger.Error("receipt unavailable", zap.Uint64("block", block.Number), zap.String("tx", hash), zap.Error(err))
					return nil
				}
				return err
			}
			r, err := normalizeReceipt(&raw)
			if err != nil {
				return apperrors.NewDataShapeError("receipt", err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	receipts := make([]*Receipt, 0, len(results))
	for _, r := range results {
		if r != nil {
			receipts = append(receipts, r)
		}
	}
	return receipts, nil
}

// FetchTraces returns the call trees of block's transactions. Traces that
// stay unavailable are omitted.
func (f *Fetcher) FetchTraces(ctx context.Context, block *BlockSnapshot) ([]*TransactionTrace, error) {
	if len(block.Transactions) == 0 {
		return nil, nil
	}

	if f.caps.BlockTraces {
		traces, err := f.tracer.TraceBlock(ctx, f.call, block)
		if err == nil {
			return traces, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.metrics.ObserveTraceDegradation(f.tracer.Name())
		f.logger.Warn("bulk trace failed, falling back to per-transaction traces",
			zap.Uint64("block", block.Number),
			zap.String("strategy", f.tracer.Name()),
			zap.Error(err))
	}

	return f.tracesByTransaction(ctx, block)
}

func (f *Fetcher) tracesByTransaction(ctx context.Context, block *BlockSnapshot) ([]*TransactionTrace, error) {
	results := make([]*TransactionTrace, len(block.Transactions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fanOut)
	for i := range block.Transactions {
		i, hash := i, block.Transactions[i].Hash
		g.Go(func() error {
			trace, err := f.tracer.TraceTransaction(gctx, f.call, hash)
			if err != nil {
				if errors.Is(err, ErrUnavailable) || apperrors.IsDataShape(err) {
					f.logger.Error("trace unavailable", zap.Uint64("block", block.Number), zap.String("tx", hash), zap.Error(err))
					return nil
				}
				return err
			}
			results[i] = trace
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	traces := make([]*TransactionTrace, 0, len(results))
	for _, t := range results {
		if t != nil {
			traces = append(traces, t)
		}
	}
	return traces, nil
}

// FetchBlockData fetches a block and then its receipts and traces concurrently
func (f *Fetcher) FetchBlockData(ctx context.Context, number uint64) (*BlockData, error) {
	block, err := f.FetchBlock(ctx, number)
	if err != nil {
		return nil, err
	}

	data := &BlockData{Block: block}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		receipts, err := f.FetchReceipts(gctx, block)
		data.Receipts = receipts
		return err
	})
	g.Go(func() error {
		traces, err := f.FetchTraces(gctx, block)
		data.Traces = traces
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if missing := len(block.Transactions) - len(data.Receipts); missing > 0 {
		f.logger.Warn("block fetched with missing receipts",
			zap.Uint64("block", number), zap.Int("missing", missing))
	}
	return data, nil
}
