package fetcher

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/circuitbreaker"
)

// BreakerCaller fails calls fast while the node keeps failing
type BreakerCaller struct {
	caller  Caller
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerCaller wraps caller with a circuit breaker built from cfg
func NewBreakerCaller(caller Caller, cfg *circuitbreaker.Config, logger *zap.Logger) *BreakerCaller {
	c := *cfg
	if c.IsFailure == nil {
		c.IsFailure = IsNodeFailure
	}
	return &BreakerCaller{caller: caller, breaker: circuitbreaker.NewCircuitBreaker(&c, logger)}
}

// CallContext implements Caller
func (b *BreakerCaller) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return b.breaker.Execute(func() error {
		return b.caller.CallContext(ctx, result, method, args...)
	})
}

// State returns the breaker state
func (b *BreakerCaller) State() circuitbreaker.State {
	return b.breaker.State()
}

// IsNodeFailure reports whether err says the node is unhealthy. A JSON-RPC
// error response means the node answered, unless it is rate limiting.
func IsNodeFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return IsRateLimitError(err)
	}
	return true
}
