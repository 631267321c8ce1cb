package fetcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// DialFunc connects to one endpoint
type DialFunc func(ctx context.Context, url string) (Caller, error)

func dialRPC(ctx context.Context, url string) (Caller, error) {
	return rpc.DialContext(ctx, url)
}

// EndpointPool spreads calls over several node endpoints. It sticks to the
// current endpoint until the node rate limits it, then moves on to the next
// endpoint that is not cooling down.
type EndpointPool struct {
	endpoints []string
	callers   []Caller
	current   int
	cooldowns map[int]time.Time
	cooldown  time.Duration
	dial      DialFunc
	logger    *zap.Logger
	mu        sync.RWMutex
}

// PoolConfig configures an EndpointPool
type PoolConfig struct {
	Endpoints []string
	Cooldown  time.Duration // default 60s
	Dial      DialFunc      // default rpc.DialContext
}

// SplitEndpoints parses a comma-separated endpoint list
func SplitEndpoints(urls string) []string {
	var out []string
	for _, ep := range strings.Split(urls, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// NewEndpointPool connects to the first endpoint; the others are dialed on
// first use.
func NewEndpointPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*EndpointPool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = dialRPC
	}

	p := &EndpointPool{
		endpoints: cfg.Endpoints,
		callers:   make([]Caller, len(cfg.Endpoints)),
		cooldowns: make(map[int]time.Time),
		cooldown:  cfg.Cooldown,
		dial:      cfg.Dial,
		logger:    logger.Named("endpoint_pool"),
	}

	caller, err := cfg.Dial(ctx, cfg.Endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary RPC endpoint: %w", err)
	}
	p.callers[0] = caller

	p.logger.Info("endpoint pool initialized", zap.Int("endpoints", len(cfg.Endpoints)))
	return p, nil
}

// CallContext implements Caller on the current endpoint
func (p *EndpointPool) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	p.mu.RLock()
	index, caller := p.current, p.callers[p.current]
	p.mu.RUnlock()

	err := caller.CallContext(ctx, result, method, args...)
	if err != nil && IsRateLimitError(err) && len(p.endpoints) > 1 {
		if switchErr := p.onRateLimited(ctx, index); switchErr != nil {
			p.logger.Warn("no endpoint available after rate limit", zap.Error(switchErr))
		}
	}
	return err
}

// CurrentIndex returns the index of the endpoint in use
func (p *EndpointPool) CurrentIndex() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// onRateLimited puts endpoint index on cooldown and switches to the next
// available endpoint.
func (p *EndpointPool) onRateLimited(ctx context.Context, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// another caller already switched away
	if p.current != index {
		return nil
	}
	p.cooldowns[index] = time.Now()

	for i := 1; i <= len(p.endpoints); i++ {
		next := (index + i) % len(p.endpoints)
		if since, ok := p.cooldowns[next]; ok {
			if time.Since(since) < p.cooldown {
				continue
			}
			delete(p.cooldowns, next)
		}
		if err := p.switchTo(ctx, next); err != nil {
			p.logger.Warn("failed to switch endpoint", zap.Int("endpoint", next), zap.Error(err))
			continue
		}
		p.logger.Info("switched endpoint after rate limit", zap.Int("from", index), zap.Int("to", next))
		return nil
	}
	return fmt.Errorf("all %d RPC endpoints are rate limited", len(p.endpoints))
}

// switchTo must be called with the lock held
func (p *EndpointPool) switchTo(ctx context.Context, index int) error {
	if p.callers[index] == nil {
		caller, err := p.dial(ctx, p.endpoints[index])
		if err != nil {
			return err
		}
		p.callers[index] = caller
	}
	p.current = index
	return nil
}

// IsRateLimitError reports whether err looks like a node rate limit response
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "exceeded") ||
		strings.Contains(msg, "throttl")
}

// Close closes every dialed endpoint
func (p *EndpointPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.callers {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
