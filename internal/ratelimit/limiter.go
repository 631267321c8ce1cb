package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chain-indexer/internal/metrics"
)

// DefaultMaxWait bounds how long a call waits for shared budget.
const DefaultMaxWait = 30 * time.Second

// ErrMaxWaitExceeded is returned when budget did not free up within MaxWait.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for rate limit budget")

// Local paces calls of this process with a token bucket.
type Local struct {
	limiter *rate.Limiter
	metrics metrics.RateLimit
}

// NewLocal allows requestsPerSecond calls per second with bursts of burst.
// A non-positive rate means no limit.
func NewLocal(requestsPerSecond float64, burst int) *Local {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Local{limiter: rate.NewLimiter(limit, burst), metrics: metrics.NewRateLimit("local")}
}

// Wait blocks until a call may proceed.
func (l *Local) Wait(ctx context.Context, _ string) error {
	if l.limiter.Allow() {
		return nil
	}
	started := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.metrics.ObserveWait("local", started)
	return nil
}

// SharedConfig configures a Shared limiter.
type SharedConfig struct {
	Tracker  *BudgetTracker
	Costs    *CostRegistry
	Priority Priority
	MaxWait  time.Duration // default 30s
}

// Shared paces calls against the deployment-wide CU budget.
type Shared struct {
	tracker  *BudgetTracker
	costs    *CostRegistry
	priority Priority
	maxWait  time.Duration
	logger   *zap.Logger
	metrics  metrics.RateLimit
}

// NewShared creates a Shared limiter.
func NewShared(cfg SharedConfig, logger *zap.Logger) (*Shared, error) {
	if cfg.Tracker == nil {
		return nil, errors.New("budget tracker is required")
	}
	if cfg.Costs == nil {
		cfg.Costs = NewCostRegistry(nil)
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Shared{
		tracker:  cfg.Tracker,
		costs:    cfg.Costs,
		priority: cfg.Priority,
		maxWait:  cfg.MaxWait,
		logger:   logger.Named("ratelimit").With(zap.Stringer("priority", cfg.Priority)),
		metrics:  metrics.NewRateLimit("shared"),
	}, nil
}

// WithPriority returns a limiter drawing from the pool of priority.
func (s *Shared) WithPriority(priority Priority) *Shared {
	clone := *s
	clone.priority = priority
	clone.logger = s.logger.With(zap.Stringer("priority", priority))
	return &clone
}

// Wait blocks until the CU cost of method fits the budget of this limiter's
// priority, the context ends or MaxWait would be exceeded.
func (s *Shared) Wait(ctx context.Context, method string) error {
	cu := s.costs.Cost(method)
	started := time.Now()
	deadline := started.Add(s.maxWait)
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, wait := s.tracker.TryConsume(ctx, cu, s.priority)
		if allowed {
			if err := s.tracker.RecordMethodUsage(ctx, method, cu); err != nil {
				s.logger.Debug("failed to record method usage", zap.String("method", method), zap.Error(err))
			}
			s.metrics.ObserveConsumed(method, cu)
			if waited {
				s.metrics.ObserveWait(s.priority.String(), started)
			}
			return nil
		}

		if time.Now().Add(wait).After(deadline) {
			s.logger.Warn("rate limit wait exceeded",
				zap.String("method", method), zap.Int("cu", cu), zap.Duration("waited", time.Since(started)))
			return fmt.Errorf("%s: %w", method, ErrMaxWaitExceeded)
		}

		waited = true
		s.logger.Debug("waiting for budget", zap.String("method", method), zap.Int("cu", cu), zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
