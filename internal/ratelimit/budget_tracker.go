// Package ratelimit paces outgoing RPC calls, either per process or against a
// compute-unit budget shared through Redis by every worker of a deployment.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 500 // CU/s
	DefaultReservedBudget = 300 // CU/s kept for live traffic
	DefaultWindowSize     = time.Second
)

// Redis key prefixes for CU tracking.
const (
	KeyPrefixTotal    = "rpc:cu:total:"
	KeyPrefixReserved = "rpc:cu:reserved:"
	KeyPrefixShared   = "rpc:cu:shared:"
	KeyPrefixMethod   = "rpc:cu:method:"
)

// Priority selects the budget pool a call draws from.
type Priority int

const (
	// PriorityHigh draws from the reserved pool (live replication).
	PriorityHigh Priority = iota
	// PriorityLow draws from the shared pool (historical backfill).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// consumeScript checks both the total and the pool counter and increments
// them only when both stay within budget.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local cu = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + cu > totalBudget or poolUsed + cu > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, cu)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, cu)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + cu, poolUsed + cu}
`)

// BudgetTracker coordinates CU consumption across processes with fixed
// Redis windows, split into a reserved and a shared pool.
type BudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
}

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	Redis          redis.Cmdable
	TotalBudget    int           // default 500
	ReservedBudget int           // default 300
	WindowSize     time.Duration // default 1s
}

// Usage is the consumption of the current window.
type Usage struct {
	TotalUsed    int
	ReservedUsed int
	SharedUsed   int
	WindowStart  time.Time
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 || c.ReservedBudget < 0 {
		return errors.New("budgets cannot be negative")
	}
	total, reserved := c.budgets()
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

func (c *BudgetTrackerConfig) budgets() (total, reserved int) {
	total, reserved = c.TotalBudget, c.ReservedBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	return total, reserved
}

// NewBudgetTracker creates a tracker with the given configuration.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total, reserved := cfg.budgets()
	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}

	return &BudgetTracker{
		redis:          cfg.Redis,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     window,
		keyTTL:         2 * window,
	}, nil
}

func (t *BudgetTracker) windowStart() int64 {
	return time.Now().Truncate(t.windowSize).UnixMilli()
}

func (t *BudgetTracker) keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume draws cu from the pool of priority. When the budget is spent it
// returns false and the time left until the next window. Redis errors deny.
func (t *BudgetTracker) TryConsume(ctx context.Context, cu int, priority Priority) (bool, time.Duration) {
	if cu <= 0 {
		return true, 0
	}

	windowTS := t.windowStart()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttl := int(t.keyTTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		cu, t.totalBudget, poolBudget, ttl).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		return false, t.untilNextWindow(windowTS)
	}
	return true, 0
}

func (t *BudgetTracker) untilNextWindow(windowTS int64) time.Duration {
	wait := time.Until(time.UnixMilli(windowTS).Add(t.windowSize))
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Usage returns the consumption of the current window; missing keys count as zero.
func (t *BudgetTracker) Usage(ctx context.Context) (*Usage, error) {
	windowTS := t.windowStart()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &Usage{
		TotalUsed:    intOrZero(totalCmd),
		ReservedUsed: intOrZero(reservedCmd),
		SharedUsed:   intOrZero(sharedCmd),
		WindowStart:  time.UnixMilli(windowTS),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}

// Available returns the CU left in the pool of priority for this window.
func (t *BudgetTracker) Available(ctx context.Context, priority Priority) (int, error) {
	usage, err := t.Usage(ctx)
	if err != nil {
		return 0, err
	}
	left := t.sharedBudget - usage.SharedUsed
	if priority == PriorityHigh {
		left = t.reservedBudget - usage.ReservedUsed
	}
	if left < 0 {
		left = 0
	}
	return left, nil
}

// RecordMethodUsage adds cu to the per-method counter of the current window.
func (t *BudgetTracker) RecordMethodUsage(ctx context.Context, method string, cu int) error {
	if cu <= 0 || method == "" {
		return nil
	}

	key := fmt.Sprintf("%s%s:%d", KeyPrefixMethod, method, t.windowStart())
	pipe := t.redis.Pipeline()
	pipe.IncrBy(ctx, key, int64(cu))
	pipe.Expire(ctx, key, t.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SharedBudget returns the CU/s available to low priority callers.
func (t *BudgetTracker) SharedBudget() int {
	return t.sharedBudget
}
