package ratelimit

import (
	"sync"
)

// DefaultCost is charged for methods without a known cost.
const DefaultCost = 20

// defaultCosts are provider compute units of the methods the fetcher issues.
var defaultCosts = map[string]int{
	"eth_getBlockByNumber":      16,
	"eth_getBlockReceipts":      500,
	"eth_getTransactionReceipt": 15,
	"eth_getTransactionByHash":  15,
	"eth_getTransactionCount":   26,
	"debug_traceBlockByNumber":  497,
	"debug_traceTransaction":    309,
	"trace_block":               24,
	"trace_transaction":         26,
}

// CostRegistry maps RPC methods to their CU cost. It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// NewCostRegistry creates a registry of the default costs with overrides
// applied; non-positive overrides are ignored.
func NewCostRegistry(overrides map[string]int) *CostRegistry {
	costs := make(map[string]int, len(defaultCosts)+len(overrides))
	for method, cost := range defaultCosts {
		costs[method] = cost
	}
	for method, cost := range overrides {
		if cost > 0 {
			costs[method] = cost
		}
	}
	return &CostRegistry{costs: costs, defaultCost: DefaultCost}
}

// Cost returns the CU cost of method.
func (r *CostRegistry) Cost(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[method]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates the cost of method at runtime; non-positive costs are ignored.
func (r *CostRegistry) SetCost(method string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[method] = cost
}
