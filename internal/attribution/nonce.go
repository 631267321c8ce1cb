package attribution

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
)

// DefaultNonceCacheSize bounds the nonce cache
const DefaultNonceCacheSize = 10_000

// NonceCache remembers the first nonce read per address. Entries are only
// evicted by size, never refreshed.
type NonceCache struct {
	reader NonceReader
	cache  *lru.Cache[common.Address, uint64]
}

// NewNonceCache creates a cache holding at most size addresses
func NewNonceCache(reader NonceReader, size int) *NonceCache {
	if size <= 0 {
		size = DefaultNonceCacheSize
	}
	return &NonceCache{reader: reader, cache: lru.NewCache[common.Address, uint64](size)}
}

// Get returns the cached nonce of address, reading it on a miss
func (c *NonceCache) Get(ctx context.Context, address string) (uint64, error) {
	key := common.HexToAddress(address)
	if nonce, ok := c.cache.Get(key); ok {
		return nonce, nil
	}

	nonce, err := c.reader.NonceAt(ctx, strings.ToLower(address))
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, nonce)
	return nonce, nil
}

// Len returns the number of cached addresses
func (c *NonceCache) Len() int {
	return c.cache.Len()
}
