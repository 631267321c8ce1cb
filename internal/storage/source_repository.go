package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/chain-indexer/internal/models"
)

// SourceRepository resolves marketplace sources, caching every source it has seen
type SourceRepository struct {
	db Querier

	mu       sync.RWMutex
	byDomain map[string]*models.Source
	byHash   map[string]*models.Source
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db Querier) *SourceRepository {
	return &SourceRepository{
		db:       db,
		byDomain: make(map[string]*models.Source),
		byHash:   make(map[string]*models.Source),
	}
}

// Load caches all stored sources
func (r *SourceRepository) Load(ctx context.Context) error {
	rows, err := r.db.Query(ctx, `SELECT id, domain, domain_hash, name FROM sources`)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Source
		if err := rows.Scan(&s.ID, &s.Domain, &s.DomainHash, &s.Name); err != nil {
			return fmt.Errorf("failed to scan source: %w", err)
		}
		r.remember(&s)
	}
	return rows.Err()
}

// GetByDomainHash returns the source tagged by hash, or nil when none is
func (r *SourceRepository) GetByDomainHash(ctx context.Context, hash string) (*models.Source, error) {
	if hash == "" {
		return nil, nil
	}
	hash = strings.ToLower(hash)

	r.mu.RLock()
	s, ok := r.byHash[hash]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	var src models.Source
	err := r.db.QueryRow(ctx, `
		SELECT id, domain, domain_hash, name FROM sources WHERE domain_hash = $1 ORDER BY id LIMIT 1
	`, hash).Scan(&src.ID, &src.Domain, &src.DomainHash, &src.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source by hash %s: %w", hash, err)
	}
	r.remember(&src)
	return &src, nil
}

// GetOrInsert returns the source of domain, creating it when missing
func (r *SourceRepository) GetOrInsert(ctx context.Context, domain string) (*models.Source, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, fmt.Errorf("empty source domain")
	}

	r.mu.RLock()
	s, ok := r.byDomain[domain]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	var src models.Source
	err := r.db.QueryRow(ctx, `
		INSERT INTO sources (domain, domain_hash, name) VALUES ($1, $2, $3)
		ON CONFLICT (domain) DO UPDATE SET domain = EXCLUDED.domain
		RETURNING id, domain, domain_hash, name
	`, domain, models.DomainHash(domain), domain).Scan(&src.ID, &src.Domain, &src.DomainHash, &src.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert source %s: %w", domain, err)
	}
	r.remember(&src)
	return &src, nil
}

func (r *SourceRepository) remember(s *models.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDomain[s.Domain] = s
	if _, taken := r.byHash[s.DomainHash]; !taken {
		r.byHash[s.DomainHash] = s
	}
}

// RouterRepository maps router contracts to the source they fill for
type RouterRepository struct {
	db Querier

	mu      sync.RWMutex
	loaded  bool
	routers map[string]*models.Source
}

// NewRouterRepository creates a new router repository
func NewRouterRepository(db Querier) *RouterRepository {
	return &RouterRepository{db: db, routers: make(map[string]*models.Source)}
}

// Load replaces the cached router set with the stored one
func (r *RouterRepository) Load(ctx context.Context) error {
	rows, err := r.db.Query(ctx, `
		SELECT r.address, s.id, s.domain, s.domain_hash, s.name
		FROM routers r JOIN sources s ON s.id = r.source_id
	`)
	if err != nil {
		return fmt.Errorf("failed to load routers: %w", err)
	}
	defer rows.Close()

	routers := make(map[string]*models.Source)
	for rows.Next() {
		var (
			address string
			s       models.Source
		)
		if err := rows.Scan(&address, &s.ID, &s.Domain, &s.DomainHash, &s.Name); err != nil {
			return fmt.Errorf("failed to scan router: %w", err)
		}
		routers[strings.ToLower(address)] = &s
	}
	if err := rows.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.routers, r.loaded = routers, true
	r.mu.Unlock()
	return nil
}

// GetRouter returns the source address routes for, or nil. The router set is
// loaded on first use.
func (r *RouterRepository) GetRouter(ctx context.Context, address string) (*models.Source, error) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		if err := r.Load(ctx); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routers[strings.ToLower(address)], nil
}

// orderKindDomains is the default source of each order kind
var orderKindDomains = map[string]string{
	"seaport":         "opensea.io",
	"seaport-v1.4":    "opensea.io",
	"seaport-v1.5":    "opensea.io",
	"wyvern-v2":       "opensea.io",
	"wyvern-v2.3":     "opensea.io",
	"blur":            "blur.io",
	"blur-v2":         "blur.io",
	"x2y2":            "x2y2.io",
	"looks-rare":      "looksrare.org",
	"looks-rare-v2":   "looksrare.org",
	"foundation":      "foundation.app",
	"sudoswap":        "sudoswap.xyz",
	"sudoswap-v2":     "sudoswap.xyz",
	"nftx":            "nftx.io",
	"zora-v3":         "zora.co",
	"rarible":         "rarible.com",
	"element-erc721":  "element.market",
	"element-erc1155": "element.market",
	"manifold":        "manifold.xyz",
}

// OrderSourceRepository resolves the source an order was listed on
type OrderSourceRepository struct {
	db      Querier
	sources *SourceRepository
}

// NewOrderSourceRepository creates a new order source repository
func NewOrderSourceRepository(db Querier, sources *SourceRepository) *OrderSourceRepository {
	return &OrderSourceRepository{db: db, sources: sources}
}

// ByOrderID returns the source recorded for the order, or nil
func (r *OrderSourceRepository) ByOrderID(ctx context.Context, orderID string) (*models.Source, error) {
	var s models.Source
	err := r.db.QueryRow(ctx, `
		SELECT s.id, s.domain, s.domain_hash, s.name
		FROM orders o JOIN sources s ON s.id = o.source_id
		WHERE o.id = $1
	`, orderID).Scan(&s.ID, &s.Domain, &s.DomainHash, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source of order %s: %w", orderID, err)
	}
	return &s, nil
}

// ByOrderKind returns the default source of kind, or nil for kinds without
// one. The contract address does not affect the mapping.
func (r *OrderSourceRepository) ByOrderKind(ctx context.Context, kind, _ string) (*models.Source, error) {
	domain, ok := orderKindDomains[kind]
	if !ok {
		return nil, nil
	}
	return r.sources.GetOrInsert(ctx, domain)
}
