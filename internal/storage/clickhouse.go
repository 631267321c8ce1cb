package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/chain-indexer/internal/config"
)

// ClickHouseOptions maps cfg to driver options. Activity batches are
// compressed on the wire.
func ClickHouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	maxOpen := cfg.MaxConnections
	if maxOpen < 1 {
		maxOpen = 10
	}
	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression:      &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     maxOpen,
		MaxIdleConns:     maxOpen / 2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
}

// ClickHouseDB is the analytics store connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB opens and pings a ClickHouse connection
func NewClickHouseDB(ctx context.Context, cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(ClickHouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse at %s: %w", net.JoinHostPort(cfg.Host, cfg.Port), err)
	}
	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the connection
func (db *ClickHouseDB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn returns the driver connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Name implements api.Pinger
func (db *ClickHouseDB) Name() string { return "clickhouse" }

// Ping implements api.Pinger
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec runs a statement that returns no rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}
