package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"
)

// upsertChunkSize is the number of rows per multi-row INSERT
const upsertChunkSize = 10

// Querier is the part of pgxpool.Pool the repositories use
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// column is an insert column; cast wraps its placeholder, e.g. for decimal
// strings stored as NUMERIC
type column struct {
	name string
	cast string
}

const numericCast = "NULLIF(%s, '')::numeric"

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[0:size:size])
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}

// insertStatement renders a multi-row INSERT of rows rows followed by suffix
func insertStatement(table string, columns []column, rows int, suffix string) string {
	var b strings.Builder
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(names, ", "))

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, c := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			placeholder := fmt.Sprintf("$%d", n)
			if c.cast != "" {
				placeholder = fmt.Sprintf(c.cast, placeholder)
			}
			b.WriteString(placeholder)
			n++
		}
		b.WriteByte(')')
	}
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return b.String()
}

// upsertChunked inserts rows in chunks of upsertChunkSize, issuing the chunks
// concurrently. Each row must hold one value per column.
func upsertChunked(ctx context.Context, db Querier, table string, columns []column, suffix string, rows [][]any) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range chunk(rows, upsertChunkSize) {
		c := c
		g.Go(func() error {
			args := make([]any, 0, len(c)*len(columns))
			for _, row := range c {
				if len(row) != len(columns) {
					return fmt.Errorf("row has %d values for %d columns of %s", len(row), len(columns), table)
				}
				args = append(args, row...)
			}
			if _, err := db.Exec(ctx, insertStatement(table, columns, len(c), suffix), args...); err != nil {
				return fmt.Errorf("failed to upsert into %s: %w", table, err)
			}
			return nil
		})
	}
	return g.Wait()
}
