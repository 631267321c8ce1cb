package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type recordedExec struct {
	sql  string
	args []any
}

// fakeQuerier records statements; rows are served by row
type fakeQuerier struct {
	mu      sync.Mutex
	execs   []recordedExec
	execErr error
	row     func(sql string, args []any) pgx.Row
	rowHits int
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, recordedExec{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 0"), f.execErr
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported by fake")
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	f.rowHits++
	f.mu.Unlock()
	if f.row == nil {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return f.row(sql, args)
}

func (f *fakeQuerier) recorded() []recordedExec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedExec(nil), f.execs...)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *string:
			*p = r.values[i].(string)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

// fakeExecer records ClickHouse statements
type fakeExecer struct {
	statements []string
	failOn     int
}

func (f *fakeExecer) Exec(_ context.Context, query string, _ ...interface{}) error {
	f.statements = append(f.statements, query)
	if f.failOn > 0 && len(f.statements) == f.failOn {
		return errors.New("exec failed")
	}
	return nil
}
