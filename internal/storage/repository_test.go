package storage

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-indexer/internal/models"
)

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, chunk(items, 3))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5, 6, 7}}, chunk(items, 10))
	assert.Empty(t, chunk([]int{}, 10))

	// appending to a chunk must not clobber the next one
	parts := chunk(items, 3)
	_ = append(parts[0], 99)
	assert.Equal(t, 4, parts[1][0])
}

func TestInsertStatement(t *testing.T) {
	cols := []column{{name: "a"}, {name: "b", cast: numericCast}}

	sql := insertStatement("t", cols, 2, "ON CONFLICT (a) DO NOTHING")
	assert.Equal(t,
		"INSERT INTO t (a, b) VALUES ($1, NULLIF($2, '')::numeric), ($3, NULLIF($4, '')::numeric) ON CONFLICT (a) DO NOTHING",
		sql)
}

func testTransactions(n int) []*models.Transaction {
	txs := make([]*models.Transaction, n)
	for i := range txs {
		txs[i] = &models.Transaction{
			Hash:        fmt.Sprintf("0xHASH%02d", i),
			From:        "0xFrom",
			To:          "0xTo",
			Value:       "1",
			BlockNumber: 100,
			BlockHash:   "0xBlock",
			Status:      true,
		}
	}
	return txs
}

func TestTransactionRepository_UpsertChunks(t *testing.T) {
	db := &fakeQuerier{}
	repo := NewTransactionRepository(db)

	require.NoError(t, repo.Upsert(testContext(t), testTransactions(23)))

	execs := db.recorded()
	require.Len(t, execs, 3)

	var sizes []int
	var hashes []string
	for _, e := range execs {
		assert.True(t, strings.HasPrefix(e.sql, "INSERT INTO transactions ("))
		assert.True(t, strings.HasSuffix(e.sql, "ON CONFLICT (hash) DO NOTHING"))
		require.Zero(t, len(e.args)%len(transactionColumns))
		rows := len(e.args) / len(transactionColumns)
		sizes = append(sizes, rows)
		for r := 0; r < rows; r++ {
			hashes = append(hashes, e.args[r*len(transactionColumns)].(string))
		}
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{3, 10, 10}, sizes)

	// every transaction written once, lower-cased
	assert.Len(t, hashes, 23)
	seen := map[string]bool{}
	for _, h := range hashes {
		assert.Equal(t, strings.ToLower(h), h)
		seen[h] = true
	}
	assert.Len(t, seen, 23)
}

func TestTransactionRepository_UpsertEmpty(t *testing.T) {
	db := &fakeQuerier{}
	require.NoError(t, NewTransactionRepository(db).Upsert(testContext(t), nil))
	assert.Empty(t, db.recorded())
}

func TestTransactionRepository_UpsertError(t *testing.T) {
	db := &fakeQuerier{execErr: fmt.Errorf("connection reset")}

	err := NewTransactionRepository(db).Upsert(testContext(t), testTransactions(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transactions")
}

func TestTransactionRepository_GetMissing(t *testing.T) {
	tx, err := NewTransactionRepository(&fakeQuerier{}).Get(testContext(t), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestContractAddressRepository_Upsert(t *testing.T) {
	db := &fakeQuerier{}
	repo := NewContractAddressRepository(db)

	err := repo.Upsert(testContext(t), []*models.ContractAddress{
		{Address: "0xNEW", DeploymentTxHash: "0xTX", DeploymentSender: "0xA", DeploymentFactory: "0xF"},
	})
	require.NoError(t, err)

	execs := db.recorded()
	require.Len(t, execs, 1)
	assert.Contains(t, execs[0].sql, "ON CONFLICT (address) DO NOTHING")
	assert.Equal(t, "0xnew", execs[0].args[0])
	assert.Nil(t, execs[0].args[4])
}

func TestSourceRepository_GetOrInsertCaches(t *testing.T) {
	db := &fakeQuerier{}
	db.row = func(sql string, args []any) pgx.Row {
		return fakeRow{values: []any{int64(7), args[0], args[1], args[2]}}
	}
	repo := NewSourceRepository(db)
	ctx := testContext(t)

	src, err := repo.GetOrInsert(ctx, "Blur.io")
	require.NoError(t, err)
	assert.Equal(t, int64(7), src.ID)
	assert.Equal(t, "blur.io", src.Domain)
	assert.Equal(t, models.DomainHash("blur.io"), src.DomainHash)

	again, err := repo.GetOrInsert(ctx, "blur.io")
	require.NoError(t, err)
	assert.Same(t, src, again)

	byHash, err := repo.GetByDomainHash(ctx, models.DomainHash("blur.io"))
	require.NoError(t, err)
	assert.Same(t, src, byHash)

	assert.Equal(t, 1, db.rowHits)
}

func TestSourceRepository_GetByDomainHashMissing(t *testing.T) {
	repo := NewSourceRepository(&fakeQuerier{})

	src, err := repo.GetByDomainHash(testContext(t), "0x12345678")
	require.NoError(t, err)
	assert.Nil(t, src)

	src, err = repo.GetByDomainHash(testContext(t), "")
	require.NoError(t, err)
	assert.Nil(t, src)
}

func TestOrderSourceRepository_ByOrderKind(t *testing.T) {
	db := &fakeQuerier{}
	db.row = func(sql string, args []any) pgx.Row {
		return fakeRow{values: []any{int64(1), args[0], args[1], args[2]}}
	}
	repo := NewOrderSourceRepository(db, NewSourceRepository(db))
	ctx := testContext(t)

	src, err := repo.ByOrderKind(ctx, "seaport-v1.5", "0xcontract")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "opensea.io", src.Domain)

	src, err = repo.ByOrderKind(ctx, "unknown-kind", "")
	require.NoError(t, err)
	assert.Nil(t, src)
}

func TestOrderSourceRepository_ByOrderIDMissing(t *testing.T) {
	repo := NewOrderSourceRepository(&fakeQuerier{}, nil)

	src, err := repo.ByOrderID(testContext(t), "0xorder")
	require.NoError(t, err)
	assert.Nil(t, src)
}
