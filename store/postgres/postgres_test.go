package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
)

func TestPageQueryPlaceholders(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	query, args := pageQuery(ledger.Filter{
		ResellerID: "r1",
		Kinds:      []ledger.Kind{ledger.KindSale},
		OriginID:   "e1",
		From:       from,
	}, 42)

	assert.Contains(t, query, "reseller_id = $1")
	assert.Contains(t, query, "(id = $2 OR origin_id = $2)")
	assert.Contains(t, query, "kind = ANY($3)")
	assert.Contains(t, query, "effective_at >= $4")
	assert.Contains(t, query, "seq > $5")
	assert.True(t, strings.HasSuffix(query, "LIMIT $6"))
	assert.Contains(t, query, "status IN ('active')")
	require.Len(t, args, 6)
	assert.Equal(t, []string{"sale"}, args[2])
	assert.Equal(t, int64(42), args[4])
	assert.Equal(t, ledger.QueryBatchSize, args[5])
}

func TestPageQueryIncludeFlags(t *testing.T) {
	query, args := pageQuery(ledger.Filter{IncludeSuperseded: true, IncludeReversed: true}, 0)

	assert.Contains(t, query, "status IN ('active', 'superseded', 'reversed')")
	assert.Len(t, args, 2)
}

func TestQuerySnapshotOptions(t *testing.T) {
	assert.Equal(t, pgx.RepeatableRead, snapshotTx.IsoLevel)
	assert.Equal(t, pgx.ReadOnly, snapshotTx.AccessMode)
}

// TestQueryReadsOneSnapshot runs against a real database when
// LEDGER_TEST_DATABASE_URL is set.
func TestQueryReadsOneSnapshot(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Reset(ctx))
	require.NoError(t, store.SaveProduct(ctx, ledger.Product{
		ID: "shampoo", Name: "Shampoo", UnitPrice: decimal.NewFromInt(10), Status: ledger.StatusActive,
	}))

	// GIVEN: one entry more than a page
	receipt := ledger.Entry{Kind: ledger.KindReceipt, ProductID: "shampoo", Quantity: 1}
	for range ledger.QueryBatchSize + 1 {
		_, err := store.Append(ctx, receipt)
		require.NoError(t, err)
	}

	// WHEN: another entry commits while the first page is being read
	var seen int
	for _, err := range store.Query(ctx, ledger.Filter{ProductID: "shampoo"}) {
		require.NoError(t, err)
		if seen == 0 {
			_, err := store.Append(ctx, receipt)
			require.NoError(t, err)
		}
		seen++
	}

	// THEN: the second page comes from the same snapshot as the first
	assert.Equal(t, ledger.QueryBatchSize+1, seen)
}

// TestStoreRoundTrip runs against a real database when
// LEDGER_TEST_DATABASE_URL is set.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Reset(ctx))

	require.NoError(t, store.SaveProduct(ctx, ledger.Product{
		ID: "shampoo", Name: "Shampoo", UnitPrice: decimal.RequireFromString("12.50"), Status: ledger.StatusActive,
	}))
	p, err := store.GetProduct(ctx, "shampoo")
	require.NoError(t, err)
	assert.True(t, p.UnitPrice.Equal(decimal.RequireFromString("12.50")))

	err = store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Append(ctx, ledger.Entry{Kind: ledger.KindReceipt, ProductID: "shampoo", Quantity: 100}); err != nil {
			return err
		}
		return tx.AdjustBalances(ctx, []ledger.Delta{{Key: ledger.CentralKey("shampoo"), Amount: 100}})
	})
	require.NoError(t, err)

	balances, err := store.LoadBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Balance{{Key: ledger.CentralKey("shampoo"), Quantity: 100}}, balances)

	err = store.AdjustBalances(ctx, []ledger.Delta{{Key: ledger.CentralKey("shampoo"), Amount: -101}})
	assert.ErrorIs(t, err, ledger.ErrStorage)
}
