package pnl

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestJournal(t *testing.T) (*SQLiteJournal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pnl.db")
	j, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestNewID_Monotonic(t *testing.T) {
	at := time.Now()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewID(at)
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestLog_RecordAndTotal(t *testing.T) {
	ctx := context.Background()
	log := NewLog(store.NewMemoryStore())

	r, err := log.Record(ctx, "u1", "TCS", d(110), d(150), d(5))
	require.NoError(t, err)
	assert.True(t, r.PnL.Equal(d(200)))
	assert.NotEmpty(t, r.ID)

	_, err = log.Record(ctx, "u1", "TCS", d(110), d(100), d(3))
	require.NoError(t, err)

	total, err := log.Total(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(d(170)))

	other, err := log.Total(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestSQLiteJournal_SchemaCreated(t *testing.T) {
	j, path := newTestJournal(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='realized_pnl'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "realized_pnl", name)
}

func TestSQLiteJournal_RoundTrip(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()
	log := NewLog(j)

	first, err := log.Record(ctx, "u1", "INFY", d(1450.25), d(1500.75), d(2))
	require.NoError(t, err)
	_, err = log.Record(ctx, "u1", "INFY", d(1450.25), d(1400), d(1))
	require.NoError(t, err)
	_, err = log.Record(ctx, "u2", "INFY", d(10), d(20), d(1))
	require.NoError(t, err)

	records, err := log.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID, "ordered by ULID")
	assert.True(t, records[0].PnL.Equal(d(101)))
	assert.True(t, records[0].SellPrice.Equal(d(1500.75)))
	assert.True(t, records[0].ExecutedAt.Equal(first.ExecutedAt))

	total, err := log.Total(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(d(50.75)))
}
