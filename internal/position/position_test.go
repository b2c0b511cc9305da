package position

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/account"
	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/pnl"
	"github.com/atmx/ledger-engine/internal/price"
	"github.com/atmx/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixture struct {
	book     *Book
	accounts *account.Service
	mem      *store.MemoryStore
	prices   *price.StaticSource
}

func newFixture(t *testing.T, cash float64) *fixture {
	return newFixtureWith(t, cash, nil, nil)
}

func newFixtureWith(t *testing.T, cash float64, positions store.PositionRepo, pnlRepo store.PnlRepo) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	if positions == nil {
		positions = mem
	}
	if pnlRepo == nil {
		pnlRepo = mem
	}
	accounts := account.NewService(mem, mem, nil, nil)
	_, err := accounts.Open(context.Background(), "u1", d(cash))
	require.NoError(t, err)

	prices := price.NewStaticSource(map[string]decimal.Decimal{"TCS": d(130)}, d(100))
	return &fixture{
		book:     NewBook(positions, pnl.NewLog(pnlRepo), prices, accounts, nil, nil),
		accounts: accounts,
		mem:      mem,
		prices:   prices,
	}
}

func TestWeightedAverage_BuyBuySell(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	v, err := f.book.ApplyBuy(ctx, "u1", "TCS", d(10), d(100))
	require.NoError(t, err)
	assert.True(t, v.AvgPrice.Equal(d(100)))
	assert.True(t, v.Invested.Equal(d(1000)))

	v, err = f.book.ApplyBuy(ctx, "u1", "TCS", d(10), d(120))
	require.NoError(t, err)
	assert.True(t, v.AvgPrice.Equal(d(110)))
	assert.True(t, v.Invested.Equal(d(2200)))
	// Marked at 130.
	assert.True(t, v.CurrentValue.Equal(d(2600)))
	assert.True(t, v.PnL.Equal(d(400)))
	assert.True(t, v.PnLPercent.Equal(d(18.18)))

	res, err := f.book.ApplySell(ctx, "u1", "TCS", d(5), d(150))
	require.NoError(t, err)
	assert.True(t, res.Realized.PnL.Equal(d(200)))
	assert.True(t, res.Realized.BuyPrice.Equal(d(110)))
	require.NotNil(t, res.Position)
	assert.True(t, res.Position.Quantity.Equal(d(15)))
	assert.True(t, res.Position.Invested.Equal(d(1650)))
	assert.True(t, res.Position.AvgPrice.Equal(d(110)), "sells do not change the average")
}

func TestWeightedAverage_AnyOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		f := newFixture(t, 0)
		ctx := context.Background()

		cost, qty := decimal.Zero, decimal.Zero
		buys := 1 + rng.Intn(10)
		for i := 0; i < buys; i++ {
			q := decimal.NewFromInt(int64(1 + rng.Intn(50)))
			p := decimal.New(int64(100+rng.Intn(100000)), -2)

			v, err := f.book.ApplyBuy(ctx, "u1", "INFY", q, p)
			require.NoError(t, err)

			cost = cost.Add(q.Mul(p))
			qty = qty.Add(q)
			assert.True(t, v.AvgPrice.Equal(cost.Div(qty)), "run %d buy %d: avg %s", run, i, v.AvgPrice)
			assert.True(t, v.Quantity.Equal(qty))
		}
	}
}

func TestApplySell_Bound(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.book.ApplySell(ctx, "u1", "TCS", d(1), d(100))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientQuantity), "no position")

	_, err = f.book.ApplyBuy(ctx, "u1", "TCS", d(3), d(100))
	require.NoError(t, err)
	_, err = f.book.ApplySell(ctx, "u1", "TCS", d(3.5), d(100))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientQuantity))

	pos, err := f.mem.GetPosition(ctx, "u1", "TCS")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d(3)), "failed sell leaves quantity unchanged")
	records, _ := f.mem.ListRealizedPnl(ctx, "u1")
	assert.Empty(t, records)
}

func TestApplySell_ClosesAtZero(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.book.ApplyBuy(ctx, "u1", "tcs", d(4), d(100))
	require.NoError(t, err)
	res, err := f.book.ApplySell(ctx, "u1", "TCS", d(4), d(90))
	require.NoError(t, err)
	assert.Nil(t, res.Position)
	assert.True(t, res.Realized.PnL.Equal(d(-40)))

	_, err = f.mem.GetPosition(ctx, "u1", "TCS")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	// A fresh buy starts from its own price, not the old average.
	v, err := f.book.ApplyBuy(ctx, "u1", "TCS", d(1), d(200))
	require.NoError(t, err)
	assert.True(t, v.AvgPrice.Equal(d(200)))
}

func TestApplyBuy_Validation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.book.ApplyBuy(ctx, "u1", "TCS", d(0), d(100))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = f.book.ApplyBuy(ctx, "u1", "TCS", d(1), d(-1))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = f.book.ApplyBuy(ctx, "u1", "NOT A SYMBOL", d(1), d(1))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestBuySell_CashSettlement(t *testing.T) {
	f := newFixture(t, 5000)
	ctx := context.Background()

	res, err := f.book.Buy(ctx, "u1", "TCS", d(10), d(100))
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(d(4000)))

	// Market order at the source price of 130.
	res, err = f.book.Sell(ctx, "u1", "TCS", d(5), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(d(130)))
	assert.True(t, res.Balance.Equal(d(4650)))
	assert.True(t, res.Realized.PnL.Equal(d(150)))

	_, err = f.book.Buy(ctx, "u1", "TCS", d(100), d(100))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds))
	bal, _ := f.accounts.Balance(ctx, "u1")
	assert.True(t, bal.Equal(d(4650)))
	pos, _ := f.mem.GetPosition(ctx, "u1", "TCS")
	assert.True(t, pos.Quantity.Equal(d(5)))
}

func TestPortfolioSummary(t *testing.T) {
	f := newFixture(t, 10000)
	ctx := context.Background()

	_, err := f.book.Buy(ctx, "u1", "TCS", d(10), d(100))
	require.NoError(t, err)
	_, err = f.book.Buy(ctx, "u1", "INFY", d(2), d(50))
	require.NoError(t, err)
	_, err = f.book.Sell(ctx, "u1", "TCS", d(4), d(120))
	require.NoError(t, err)

	s, err := f.book.PortfolioSummary(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, s.Positions, 2)

	// TCS 6 @ 100 marked at 130; INFY 2 @ 50 marked at the default 100.
	assert.True(t, s.TotalInvested.Equal(d(700)))
	assert.True(t, s.TotalCurrentValue.Equal(d(980)))
	assert.True(t, s.UnrealizedPnL.Equal(d(280)))
	assert.True(t, s.TotalRealizedPnL.Equal(d(80)))
	assert.True(t, s.TotalPnL.Equal(d(360)))
	assert.True(t, s.Cash.Equal(d(10000-1000-100+480)))
}

// conflictOnce fails the first SavePosition with a version conflict.
type conflictOnce struct {
	*store.MemoryStore
	tripped bool
}

func (c *conflictOnce) SavePosition(ctx context.Context, p *model.Position) error {
	if !c.tripped {
		c.tripped = true
		return store.ErrVersionConflict
	}
	return c.MemoryStore.SavePosition(ctx, p)
}

func TestApplyBuy_RetriesVersionConflict(t *testing.T) {
	repo := &conflictOnce{MemoryStore: store.NewMemoryStore()}
	f := newFixtureWith(t, 0, repo, nil)

	v, err := f.book.ApplyBuy(context.Background(), "u1", "TCS", d(2), d(10))
	require.NoError(t, err)
	assert.True(t, repo.tripped)
	assert.Equal(t, int64(1), v.Version)
}

type failingPnl struct {
	*store.MemoryStore
}

func (failingPnl) AppendRealizedPnl(context.Context, *model.RealizedPnlRecord) error {
	return errors.New("journal unavailable")
}

func TestApplySell_RestoresPositionWhenJournalFails(t *testing.T) {
	mem := store.NewMemoryStore()
	f := newFixtureWith(t, 0, mem, failingPnl{mem})
	ctx := context.Background()

	_, err := f.book.ApplyBuy(ctx, "u1", "TCS", d(5), d(100))
	require.NoError(t, err)

	_, err = f.book.ApplySell(ctx, "u1", "TCS", d(2), d(110))
	require.Error(t, err)
	pos, err := mem.GetPosition(ctx, "u1", "TCS")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d(5)))

	_, err = f.book.ApplySell(ctx, "u1", "TCS", d(5), d(110))
	require.Error(t, err)
	pos, err = mem.GetPosition(ctx, "u1", "TCS")
	require.NoError(t, err, "closed position re-inserted")
	assert.True(t, pos.Quantity.Equal(d(5)))
	assert.True(t, pos.Invested.Equal(d(500)))
}

// noCredit refuses every credit.
type noCredit struct {
	*account.Service
}

func (noCredit) Credit(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("db: connection reset")
}

func TestSell_RestoresPositionWhenCreditFails(t *testing.T) {
	f := newFixture(t, 10000)
	ctx := context.Background()

	_, err := f.book.Buy(ctx, "u1", "TCS", d(10), d(100))
	require.NoError(t, err)

	book := NewBook(f.mem, pnl.NewLog(f.mem), f.prices, noCredit{f.accounts}, nil, nil)
	_, err = book.Sell(ctx, "u1", "TCS", d(10), d(150))
	require.Error(t, err)

	pos, err := f.mem.GetPosition(ctx, "u1", "TCS")
	require.NoError(t, err, "closed position re-inserted")
	assert.True(t, pos.Quantity.Equal(d(10)))
	assert.True(t, pos.AvgPrice.Equal(d(100)))

	records, err := f.book.RealizedPnl(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, records)

	bal, err := f.accounts.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(9000)))
}

func TestSell_ReversesProceedsWhenJournalFails(t *testing.T) {
	mem := store.NewMemoryStore()
	f := newFixtureWith(t, 10000, mem, failingPnl{mem})
	ctx := context.Background()

	_, err := f.book.Buy(ctx, "u1", "TCS", d(10), d(100))
	require.NoError(t, err)

	_, err = f.book.Sell(ctx, "u1", "TCS", d(4), d(150))
	require.Error(t, err)

	pos, err := mem.GetPosition(ctx, "u1", "TCS")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d(10)))

	bal, err := f.accounts.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(9000)), "proceeds debited back")
}
