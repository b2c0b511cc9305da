// Package pnl is the append-only realized profit-and-loss log. Records are
// written when a position is reduced and never mutated afterwards.
package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/store"
)

// Log appends and reads realized P&L records.
type Log struct {
	repo store.PnlRepo
	now  func() time.Time
}

// NewLog creates a log over repo.
func NewLog(repo store.PnlRepo) *Log {
	return &Log{repo: repo, now: time.Now}
}

// Record appends the realized result of selling quantity at sellPrice
// against a cost basis of buyPrice.
func (l *Log) Record(ctx context.Context, userID, symbol string, buyPrice, sellPrice, quantity decimal.Decimal) (*model.RealizedPnlRecord, error) {
	at := l.now().UTC()
	r := &model.RealizedPnlRecord{
		ID:         NewID(at),
		UserID:     userID,
		Symbol:     symbol,
		BuyPrice:   buyPrice,
		SellPrice:  sellPrice,
		Quantity:   quantity,
		PnL:        sellPrice.Sub(buyPrice).Mul(quantity),
		ExecutedAt: at,
	}
	if err := l.repo.AppendRealizedPnl(ctx, r); err != nil {
		return nil, fmt.Errorf("append realized pnl: %w", err)
	}
	return r, nil
}

// List returns a user's records in execution order.
func (l *Log) List(ctx context.Context, userID string) ([]model.RealizedPnlRecord, error) {
	return l.repo.ListRealizedPnl(ctx, userID)
}

// Total sums a user's realized P&L.
func (l *Log) Total(ctx context.Context, userID string) (decimal.Decimal, error) {
	records, err := l.repo.ListRealizedPnl(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(records), nil
}

// Sum adds up the PnL of records.
func Sum(records []model.RealizedPnlRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.PnL)
	}
	return total
}
