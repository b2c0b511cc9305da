// Package position maintains per-symbol holdings at weighted-average cost and
// marks them to market against the price source.
//
// Every buy re-bases the average across the cumulative quantity:
//
//	avg = (invested + qty*price) / (quantity + qty)
//
// Sells never change the average; they lock in (price - avg)*qty as realized
// P&L and shrink the position, deleting it at exactly zero.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/notify"
	"github.com/atmx/ledger-engine/internal/pnl"
	"github.com/atmx/ledger-engine/internal/price"
	"github.com/atmx/ledger-engine/internal/store"
	"github.com/atmx/ledger-engine/internal/symbol"
)

// maxVersionRetries bounds optimistic-concurrency retries per trade.
const maxVersionRetries = 5

var hundred = decimal.NewFromInt(100)

// Balances is the subset of the account service used for cash settlement.
type Balances interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Book is the position book.
type Book struct {
	positions store.PositionRepo
	realized  *pnl.Log
	prices    price.Source
	balances  Balances
	emitter   *notify.Emitter
	logger    *slog.Logger
	now       func() time.Time
}

// NewBook creates a position book.
func NewBook(positions store.PositionRepo, realized *pnl.Log, prices price.Source, balances Balances, emitter *notify.Emitter, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		positions: positions,
		realized:  realized,
		prices:    prices,
		balances:  balances,
		emitter:   emitter,
		logger:    logger,
		now:       time.Now,
	}
}

// SellResult is the outcome of reducing a position.
type SellResult struct {
	// Position is nil when the sell closed the position.
	Position *model.PositionView      `json:"position,omitempty"`
	Realized *model.RealizedPnlRecord `json:"realized"`
}

// TradeResult is the outcome of a cash-settled trade.
type TradeResult struct {
	Side     string                   `json:"side"`
	Symbol   string                   `json:"symbol"`
	Quantity decimal.Decimal          `json:"quantity"`
	Price    decimal.Decimal          `json:"price"`
	Amount   decimal.Decimal          `json:"amount"`
	Balance  decimal.Decimal          `json:"balance"`
	Position *model.PositionView      `json:"position,omitempty"`
	Realized *model.RealizedPnlRecord `json:"realized,omitempty"`
}

// ApplyBuy adds quantity at price to the user's position, creating it on the
// first buy.
func (b *Book) ApplyBuy(ctx context.Context, userID, sym string, quantity, price decimal.Decimal) (*model.PositionView, error) {
	sym, err := normalize(sym)
	if err != nil {
		return nil, err
	}
	if err := validateFill(quantity, price); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		pos, err := b.positions.GetPosition(ctx, userID, sym)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			pos = &model.Position{
				UserID:   userID,
				Symbol:   sym,
				Quantity: quantity,
				AvgPrice: price,
				Invested: quantity.Mul(price),
			}
		case err != nil:
			return nil, err
		default:
			pos.Invested = pos.Invested.Add(quantity.Mul(price))
			pos.Quantity = pos.Quantity.Add(quantity)
			pos.AvgPrice = pos.Invested.Div(pos.Quantity)
		}
		pos.UpdatedAt = b.now().UTC()

		if err := b.positions.SavePosition(ctx, pos); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				metrics.PositionConflicts.Inc()
				continue
			}
			return nil, err
		}

		metrics.PositionTrades.WithLabelValues("buy").Inc()
		b.logger.Info("position increased",
			"user", userID,
			"symbol", sym,
			"quantity", quantity.String(),
			"price", price.String(),
			"avg_price", pos.AvgPrice.String(),
		)
		view := b.view(ctx, *pos)
		return &view, nil
	}
	return nil, fmt.Errorf("apply buy %s for %s: %w", sym, userID, store.ErrVersionConflict)
}

// ApplySell removes quantity at price from the user's position and records
// the realized P&L. Fails with apperr.ErrInsufficientQuantity when quantity
// exceeds the holding.
func (b *Book) ApplySell(ctx context.Context, userID, sym string, quantity, price decimal.Decimal) (*SellResult, error) {
	return b.applySell(ctx, userID, sym, quantity, price, nil)
}

// cashLeg moves the proceeds of a sell. It runs after the position write and
// before the P&L record; undo reverses it when the record cannot be written.
type cashLeg struct {
	apply func(ctx context.Context) error
	undo  func(ctx context.Context) error
}

func (b *Book) applySell(ctx context.Context, userID, sym string, quantity, price decimal.Decimal, leg *cashLeg) (*SellResult, error) {
	sym, err := normalize(sym)
	if err != nil {
		return nil, err
	}
	if err := validateFill(quantity, price); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		pos, err := b.positions.GetPosition(ctx, userID, sym)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.KindInsufficientQuantity, "no %s position to sell", sym)
		}
		if err != nil {
			return nil, err
		}
		if quantity.GreaterThan(pos.Quantity) {
			return nil, apperr.New(apperr.KindInsufficientQuantity,
				"cannot sell %s %s, holding %s", quantity, sym, pos.Quantity)
		}

		prev := *pos
		remaining := pos.Quantity.Sub(quantity)
		closed := remaining.IsZero()
		if closed {
			err = b.positions.DeletePosition(ctx, userID, sym, pos.Version)
		} else {
			pos.Quantity = remaining
			pos.Invested = remaining.Mul(pos.AvgPrice)
			pos.UpdatedAt = b.now().UTC()
			err = b.positions.SavePosition(ctx, pos)
		}
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.PositionConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}

		if leg != nil {
			if err := leg.apply(ctx); err != nil {
				b.restore(ctx, prev, pos.Version, closed)
				return nil, err
			}
		}

		rec, err := b.realized.Record(ctx, userID, sym, prev.AvgPrice, price, quantity)
		if err != nil {
			if leg != nil {
				if uerr := leg.undo(ctx); uerr != nil {
					b.logger.Error("sell proceeds not reversed",
						"user", userID,
						"symbol", sym,
						"err", uerr,
					)
					err = errors.Join(err, uerr)
				}
			}
			b.restore(ctx, prev, pos.Version, closed)
			return nil, err
		}

		metrics.PositionTrades.WithLabelValues("sell").Inc()
		b.logger.Info("position reduced",
			"user", userID,
			"symbol", sym,
			"quantity", quantity.String(),
			"price", price.String(),
			"realized_pnl", rec.PnL.String(),
			"closed", closed,
		)

		res := &SellResult{Realized: rec}
		if !closed {
			view := b.view(ctx, *pos)
			res.Position = &view
		}
		return res, nil
	}
	return nil, fmt.Errorf("apply sell %s for %s: %w", sym, userID, store.ErrVersionConflict)
}

// restore puts back the position a sell replaced when its cash leg or P&L
// record could not be written.
func (b *Book) restore(ctx context.Context, prev model.Position, version int64, closed bool) {
	if closed {
		prev.Version = 0
	} else {
		prev.Version = version
	}
	if err := b.positions.SavePosition(ctx, &prev); err != nil {
		b.logger.Error("position restore failed",
			"user", prev.UserID,
			"symbol", prev.Symbol,
			"quantity", prev.Quantity.String(),
			"err", err,
		)
	}
}

// Buy debits quantity*price from the user's cash and adds to the position.
// A zero price executes at the latest market price.
func (b *Book) Buy(ctx context.Context, userID, sym string, quantity, price decimal.Decimal) (*TradeResult, error) {
	sym, err := normalize(sym)
	if err != nil {
		return nil, err
	}
	if price.IsZero() {
		price = b.prices.Price(ctx, sym)
	}
	if err := validateFill(quantity, price); err != nil {
		return nil, err
	}

	cost := quantity.Mul(price)
	balance, err := b.balances.Debit(ctx, userID, cost)
	if err != nil {
		return nil, err
	}

	view, err := b.ApplyBuy(ctx, userID, sym, quantity, price)
	if err != nil {
		if _, cerr := b.balances.Credit(ctx, userID, cost); cerr != nil {
			b.logger.Error("buy rollback failed", "user", userID, "amount", cost.String(), "err", cerr)
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	b.emitter.Emit(ctx, userID, model.CategoryTrade, "Order executed",
		fmt.Sprintf("Bought %s %s at %s", quantity, sym, price.StringFixed(2)), "/portfolio")
	return &TradeResult{
		Side:     "buy",
		Symbol:   sym,
		Quantity: quantity,
		Price:    price,
		Amount:   cost,
		Balance:  balance,
		Position: view,
	}, nil
}

// Sell reduces the position and credits the proceeds to the user's cash.
// A zero price executes at the latest market price. When the proceeds cannot
// be credited the position is restored and nothing is recorded.
func (b *Book) Sell(ctx context.Context, userID, sym string, quantity, price decimal.Decimal) (*TradeResult, error) {
	sym, err := normalize(sym)
	if err != nil {
		return nil, err
	}
	if price.IsZero() {
		price = b.prices.Price(ctx, sym)
	}
	// Proceeds must have an account to land in.
	if _, err := b.balances.Balance(ctx, userID); err != nil {
		return nil, err
	}

	proceeds := quantity.Mul(price)
	var balance decimal.Decimal
	res, err := b.applySell(ctx, userID, sym, quantity, price, &cashLeg{
		apply: func(ctx context.Context) error {
			bal, err := b.balances.Credit(ctx, userID, proceeds)
			if err != nil {
				b.logger.Error("sell proceeds not credited",
					"user", userID,
					"symbol", sym,
					"amount", proceeds.String(),
					"err", err,
				)
				return fmt.Errorf("credit sell proceeds: %w", err)
			}
			balance = bal
			return nil
		},
		undo: func(ctx context.Context) error {
			_, err := b.balances.Debit(ctx, userID, proceeds)
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	b.emitter.Emit(ctx, userID, model.CategoryTrade, "Order executed",
		fmt.Sprintf("Sold %s %s at %s, realized P&L %s", quantity, sym, price.StringFixed(2), res.Realized.PnL.StringFixed(2)),
		"/portfolio")
	return &TradeResult{
		Side:     "sell",
		Symbol:   sym,
		Quantity: quantity,
		Price:    price,
		Amount:   proceeds,
		Balance:  balance,
		Position: res.Position,
		Realized: res.Realized,
	}, nil
}

// Positions returns the user's open positions marked to market.
func (b *Book) Positions(ctx context.Context, userID string) ([]model.PositionView, error) {
	positions, err := b.positions.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]model.PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, b.view(ctx, p))
	}
	return views, nil
}

// RealizedPnl returns the user's realized P&L records.
func (b *Book) RealizedPnl(ctx context.Context, userID string) ([]model.RealizedPnlRecord, error) {
	return b.realized.List(ctx, userID)
}

// PortfolioSummary aggregates open positions and realized P&L.
func (b *Book) PortfolioSummary(ctx context.Context, userID string) (*model.PortfolioSummary, error) {
	cash, err := b.balances.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	views, err := b.Positions(ctx, userID)
	if err != nil {
		return nil, err
	}
	realized, err := b.realized.Total(ctx, userID)
	if err != nil {
		return nil, err
	}

	s := &model.PortfolioSummary{
		UserID:            userID,
		Cash:              cash,
		Positions:         views,
		TotalInvested:     decimal.Zero,
		TotalCurrentValue: decimal.Zero,
		TotalRealizedPnL:  realized,
	}
	for _, v := range views {
		s.TotalInvested = s.TotalInvested.Add(v.Invested)
		s.TotalCurrentValue = s.TotalCurrentValue.Add(v.CurrentValue)
	}
	s.UnrealizedPnL = s.TotalCurrentValue.Sub(s.TotalInvested)
	s.TotalPnL = s.UnrealizedPnL.Add(s.TotalRealizedPnL)
	return s, nil
}

func (b *Book) view(ctx context.Context, p model.Position) model.PositionView {
	ltp := b.prices.Price(ctx, p.Symbol)
	current := p.Quantity.Mul(ltp)
	v := model.PositionView{
		Position:     p,
		LTP:          ltp,
		CurrentValue: current,
		PnL:          current.Sub(p.Invested),
		PnLPercent:   decimal.Zero,
	}
	if p.Invested.IsPositive() {
		v.PnLPercent = v.PnL.Div(p.Invested).Mul(hundred).Round(2)
	}
	return v
}

func normalize(raw string) (string, error) {
	s, err := symbol.Normalize(raw)
	if err != nil {
		return "", apperr.Validation("%v", err)
	}
	return s, nil
}

func validateFill(quantity, price decimal.Decimal) error {
	if !quantity.IsPositive() {
		return apperr.Validation("quantity must be positive")
	}
	if !price.IsPositive() {
		return apperr.Validation("price must be positive")
	}
	return nil
}
