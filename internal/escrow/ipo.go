package escrow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/symbol"
)

// ApplyIPO blocks amount against an IPO application for symbol.
func (e *Engine) ApplyIPO(ctx context.Context, userID, sym string, amount decimal.Decimal, metadata map[string]string) (*model.EscrowHold, error) {
	sym, err := symbol.Normalize(sym)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	hold, err := e.Create(ctx, CreateRequest{
		UserID:   userID,
		Kind:     model.HoldIPO,
		Amount:   amount,
		Symbol:   sym,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(ctx, userID, model.CategoryIPO, "IPO application received",
		fmt.Sprintf("%s blocked for %s", amount.StringFixed(2), sym), "/ipo")
	return hold, nil
}

// AllotIPO consumes the blocked funds for an allotment.
func (e *Engine) AllotIPO(ctx context.Context, id string) (*model.EscrowHold, error) {
	hold, err := e.ipoHold(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, hold, model.HoldResolvedForfeit, decimal.Zero, model.ResolvedByAdmin)
}

// RejectIPO refunds the blocked funds.
func (e *Engine) RejectIPO(ctx context.Context, id string) (*model.EscrowHold, error) {
	hold, err := e.ipoHold(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, hold, model.HoldResolvedReturn, decimal.Zero, model.ResolvedByAdmin)
}

// ListIPOApplications returns the user's IPO holds, newest first.
func (e *Engine) ListIPOApplications(ctx context.Context, userID string) ([]model.EscrowHold, error) {
	return e.holds.ListHolds(ctx, userID, model.HoldIPO)
}

func (e *Engine) ipoHold(ctx context.Context, id string) (*model.EscrowHold, error) {
	hold, err := e.holds.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	if hold.Kind != model.HoldIPO {
		return nil, apperr.Validation("hold %s is not an IPO application", id)
	}
	return hold, nil
}
