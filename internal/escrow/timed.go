package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/symbol"
)

var expiryOutcomes = [...]model.Outcome{model.OutcomeWin, model.OutcomeLose, model.OutcomeDraw}

// RandomOutcome picks win, lose or draw uniformly at random. It decides
// timed trades that expire without an operator decision.
func RandomOutcome() model.Outcome {
	return expiryOutcomes[rand.Intn(len(expiryOutcomes))]
}

// TimedTradeRequest places a wager that expires after the chosen timer.
type TimedTradeRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	TimerID   string          `json:"timer_id"`
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"`
}

// CreateTimedTrade debits the stake and opens a pending timed trade. The
// timer must be enabled and a profit rate configured; the rate in force now
// is captured on the hold.
func (e *Engine) CreateTimedTrade(ctx context.Context, req TimedTradeRequest) (*model.EscrowHold, error) {
	timer, err := e.config.Timer(req.TimerID)
	if err != nil {
		return nil, err
	}
	rate, err := e.config.ProfitRate()
	if err != nil {
		return nil, err
	}

	switch req.Direction {
	case "", "up", "down":
	default:
		return nil, apperr.Validation("direction must be up or down")
	}
	sym := req.Symbol
	if sym != "" {
		if sym, err = symbol.Normalize(sym); err != nil {
			return nil, apperr.Validation("%v", err)
		}
	}

	expires := e.now().UTC().Add(timer.Duration)
	hold, err := e.Create(ctx, CreateRequest{
		UserID:     req.UserID,
		Kind:       model.HoldTimedTrade,
		Amount:     req.Amount,
		ProfitRate: rate,
		Symbol:     sym,
		Direction:  req.Direction,
		TimerID:    timer.ID,
		Metadata:   map[string]string{"timer_label": timer.Label},
		ExpiresAt:  &expires,
	})
	if err != nil {
		return nil, err
	}

	e.emitter.Emit(ctx, hold.UserID, model.CategoryTimedTrade, "Timed trade placed",
		fmt.Sprintf("%s staked for %s, potential payout %s", hold.HeldAmount.StringFixed(2), timer.Label,
			Payout(model.HoldResolvedBonus, hold.HeldAmount, rate).StringFixed(2)),
		"/timed-trades")
	return hold, nil
}

// Settle applies an operator decision to a timed trade: win pays the bonus
// at the rate captured on the hold, lose forfeits, draw returns the stake.
func (e *Engine) Settle(ctx context.Context, id string, outcome model.Outcome) (*model.EscrowHold, error) {
	return e.settle(ctx, id, outcome, model.ResolvedByAdmin)
}

func (e *Engine) settle(ctx context.Context, id string, outcome model.Outcome, by string) (*model.EscrowHold, error) {
	hold, err := e.holds.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	if hold.Kind != model.HoldTimedTrade {
		return nil, apperr.Validation("hold %s is not a timed trade", id)
	}

	switch outcome {
	case model.OutcomeWin:
		return e.resolve(ctx, hold, model.HoldResolvedBonus, hold.ProfitRate, by)
	case model.OutcomeLose:
		return e.resolve(ctx, hold, model.HoldResolvedForfeit, decimal.Zero, by)
	case model.OutcomeDraw:
		return e.resolve(ctx, hold, model.HoldResolvedReturn, decimal.Zero, by)
	default:
		return nil, apperr.Validation("outcome must be win, lose or draw")
	}
}

// ListTimedTrades returns the user's timed trades, newest first. Any pending
// trade past its expiry is settled with a random outcome before returning.
func (e *Engine) ListTimedTrades(ctx context.Context, userID string) ([]model.EscrowHold, error) {
	holds, err := e.holds.ListHolds(ctx, userID, model.HoldTimedTrade)
	if err != nil {
		return nil, err
	}

	now := e.now()
	for i := range holds {
		if !holds[i].Expired(now) {
			continue
		}
		resolved, err := e.resolveExpired(ctx, holds[i].ID)
		if err != nil {
			return nil, err
		}
		holds[i] = *resolved
	}
	return holds, nil
}

// resolveExpired settles an expired hold. Losing the CAS to a concurrent
// resolver is not an error: the hold is reloaded as that resolver left it.
func (e *Engine) resolveExpired(ctx context.Context, id string) (*model.EscrowHold, error) {
	hold, err := e.settle(ctx, id, e.pick(), model.ResolvedByExpiry)
	if errors.Is(err, apperr.ErrAlreadyProcessed) {
		return e.holds.GetHold(ctx, id)
	}
	return hold, err
}

// SweepExpired settles up to limit expired timed trades regardless of owner
// and reports how many it resolved. Failures are logged and skipped.
func (e *Engine) SweepExpired(ctx context.Context, limit int) (int, error) {
	start := time.Now()
	defer func() { metrics.SweepLatency.Observe(time.Since(start).Seconds()) }()

	expired, err := e.holds.ListExpiredHolds(ctx, e.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired holds: %w", err)
	}

	resolved := 0
	for _, h := range expired {
		if h.Kind != model.HoldTimedTrade {
			continue
		}
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if _, err := e.settle(ctx, h.ID, e.pick(), model.ResolvedByExpiry); err != nil {
			if !errors.Is(err, apperr.ErrAlreadyProcessed) {
				e.logger.Warn("expired hold not resolved", "hold_id", h.ID, "err", err)
			}
			continue
		}
		resolved++
	}
	if resolved > 0 {
		e.logger.Info("expired holds swept", "resolved", resolved, "scanned", len(expired))
	}
	return resolved, nil
}
