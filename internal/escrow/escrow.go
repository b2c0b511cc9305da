// Package escrow implements fund holds that are debited at creation and
// settled exactly once: returned in full, forfeited, or returned with a
// bonus. Timed trades and IPO applications are both holds.
//
// Exactly-once settlement rests on a compare-and-set of the hold status from
// pending in the store. The payout credit happens only after the CAS wins;
// if the credit fails the hold is reopened so it can be settled again.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/notify"
	"github.com/atmx/ledger-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Balances is the subset of the account service the engine moves money with.
type Balances interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Config supplies timed-trade settings at creation time.
type Config interface {
	Timer(id string) (model.TimerOption, error)
	ProfitRate() (decimal.Decimal, error)
}

// Engine creates and settles escrow holds.
type Engine struct {
	holds    store.HoldRepo
	txns     store.TransactionRepo
	balances Balances
	config   Config
	emitter  *notify.Emitter
	logger   *slog.Logger
	now      func() time.Time
	pick     func() model.Outcome
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOutcomePicker overrides how expired timed trades choose an outcome.
func WithOutcomePicker(pick func() model.Outcome) Option {
	return func(e *Engine) { e.pick = pick }
}

// NewEngine creates an escrow engine.
func NewEngine(holds store.HoldRepo, txns store.TransactionRepo, balances Balances, config Config, emitter *notify.Emitter, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		holds:    holds,
		txns:     txns,
		balances: balances,
		config:   config,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
		pick:     RandomOutcome,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRequest describes a new hold.
type CreateRequest struct {
	UserID     string
	Kind       model.HoldKind
	Amount     decimal.Decimal
	ProfitRate decimal.Decimal
	Symbol     string
	Direction  string
	TimerID    string
	Metadata   map[string]string
	ExpiresAt  *time.Time
}

// Create debits the amount and persists a pending hold. If the hold cannot
// be persisted the debit is credited back before the error is returned.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*model.EscrowHold, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("hold amount must be positive")
	}
	if req.Kind != model.HoldIPO && req.Kind != model.HoldTimedTrade {
		return nil, apperr.Validation("unknown hold kind %q", req.Kind)
	}

	hold := &model.EscrowHold{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Kind:       req.Kind,
		HeldAmount: req.Amount,
		Status:     model.HoldPending,
		ProfitRate: req.ProfitRate,
		Payout:     decimal.Zero,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		TimerID:    req.TimerID,
		Metadata:   req.Metadata,
		CreatedAt:  e.now().UTC(),
		ExpiresAt:  req.ExpiresAt,
	}

	balance, err := e.balances.Debit(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := e.holds.InsertHold(ctx, hold); err != nil {
		if _, cerr := e.balances.Credit(ctx, req.UserID, req.Amount); cerr != nil {
			e.logger.Error("hold debit rollback failed",
				"user", req.UserID,
				"amount", req.Amount.String(),
				"err", cerr,
			)
			return nil, errors.Join(fmt.Errorf("persist hold: %w", err), cerr)
		}
		return nil, fmt.Errorf("persist hold: %w", err)
	}

	metrics.HoldsCreated.WithLabelValues(string(hold.Kind)).Inc()
	e.logger.Info("hold created",
		"user", hold.UserID,
		"hold_id", hold.ID,
		"kind", hold.Kind,
		"amount", hold.HeldAmount.String(),
		"balance", balance.String(),
	)
	return hold, nil
}

// Get returns a hold by ID.
func (e *Engine) Get(ctx context.Context, id string) (*model.EscrowHold, error) {
	return e.holds.GetHold(ctx, id)
}

// ResolveReturn credits the full held amount back.
func (e *Engine) ResolveReturn(ctx context.Context, id string) (*model.EscrowHold, error) {
	hold, err := e.holds.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, hold, model.HoldResolvedReturn, decimal.Zero, model.ResolvedByAdmin)
}

// ResolveForfeit settles without a credit; the held amount stays debited.
func (e *Engine) ResolveForfeit(ctx context.Context, id string) (*model.EscrowHold, error) {
	hold, err := e.holds.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, hold, model.HoldResolvedForfeit, decimal.Zero, model.ResolvedByAdmin)
}

// ResolveBonus credits the held amount plus profitRate percent of it.
func (e *Engine) ResolveBonus(ctx context.Context, id string, profitRate decimal.Decimal) (*model.EscrowHold, error) {
	if profitRate.IsNegative() {
		return nil, apperr.Validation("profit rate must not be negative")
	}
	hold, err := e.holds.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, hold, model.HoldResolvedBonus, profitRate, model.ResolvedByAdmin)
}

// Payout returns what a hold of amount pays out when resolved to status.
func Payout(status model.HoldStatus, amount, profitRate decimal.Decimal) decimal.Decimal {
	switch status {
	case model.HoldResolvedReturn:
		return amount
	case model.HoldResolvedBonus:
		return amount.Add(amount.Mul(profitRate).Div(hundred))
	default:
		return decimal.Zero
	}
}

func (e *Engine) resolve(ctx context.Context, current *model.EscrowHold, status model.HoldStatus, profitRate decimal.Decimal, by string) (*model.EscrowHold, error) {
	if current.Status != model.HoldPending {
		return nil, apperr.AlreadyProcessed("hold %s is %s", current.ID, current.Status)
	}

	payout := Payout(status, current.HeldAmount, profitRate)
	hold, err := e.holds.ResolveHold(ctx, current.ID, store.Resolution{
		Status:     status,
		Outcome:    outcomeFor(current.Kind, status),
		Payout:     payout,
		ResolvedAt: e.now().UTC(),
		ResolvedBy: by,
	})
	if err != nil {
		return nil, err
	}

	if payout.IsPositive() {
		if _, err := e.balances.Credit(ctx, hold.UserID, payout); err != nil {
			if rerr := e.holds.ReopenHold(ctx, hold.ID, status); rerr != nil {
				e.logger.Error("hold reopen failed", "hold_id", hold.ID, "err", rerr)
				return nil, errors.Join(fmt.Errorf("credit payout: %w", err), rerr)
			}
			return nil, fmt.Errorf("credit payout: %w", err)
		}
	}

	e.recordSettlement(ctx, hold)
	metrics.HoldResolutions.WithLabelValues(string(status), by).Inc()
	e.logger.Info("hold resolved",
		"user", hold.UserID,
		"hold_id", hold.ID,
		"kind", hold.Kind,
		"status", hold.Status,
		"outcome", hold.Outcome,
		"payout", payout.String(),
		"resolved_by", by,
	)
	e.notifyResolved(ctx, hold)
	return hold, nil
}

// recordSettlement appends the audit record of a resolution. Its Amount is
// the net effect on the user's cash since the hold was placed (payout minus
// held amount), negative for a forfeit. The hold row already carries the
// payout, so a failed audit write is logged only.
func (e *Engine) recordSettlement(ctx context.Context, hold *model.EscrowHold) {
	net := hold.Payout.Sub(hold.HeldAmount)
	at := e.now().UTC()
	if hold.ResolvedAt != nil {
		at = *hold.ResolvedAt
	}
	txn := &model.WalletTransaction{
		ID:          uuid.NewString(),
		UserID:      hold.UserID,
		Kind:        model.TxnSettlement,
		Amount:      net,
		Status:      model.TxnApproved,
		Reference:   hold.ID,
		Note:        fmt.Sprintf("%s %s: held %s, paid %s, net %s", hold.Kind, hold.Outcome, hold.HeldAmount.StringFixed(2), hold.Payout.StringFixed(2), net.StringFixed(2)),
		CreatedAt:   at,
		ProcessedAt: &at,
	}
	if err := e.txns.InsertTransaction(ctx, txn); err != nil {
		e.logger.Error("settlement audit write failed", "hold_id", hold.ID, "err", err)
	}
}

func (e *Engine) notifyResolved(ctx context.Context, hold *model.EscrowHold) {
	var category, title, link string
	switch hold.Kind {
	case model.HoldIPO:
		category, link = model.CategoryIPO, "/ipo"
		title = "IPO application " + string(hold.Outcome)
	default:
		category, link = model.CategoryTimedTrade, "/timed-trades"
		title = map[model.Outcome]string{
			model.OutcomeWin:  "Timed trade won",
			model.OutcomeLose: "Timed trade lost",
			model.OutcomeDraw: "Timed trade draw",
		}[hold.Outcome]
	}
	msg := fmt.Sprintf("Held %s, credited %s", hold.HeldAmount.StringFixed(2), hold.Payout.StringFixed(2))
	e.emitter.Emit(ctx, hold.UserID, category, title, msg, link)
}

func outcomeFor(kind model.HoldKind, status model.HoldStatus) model.Outcome {
	if kind == model.HoldIPO {
		switch status {
		case model.HoldResolvedForfeit:
			return model.OutcomeAllotted
		case model.HoldResolvedReturn:
			return model.OutcomeRejected
		}
	}
	switch status {
	case model.HoldResolvedBonus:
		return model.OutcomeWin
	case model.HoldResolvedForfeit:
		return model.OutcomeLose
	default:
		return model.OutcomeDraw
	}
}
