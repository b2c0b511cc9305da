// Package account is the only writer of cash balances. Every mutation is a
// single atomic conditional update in the backing store; there is no
// read-check-then-write path.
package account

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

// Direction of an operator adjustment.
type Direction string

const (
	DirectionAdd    Direction = "add"
	DirectionDeduct Direction = "deduct"
)

// Service exposes balance reads and mutations.
type Service struct {
	accounts store.AccountRepo
	txns     store.TransactionRepo
	emitter  *notify.Emitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an account service.
func NewService(accounts store.AccountRepo, txns store.TransactionRepo, emitter *notify.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		txns:     txns,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
	}
}

// Open creates an account with an initial balance.
func (s *Service) Open(ctx context.Context, userID string, initial decimal.Decimal) (*model.Account, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if initial.IsNegative() {
		return nil, apperr.Validation("initial balance must not be negative")
	}
	now := s.now().UTC()
	a := &model.Account{ID: userID, Balance: initial, CreatedAt: now, UpdatedAt: now}
	if err := s.accounts.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("account opened", "user", userID, "balance", initial.String())
	return a, nil
}

// Get returns the account of userID.
func (s *Service) Get(ctx context.Context, userID string) (*model.Account, error) {
	return s.accounts.GetAccount(ctx, userID)
}

// Balance returns the cash balance of userID.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	a, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// Debit subtracts amount, failing with apperr.ErrInsufficientFunds when the
// balance does not cover it. Returns the new balance.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation("debit amount must be positive")
	}
	bal, err := s.accounts.Debit(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientFunds) {
			metrics.BalanceRejections.Inc()
		}
		return decimal.Zero, err
	}
	metrics.BalanceMutations.WithLabelValues("debit").Inc()
	return bal, nil
}

// Credit adds amount and returns the new balance.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation("credit amount must be positive")
	}
	bal, err := s.accounts.Credit(ctx, userID, amount)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.BalanceMutations.WithLabelValues("credit").Inc()
	return bal, nil
}

// AdjustRequest is an operator-initiated balance change.
type AdjustRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Direction Direction       `json:"direction"`
	Reason    string          `json:"reason"`
}

// Adjust applies an operator adjustment and records it as an approved audit
// transaction. If the audit record cannot be written the balance change is
// reverted.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*model.WalletTransaction, error) {
	var (
		kind    model.TxnKind
		balance decimal.Decimal
		err     error
	)
	switch req.Direction {
	case DirectionAdd:
		kind = model.TxnCreditAdjustment
		balance, err = s.Credit(ctx, req.UserID, req.Amount)
	case DirectionDeduct:
		kind = model.TxnDebitAdjustment
		balance, err = s.Debit(ctx, req.UserID, req.Amount)
	default:
		return nil, apperr.Validation("direction must be %q or %q", DirectionAdd, DirectionDeduct)
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	txn := &model.WalletTransaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Kind:        kind,
		Amount:      req.Amount,
		Status:      model.TxnApproved,
		Note:        req.Reason,
		CreatedAt:   now,
		ProcessedAt: &now,
	}
	if err := s.txns.InsertTransaction(ctx, txn); err != nil {
		var rerr error
		if req.Direction == DirectionAdd {
			_, rerr = s.accounts.Debit(ctx, req.UserID, req.Amount)
		} else {
			_, rerr = s.accounts.Credit(ctx, req.UserID, req.Amount)
		}
		if rerr != nil {
			s.logger.Error("adjustment rollback failed",
				"user", req.UserID,
				"amount", req.Amount.String(),
				"direction", req.Direction,
				"err", rerr,
			)
			return nil, fmt.Errorf("record adjustment: %w (rollback failed: %v)", err, rerr)
		}
		return nil, fmt.Errorf("record adjustment: %w", err)
	}

	s.logger.Info("balance adjusted",
		"user", req.UserID,
		"txn_id", txn.ID,
		"direction", req.Direction,
		"amount", req.Amount.String(),
		"balance", balance.String(),
	)

	title, verb := "Balance credited", "added to"
	if req.Direction == DirectionDeduct {
		title, verb = "Balance debited", "deducted from"
	}
	msg := fmt.Sprintf("%s was %s your balance", req.Amount.StringFixed(2), verb)
	if req.Reason != "" {
		msg += ": " + req.Reason
	}
	s.emitter.Emit(ctx, req.UserID, model.CategoryWallet, title, msg, "/wallet")
	return txn, nil
}
