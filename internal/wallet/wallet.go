// Package wallet drives the moderated deposit and withdrawal flow. Requests
// are created pending with no balance effect; the balance moves only when an
// operator approves them.
package wallet

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

// Balances is the subset of the account service the ledger needs.
type Balances interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Methods looks up withdrawal methods.
type Methods interface {
	Method(id string) (model.WithdrawalMethod, error)
}

// Ledger manages wallet transactions.
type Ledger struct {
	txns     store.TransactionRepo
	balances Balances
	methods  Methods
	emitter  *notify.Emitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedger creates a wallet ledger.
func NewLedger(txns store.TransactionRepo, balances Balances, methods Methods, emitter *notify.Emitter, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		txns:     txns,
		balances: balances,
		methods:  methods,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestDeposit records a pending deposit.
func (l *Ledger) RequestDeposit(ctx context.Context, userID string, amount decimal.Decimal, channel string) (*model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("deposit amount must be positive")
	}
	if _, err := l.balances.Balance(ctx, userID); err != nil {
		return nil, err
	}

	txn := &model.WalletTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      model.TxnDeposit,
		Amount:    amount,
		Status:    model.TxnPending,
		Channel:   channel,
		CreatedAt: l.now().UTC(),
	}
	if err := l.txns.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("insert deposit: %w", err)
	}
	metrics.WalletTransitions.WithLabelValues(string(txn.Kind), string(txn.Status)).Inc()
	l.logger.Info("deposit requested", "user", userID, "txn_id", txn.ID, "amount", amount.String(), "channel", channel)
	return txn, nil
}

// RequestWithdrawal records a pending withdrawal. The balance check here is
// advisory; Approve re-checks and debits atomically.
func (l *Ledger) RequestWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, methodID, destination string) (*model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("withdrawal amount must be positive")
	}
	method, err := l.methods.Method(methodID)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(method.MinAmount) {
		return nil, apperr.Validation("minimum withdrawal for %s is %s", method.Name, method.MinAmount.StringFixed(2))
	}

	balance, err := l.balances.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(balance) {
		return nil, apperr.InsufficientFunds("balance %s is below withdrawal amount %s", balance.StringFixed(2), amount.StringFixed(2))
	}

	txn := &model.WalletTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        model.TxnWithdrawal,
		Amount:      amount,
		Fee:         method.Fee,
		Status:      model.TxnPending,
		MethodID:    method.ID,
		Destination: destination,
		CreatedAt:   l.now().UTC(),
	}
	if err := l.txns.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	metrics.WalletTransitions.WithLabelValues(string(txn.Kind), string(txn.Status)).Inc()
	l.logger.Info("withdrawal requested",
		"user", userID,
		"txn_id", txn.ID,
		"amount", amount.String(),
		"method", method.ID,
	)
	return txn, nil
}

// Approve settles a pending transaction. Deposits credit the amount;
// withdrawals debit the full amount (the fee is informational).
//
// A withdrawal is debited before its status changes, so a request the balance
// no longer covers fails with apperr.ErrInsufficientFunds without ever being
// visible as approved. If a concurrent Reject wins the status change, the
// debit is credited back and Approve fails with apperr.ErrAlreadyProcessed.
// A deposit changes status first and is reverted to pending only if the
// credit itself fails.
func (l *Ledger) Approve(ctx context.Context, txnID string) (*model.WalletTransaction, error) {
	current, err := l.txns.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if current.Kind != model.TxnDeposit && current.Kind != model.TxnWithdrawal {
		return nil, apperr.AlreadyProcessed("transaction %s is an audit record", txnID)
	}
	if current.Status != model.TxnPending {
		return nil, apperr.AlreadyProcessed("transaction %s is already %s", txnID, current.Status)
	}

	var txn *model.WalletTransaction
	switch current.Kind {
	case model.TxnWithdrawal:
		txn, err = l.approveWithdrawal(ctx, current)
	default:
		txn, err = l.approveDeposit(ctx, current)
	}
	if err != nil {
		return nil, err
	}

	metrics.WalletTransitions.WithLabelValues(string(txn.Kind), string(txn.Status)).Inc()
	l.logger.Info("transaction approved",
		"user", txn.UserID,
		"txn_id", txn.ID,
		"kind", txn.Kind,
		"amount", txn.Amount.String(),
	)

	title, msg := "Deposit approved", fmt.Sprintf("%s has been credited to your wallet", txn.Amount.StringFixed(2))
	if txn.Kind == model.TxnWithdrawal {
		title, msg = "Withdrawal approved", fmt.Sprintf("%s has been withdrawn from your wallet", txn.Amount.StringFixed(2))
	}
	l.emitter.Emit(ctx, txn.UserID, model.CategoryWallet, title, msg, "/wallet")
	return txn, nil
}

func (l *Ledger) approveDeposit(ctx context.Context, current *model.WalletTransaction) (*model.WalletTransaction, error) {
	now := l.now().UTC()
	txn, err := l.txns.TransitionTransaction(ctx, current.ID, model.TxnPending, model.TxnApproved, "", &now)
	if err != nil {
		return nil, err
	}
	if _, err := l.balances.Credit(ctx, txn.UserID, txn.Amount); err != nil {
		if _, rerr := l.txns.TransitionTransaction(ctx, txn.ID, model.TxnApproved, model.TxnPending, "", nil); rerr != nil {
			l.logger.Error("approval rollback failed", "txn_id", txn.ID, "err", rerr)
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	return txn, nil
}

func (l *Ledger) approveWithdrawal(ctx context.Context, current *model.WalletTransaction) (*model.WalletTransaction, error) {
	if _, err := l.balances.Debit(ctx, current.UserID, current.Amount); err != nil {
		return nil, err
	}
	now := l.now().UTC()
	txn, err := l.txns.TransitionTransaction(ctx, current.ID, model.TxnPending, model.TxnApproved, "", &now)
	if err != nil {
		if _, cerr := l.balances.Credit(ctx, current.UserID, current.Amount); cerr != nil {
			l.logger.Error("withdrawal refund failed",
				"user", current.UserID,
				"txn_id", current.ID,
				"amount", current.Amount.String(),
				"err", cerr,
			)
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	return txn, nil
}

// Reject closes a pending transaction without touching the balance.
func (l *Ledger) Reject(ctx context.Context, txnID, reason string) (*model.WalletTransaction, error) {
	now := l.now().UTC()
	txn, err := l.txns.TransitionTransaction(ctx, txnID, model.TxnPending, model.TxnRejected, reason, &now)
	if err != nil {
		return nil, err
	}

	metrics.WalletTransitions.WithLabelValues(string(txn.Kind), string(txn.Status)).Inc()
	l.logger.Info("transaction rejected", "user", txn.UserID, "txn_id", txn.ID, "kind", txn.Kind, "reason", reason)

	msg := fmt.Sprintf("Your %s of %s was rejected", txn.Kind, txn.Amount.StringFixed(2))
	if reason != "" {
		msg += ": " + reason
	}
	l.emitter.Emit(ctx, txn.UserID, model.CategoryWallet, "Request rejected", msg, "/wallet")
	return txn, nil
}

// Get returns a transaction by ID.
func (l *Ledger) Get(ctx context.Context, txnID string) (*model.WalletTransaction, error) {
	return l.txns.GetTransaction(ctx, txnID)
}

// ListByUser returns a user's transactions, newest first.
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]model.WalletTransaction, error) {
	return l.txns.ListTransactionsByUser(ctx, userID)
}
