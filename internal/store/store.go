// Package store defines the persistence interfaces for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache over positions and realized P&L), and in-memory (tests and local
// development, selected explicitly at startup).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// ErrVersionConflict is returned when a position write loses an optimistic
// concurrency race. Callers re-read and retry.
var ErrVersionConflict = errors.New("store: position version conflict")

// AccountRepo persists cash balances. Debit and Credit are single atomic
// updates; a check-then-write sequence is never used for balances.
type AccountRepo interface {
	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by user ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// Debit subtracts amount only if the balance covers it and returns the
	// new balance. Fails with apperr.ErrInsufficientFunds otherwise.
	Debit(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error)

	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error)
}

// TransactionRepo persists wallet transactions.
type TransactionRepo interface {
	InsertTransaction(ctx context.Context, t *model.WalletTransaction) error
	GetTransaction(ctx context.Context, id string) (*model.WalletTransaction, error)

	// ListTransactionsByUser returns a user's transactions, newest first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.WalletTransaction, error)

	// TransitionTransaction moves a transaction from one status to another
	// only if it is currently in from. Fails with apperr.ErrAlreadyProcessed
	// when the stored status differs.
	TransitionTransaction(ctx context.Context, id string, from, to model.TxnStatus, reason string, at *time.Time) (*model.WalletTransaction, error)
}

// PositionRepo persists open positions.
type PositionRepo interface {
	// GetPosition fails with apperr.ErrNotFound when the user holds no
	// position in symbol.
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// SavePosition inserts p when p.Version is zero and otherwise updates it
	// only if the stored version still equals p.Version. On success
	// p.Version is incremented. Fails with ErrVersionConflict on a lost race.
	SavePosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a position at the given version.
	DeletePosition(ctx context.Context, userID, symbol string, version int64) error
}

// PnlRepo is the append-only realized P&L log.
type PnlRepo interface {
	AppendRealizedPnl(ctx context.Context, r *model.RealizedPnlRecord) error
	ListRealizedPnl(ctx context.Context, userID string) ([]model.RealizedPnlRecord, error)
}

// Resolution describes the terminal state written to a hold.
type Resolution struct {
	Status     model.HoldStatus
	Outcome    model.Outcome
	Payout     decimal.Decimal
	ResolvedAt time.Time
	ResolvedBy string
}

// HoldRepo persists escrow holds.
type HoldRepo interface {
	InsertHold(ctx context.Context, h *model.EscrowHold) error
	GetHold(ctx context.Context, id string) (*model.EscrowHold, error)

	// ListHolds returns a user's holds of the given kind (all kinds when
	// kind is empty), newest first.
	ListHolds(ctx context.Context, userID string, kind model.HoldKind) ([]model.EscrowHold, error)

	// ListExpiredHolds returns up to limit pending holds whose expiry is at
	// or before now, oldest expiry first.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.EscrowHold, error)

	// ResolveHold moves a pending hold to a terminal state. Fails with
	// apperr.ErrAlreadyProcessed when the hold is no longer pending.
	ResolveHold(ctx context.Context, id string, res Resolution) (*model.EscrowHold, error)

	// ReopenHold reverts a resolution back to pending. Used only to
	// compensate when the payout credit fails.
	ReopenHold(ctx context.Context, id string, from model.HoldStatus) error
}

// SettingsRepo reads operator-managed trading settings.
type SettingsRepo interface {
	ListTimerOptions(ctx context.Context) ([]model.TimerOption, error)

	// GetProfitRate returns the global timed-trade profit rate (percent) and
	// whether one is configured.
	GetProfitRate(ctx context.Context) (decimal.Decimal, bool, error)

	ListWithdrawalMethods(ctx context.Context) ([]model.WithdrawalMethod, error)
}

// Store is the full persistence interface. PostgreSQL is the source of truth.
type Store interface {
	AccountRepo
	TransactionRepo
	PositionRepo
	PnlRepo
	HoldRepo
	SettingsRepo
}
