// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's cash balance. The balance is never negative and is
// changed only through the account store's atomic debit/credit.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TxnKind is the kind of a wallet transaction.
type TxnKind string

const (
	TxnDeposit          TxnKind = "deposit"
	TxnWithdrawal       TxnKind = "withdrawal"
	TxnCreditAdjustment TxnKind = "credit_adjustment"
	TxnDebitAdjustment  TxnKind = "debit_adjustment"
	TxnSettlement       TxnKind = "settlement"
)

// TxnStatus is the lifecycle state of a wallet transaction.
type TxnStatus string

const (
	TxnPending  TxnStatus = "pending"
	TxnApproved TxnStatus = "approved"
	TxnRejected TxnStatus = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s TxnStatus) Terminal() bool {
	return s == TxnApproved || s == TxnRejected
}

// WalletTransaction records a deposit/withdrawal request or an audit entry.
// Fee is informational: a withdrawal debits the full Amount on approval. For
// settlement entries Amount is the signed net effect of the escrow hold.
type WalletTransaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Kind        TxnKind         `json:"kind" db:"kind"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	Status      TxnStatus       `json:"status" db:"status"`
	Channel     string          `json:"channel,omitempty" db:"channel"`
	MethodID    string          `json:"method_id,omitempty" db:"method_id"`
	Destination string          `json:"destination,omitempty" db:"destination"`
	Reference   string          `json:"reference,omitempty" db:"reference"` // hold ID for settlements
	Note        string          `json:"note,omitempty" db:"note"`
	Reason      string          `json:"reason,omitempty" db:"reason"` // rejection reason
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// Position is a user's holding in one symbol, keyed by (UserID, Symbol).
// Invested always equals Quantity × AvgPrice. Version supports optimistic
// concurrency on writes.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"`
	Invested  decimal.Decimal `json:"invested" db:"invested"`
	Version   int64           `json:"version" db:"version"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// PositionView is a position marked to market against the latest price.
type PositionView struct {
	Position
	LTP          decimal.Decimal `json:"ltp"`
	CurrentValue decimal.Decimal `json:"current_value"` // quantity × ltp
	PnL          decimal.Decimal `json:"pnl"`           // currentValue - invested
	PnLPercent   decimal.Decimal `json:"pnl_percent"`
}

// RealizedPnlRecord is an immutable record of a gain or loss locked in by a
// sell. Once created, these are never modified or deleted.
type RealizedPnlRecord struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	BuyPrice   decimal.Decimal `json:"buy_price" db:"buy_price"` // avg price at time of sell
	SellPrice  decimal.Decimal `json:"sell_price" db:"sell_price"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	PnL        decimal.Decimal `json:"pnl" db:"pnl"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// PortfolioSummary aggregates open positions and realized P&L for a user.
type PortfolioSummary struct {
	UserID            string          `json:"user_id"`
	Cash              decimal.Decimal `json:"cash"`
	Positions         []PositionView  `json:"positions"`
	TotalInvested     decimal.Decimal `json:"total_invested"`
	TotalCurrentValue decimal.Decimal `json:"total_current_value"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	TotalRealizedPnL  decimal.Decimal `json:"total_realized_pnl"`
	TotalPnL          decimal.Decimal `json:"total_pnl"`
}

// HoldKind distinguishes the escrow variants.
type HoldKind string

const (
	HoldIPO        HoldKind = "ipo"
	HoldTimedTrade HoldKind = "timed_trade"
)

// HoldStatus is the lifecycle state of an escrow hold.
type HoldStatus string

const (
	HoldPending         HoldStatus = "pending"
	HoldResolvedReturn  HoldStatus = "resolved-return"
	HoldResolvedForfeit HoldStatus = "resolved-forfeit"
	HoldResolvedBonus   HoldStatus = "resolved-bonus"
)

// Outcome names the business result recorded on a resolved hold.
type Outcome string

const (
	OutcomeWin      Outcome = "win"
	OutcomeLose     Outcome = "lose"
	OutcomeDraw     Outcome = "draw"
	OutcomeAllotted Outcome = "allotted"
	OutcomeRejected Outcome = "rejected"
)

// Resolver identifies who resolved a hold.
const (
	ResolvedByAdmin  = "admin"
	ResolvedByExpiry = "expiry"
)

// EscrowHold is funds removed from a balance at creation and credited back
// (in full, zero, or full-plus-bonus) exactly once at resolution.
type EscrowHold struct {
	ID         string            `json:"id" db:"id"`
	UserID     string            `json:"user_id" db:"user_id"`
	Kind       HoldKind          `json:"kind" db:"kind"`
	HeldAmount decimal.Decimal   `json:"held_amount" db:"held_amount"`
	Status     HoldStatus        `json:"status" db:"status"`
	Outcome    Outcome           `json:"outcome,omitempty" db:"outcome"`
	ProfitRate decimal.Decimal   `json:"profit_rate" db:"profit_rate"` // percent, captured at creation
	Payout     decimal.Decimal   `json:"payout" db:"payout"`
	Symbol     string            `json:"symbol,omitempty" db:"symbol"`
	Direction  string            `json:"direction,omitempty" db:"direction"` // "up" or "down"
	TimerID    string            `json:"timer_id,omitempty" db:"timer_id"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy string            `json:"resolved_by,omitempty" db:"resolved_by"`
}

// Expired reports whether a pending hold has passed its expiry at now.
func (h *EscrowHold) Expired(now time.Time) bool {
	return h.Status == HoldPending && h.ExpiresAt != nil && !now.Before(*h.ExpiresAt)
}

// TimerOption is a selectable timed-trade duration.
type TimerOption struct {
	ID       string        `json:"id" yaml:"id" db:"id"`
	Label    string        `json:"label" yaml:"label" db:"label"`
	Duration time.Duration `json:"duration" yaml:"duration" db:"duration"`
	Enabled  bool          `json:"enabled" yaml:"enabled" db:"enabled"`
}

// WithdrawalMethod is a payout channel with its minimum and flat fee.
type WithdrawalMethod struct {
	ID        string          `json:"id" yaml:"id" db:"id"`
	Name      string          `json:"name" yaml:"name" db:"name"`
	MinAmount decimal.Decimal `json:"min_amount" yaml:"min_amount" db:"min_amount"`
	Fee       decimal.Decimal `json:"fee" yaml:"fee" db:"fee"`
	Active    bool            `json:"active" yaml:"active" db:"active"`
}

// Notification is a one-way message to a user emitted after a state change.
type Notification struct {
	UserID   string    `json:"user_id"`
	Category string    `json:"category"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Link     string    `json:"link,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Notification categories.
const (
	CategoryWallet     = "wallet"
	CategoryTrade      = "trade"
	CategoryTimedTrade = "timed_trade"
	CategoryIPO        = "ipo"
)
