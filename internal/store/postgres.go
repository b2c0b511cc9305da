package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC and round-tripped as text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $3)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Balance.String(), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Validation("account %s already exists", a.ID)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, created_at, updated_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("account %s not found", id)
		}
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

// Debit is a single conditional UPDATE: the balance check and the write
// happen in one statement, so concurrent debits cannot overdraw.
func (s *PostgresStore) Debit(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts
		 SET balance = balance - $2::NUMERIC, updated_at = now()
		 WHERE id = $1 AND balance >= $2::NUMERIC
		 RETURNING balance::TEXT`,
		id, amount.String()).Scan(&balance)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("debit account %s: %w", id, err)
		}
		// No row matched: distinguish a missing account from a short balance.
		a, getErr := s.GetAccount(ctx, id)
		if getErr != nil {
			return decimal.Zero, getErr
		}
		return a.Balance, apperr.InsufficientFunds("balance %s is below %s", a.Balance, amount)
	}
	newBalance, _ := decimal.NewFromString(balance)
	return newBalance, nil
}

func (s *PostgresStore) Credit(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts
		 SET balance = balance + $2::NUMERIC, updated_at = now()
		 WHERE id = $1
		 RETURNING balance::TEXT`,
		id, amount.String()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, apperr.NotFound("account %s not found", id)
		}
		return decimal.Zero, fmt.Errorf("credit account %s: %w", id, err)
	}
	newBalance, _ := decimal.NewFromString(balance)
	return newBalance, nil
}

// --- Wallet transactions ---

const txnColumns = `id, user_id, kind, amount::TEXT, fee::TEXT, status, channel, method_id,
	destination, reference, note, reason, created_at, processed_at`

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.WalletTransaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet_transactions
		 (id, user_id, kind, amount, fee, status, channel, method_id, destination, reference, note, reason, created_at, processed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.UserID, string(t.Kind), t.Amount.String(), t.Fee.String(), string(t.Status),
		t.Channel, t.MethodID, t.Destination, t.Reference, t.Note, t.Reason,
		t.CreatedAt, t.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*model.WalletTransaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM wallet_transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("transaction %s not found", id)
		}
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.WalletTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txnColumns+` FROM wallet_transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.WalletTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) TransitionTransaction(ctx context.Context, id string, from, to model.TxnStatus, reason string, at *time.Time) (*model.WalletTransaction, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE wallet_transactions
		 SET status = $3, reason = $4, processed_at = $5
		 WHERE id = $1 AND status = $2
		 RETURNING `+txnColumns,
		id, string(from), string(to), reason, at)
	t, err := scanTransaction(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition transaction %s: %w", id, err)
	}
	current, getErr := s.GetTransaction(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, apperr.AlreadyProcessed("transaction %s is %s", id, current.Status)
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, symbol, quantity::TEXT, avg_price::TEXT, invested::TEXT, version, updated_at
		 FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("no %s position for %s", symbol, userID)
		}
		return nil, fmt.Errorf("get position %s/%s: %w", userID, symbol, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, quantity::TEXT, avg_price::TEXT, invested::TEXT, version, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	var sql string
	if p.Version == 0 {
		sql = `INSERT INTO positions (user_id, symbol, quantity, avg_price, invested, version, updated_at)
		       VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::BIGINT + 1, $7)
		       ON CONFLICT (user_id, symbol) DO NOTHING`
	} else {
		sql = `UPDATE positions
		       SET quantity = $3::NUMERIC, avg_price = $4::NUMERIC, invested = $5::NUMERIC,
		           version = $6::BIGINT + 1, updated_at = $7
		       WHERE user_id = $1 AND symbol = $2 AND version = $6`
	}
	tag, err := s.pool.Exec(ctx, sql,
		p.UserID, p.Symbol, p.Quantity.String(), p.AvgPrice.String(), p.Invested.String(),
		p.Version, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save position %s/%s: %w", p.UserID, p.Symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, userID, symbol string, version int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND symbol = $2 AND version = $3`,
		userID, symbol, version)
	if err != nil {
		return fmt.Errorf("delete position %s/%s: %w", userID, symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// --- Realized P&L ---

func (s *PostgresStore) AppendRealizedPnl(ctx context.Context, r *model.RealizedPnlRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO realized_pnl (id, user_id, symbol, buy_price, sell_price, quantity, pnl, executed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		r.ID, r.UserID, r.Symbol,
		r.BuyPrice.String(), r.SellPrice.String(), r.Quantity.String(), r.PnL.String(),
		r.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("append realized pnl %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListRealizedPnl(ctx context.Context, userID string) ([]model.RealizedPnlRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, buy_price::TEXT, sell_price::TEXT, quantity::TEXT, pnl::TEXT, executed_at
		 FROM realized_pnl WHERE user_id = $1 ORDER BY executed_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RealizedPnlRecord
	for rows.Next() {
		var r model.RealizedPnlRecord
		var buyS, sellS, qtyS, pnlS string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Symbol, &buyS, &sellS, &qtyS, &pnlS, &r.ExecutedAt); err != nil {
			return nil, err
		}
		r.BuyPrice, _ = decimal.NewFromString(buyS)
		r.SellPrice, _ = decimal.NewFromString(sellS)
		r.Quantity, _ = decimal.NewFromString(qtyS)
		r.PnL, _ = decimal.NewFromString(pnlS)
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Escrow holds ---

const holdColumns = `id, user_id, kind, held_amount::TEXT, status, outcome, profit_rate::TEXT,
	payout::TEXT, symbol, direction, timer_id, metadata, created_at, expires_at, resolved_at, resolved_by`

func (s *PostgresStore) InsertHold(ctx context.Context, h *model.EscrowHold) error {
	meta, err := json.Marshal(h.Metadata)
	if err != nil {
		return fmt.Errorf("marshal hold metadata: %w", err)
	}
	if h.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO escrow_holds
		 (id, user_id, kind, held_amount, status, outcome, profit_rate, payout, symbol, direction, timer_id, metadata, created_at, expires_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14)`,
		h.ID, h.UserID, string(h.Kind), h.HeldAmount.String(), string(h.Status), string(h.Outcome),
		h.ProfitRate.String(), h.Payout.String(), h.Symbol, h.Direction, h.TimerID,
		meta, h.CreatedAt, h.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert hold %s: %w", h.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetHold(ctx context.Context, id string) (*model.EscrowHold, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE id = $1`, id)
	h, err := scanHold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("hold %s not found", id)
		}
		return nil, fmt.Errorf("get hold %s: %w", id, err)
	}
	return h, nil
}

func (s *PostgresStore) ListHolds(ctx context.Context, userID string, kind model.HoldKind) ([]model.EscrowHold, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdColumns+` FROM escrow_holds
		 WHERE user_id = $1 AND ($2::TEXT = '' OR kind = $2)
		 ORDER BY created_at DESC`, userID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHolds(rows)
}

func (s *PostgresStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.EscrowHold, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdColumns+` FROM escrow_holds
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		 ORDER BY expires_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHolds(rows)
}

// ResolveHold is a compare-and-set on status; only one caller can move a
// given hold out of pending.
func (s *PostgresStore) ResolveHold(ctx context.Context, id string, res Resolution) (*model.EscrowHold, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE escrow_holds
		 SET status = $2, outcome = $3, payout = $4::NUMERIC, resolved_at = $5, resolved_by = $6
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+holdColumns,
		id, string(res.Status), string(res.Outcome), res.Payout.String(), res.ResolvedAt, res.ResolvedBy)
	h, err := scanHold(row)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve hold %s: %w", id, err)
	}
	current, getErr := s.GetHold(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, apperr.AlreadyProcessed("hold %s is %s", id, current.Status)
}

func (s *PostgresStore) ReopenHold(ctx context.Context, id string, from model.HoldStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrow_holds
		 SET status = 'pending', outcome = '', payout = 0, resolved_at = NULL, resolved_by = ''
		 WHERE id = $1 AND status = $2`, id, string(from))
	if err != nil {
		return fmt.Errorf("reopen hold %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.AlreadyProcessed("hold %s is not %s", id, from)
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) ListTimerOptions(ctx context.Context) ([]model.TimerOption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, duration_seconds, enabled FROM timer_options ORDER BY duration_seconds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.TimerOption
	for rows.Next() {
		var t model.TimerOption
		var seconds int64
		if err := rows.Scan(&t.ID, &t.Label, &seconds, &t.Enabled); err != nil {
			return nil, err
		}
		t.Duration = time.Duration(seconds) * time.Second
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetProfitRate(ctx context.Context) (decimal.Decimal, bool, error) {
	var rate string
	err := s.pool.QueryRow(ctx, `SELECT profit_rate::TEXT FROM trade_settings LIMIT 1`).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("get profit rate: %w", err)
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse profit rate: %w", err)
	}
	return d, true, nil
}

func (s *PostgresStore) ListWithdrawalMethods(ctx context.Context) ([]model.WithdrawalMethod, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, min_amount::TEXT, fee::TEXT, active FROM withdrawal_methods ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.WithdrawalMethod
	for rows.Next() {
		var m model.WithdrawalMethod
		var minS, feeS string
		if err := rows.Scan(&m.ID, &m.Name, &minS, &feeS, &m.Active); err != nil {
			return nil, err
		}
		m.MinAmount, _ = decimal.NewFromString(minS)
		m.Fee, _ = decimal.NewFromString(feeS)
		result = append(result, m)
	}
	return result, rows.Err()
}

// --- Scanners ---

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	var kind, status, amountS, feeS string
	if err := row.Scan(&t.ID, &t.UserID, &kind, &amountS, &feeS, &status, &t.Channel, &t.MethodID,
		&t.Destination, &t.Reference, &t.Note, &t.Reason, &t.CreatedAt, &t.ProcessedAt); err != nil {
		return nil, err
	}
	t.Kind = model.TxnKind(kind)
	t.Status = model.TxnStatus(status)
	t.Amount, _ = decimal.NewFromString(amountS)
	t.Fee, _ = decimal.NewFromString(feeS)
	return &t, nil
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var qtyS, avgS, investedS string
	if err := row.Scan(&p.UserID, &p.Symbol, &qtyS, &avgS, &investedS, &p.Version, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Quantity, _ = decimal.NewFromString(qtyS)
	p.AvgPrice, _ = decimal.NewFromString(avgS)
	p.Invested, _ = decimal.NewFromString(investedS)
	return &p, nil
}

func scanHold(row rowScanner) (*model.EscrowHold, error) {
	var h model.EscrowHold
	var kind, status, outcome, heldS, rateS, payoutS string
	var meta []byte
	if err := row.Scan(&h.ID, &h.UserID, &kind, &heldS, &status, &outcome, &rateS, &payoutS,
		&h.Symbol, &h.Direction, &h.TimerID, &meta, &h.CreatedAt, &h.ExpiresAt, &h.ResolvedAt, &h.ResolvedBy); err != nil {
		return nil, err
	}
	h.Kind = model.HoldKind(kind)
	h.Status = model.HoldStatus(status)
	h.Outcome = model.Outcome(outcome)
	h.HeldAmount, _ = decimal.NewFromString(heldS)
	h.ProfitRate, _ = decimal.NewFromString(rateS)
	h.Payout, _ = decimal.NewFromString(payoutS)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return nil, fmt.Errorf("decode hold metadata: %w", err)
		}
	}
	return &h, nil
}

func collectHolds(rows pgx.Rows) ([]model.EscrowHold, error) {
	var result []model.EscrowHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *h)
	}
	return result, rows.Err()
}
