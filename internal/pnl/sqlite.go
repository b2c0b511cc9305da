package pnl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// JournalSchema is the SQLite layout of the realized P&L journal. Amounts
// are stored as decimal strings to avoid float rounding.
const JournalSchema = `
CREATE TABLE IF NOT EXISTS realized_pnl (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	buy_price   TEXT NOT NULL,
	sell_price  TEXT NOT NULL,
	quantity    TEXT NOT NULL,
	pnl         TEXT NOT NULL,
	executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_realized_pnl_user ON realized_pnl(user_id, id);
`

// SQLiteJournal is a file-backed realized P&L store for single-node
// deployments. It satisfies store.PnlRepo.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal at path.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(JournalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) AppendRealizedPnl(ctx context.Context, r *model.RealizedPnlRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO realized_pnl
		(id, user_id, symbol, buy_price, sell_price, quantity, pnl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Symbol, r.BuyPrice.String(), r.SellPrice.String(),
		r.Quantity.String(), r.PnL.String(), r.ExecutedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (j *SQLiteJournal) ListRealizedPnl(ctx context.Context, userID string) ([]model.RealizedPnlRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, buy_price, sell_price, quantity, pnl, executed_at
		FROM realized_pnl WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RealizedPnlRecord
	for rows.Next() {
		var (
			r                             model.RealizedPnlRecord
			buy, sell, qty, pnl, executed string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Symbol, &buy, &sell, &qty, &pnl, &executed); err != nil {
			return nil, err
		}
		if r.BuyPrice, err = decimal.NewFromString(buy); err != nil {
			return nil, fmt.Errorf("parse buy_price: %w", err)
		}
		if r.SellPrice, err = decimal.NewFromString(sell); err != nil {
			return nil, fmt.Errorf("parse sell_price: %w", err)
		}
		if r.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if r.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse pnl: %w", err)
		}
		if r.ExecutedAt, err = time.Parse(time.RFC3339Nano, executed); err != nil {
			return nil, fmt.Errorf("parse executed_at: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
