package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/account"
	"github.com/atmx/ledger-engine/internal/escrow"
	"github.com/atmx/ledger-engine/internal/model"
)

// --- Request types ---

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	UserID         string          `json:"user_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// AdjustRequest is the JSON body for POST /accounts/{userID}/adjust.
type AdjustRequest struct {
	Amount    decimal.Decimal   `json:"amount"`
	Direction account.Direction `json:"direction"` // "add" or "deduct"
	Reason    string            `json:"reason"`
}

// DepositRequest is the JSON body for POST /wallet/deposits.
type DepositRequest struct {
	UserID  string          `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
	Channel string          `json:"channel"`
}

// WithdrawalRequest is the JSON body for POST /wallet/withdrawals.
type WithdrawalRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	MethodID    string          `json:"method_id"`
	Destination string          `json:"destination"` // account/UPI handle the payout goes to
}

// RejectRequest is the optional JSON body for rejections.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// TradeRequest is the JSON body for POST /trade/buy and /trade/sell.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"` // zero → market price
}

// SettleRequest is the JSON body for POST /timed-trades/{holdID}/settle.
type SettleRequest struct {
	Outcome model.Outcome `json:"outcome"` // "win", "lose" or "draw"
}

// IPORequest is the JSON body for POST /ipo/applications.
type IPORequest struct {
	UserID   string            `json:"user_id"`
	Symbol   string            `json:"symbol"`
	Amount   decimal.Decimal   `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BalanceResponse is returned from GET /accounts/{userID}/balance.
type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// --- Accounts ---

// OpenAccount handles POST /api/v1/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.accounts.Open(r.Context(), req.UserID, req.InitialBalance)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAccount handles GET /api/v1/accounts/{userID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.accounts.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetBalance handles GET /api/v1/accounts/{userID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	bal, err := h.accounts.Balance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: bal})
}

// AdjustBalance handles POST /api/v1/accounts/{userID}/adjust
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.accounts.Adjust(r.Context(), account.AdjustRequest{
		UserID:    chi.URLParam(r, "userID"),
		Amount:    req.Amount,
		Direction: req.Direction,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// --- Wallet ---

// RequestDeposit handles POST /api/v1/wallet/deposits
func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.wallet.RequestDeposit(r.Context(), req.UserID, req.Amount, req.Channel)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// RequestWithdrawal handles POST /api/v1/wallet/withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.wallet.RequestWithdrawal(r.Context(), req.UserID, req.Amount, req.MethodID, req.Destination)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// GetTransaction handles GET /api/v1/wallet/transactions/{txnID}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.wallet.Get(r.Context(), chi.URLParam(r, "txnID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// ApproveTransaction handles POST /api/v1/wallet/transactions/{txnID}/approve
func (h *Handler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.wallet.Approve(r.Context(), chi.URLParam(r, "txnID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// RejectTransaction handles POST /api/v1/wallet/transactions/{txnID}/reject
// The body is optional.
func (h *Handler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	txn, err := h.wallet.Reject(r.Context(), chi.URLParam(r, "txnID"), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// ListTransactions handles GET /api/v1/wallet/users/{userID}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.wallet.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if txns == nil {
		txns = []model.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// --- Trading ---

// Buy handles POST /api/v1/trade/buy
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.book.Buy(r.Context(), req.UserID, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Sell handles POST /api/v1/trade/sell
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.book.Sell(r.Context(), req.UserID, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPositions handles GET /api/v1/positions/{userID}
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	views, err := h.book.Positions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := h.book.PortfolioSummary(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetRealizedPnl handles GET /api/v1/pnl/{userID}
func (h *Handler) GetRealizedPnl(w http.ResponseWriter, r *http.Request) {
	records, err := h.book.RealizedPnl(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []model.RealizedPnlRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Timed trades ---

// CreateTimedTrade handles POST /api/v1/timed-trades
func (h *Handler) CreateTimedTrade(w http.ResponseWriter, r *http.Request) {
	var req escrow.TimedTradeRequest
	if !decode(w, r, &req) {
		return
	}
	hold, err := h.escrow.CreateTimedTrade(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

// ListTimedTrades handles GET /api/v1/timed-trades/users/{userID}
// Expired trades are settled as part of the listing.
func (h *Handler) ListTimedTrades(w http.ResponseWriter, r *http.Request) {
	holds, err := h.escrow.ListTimedTrades(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if holds == nil {
		holds = []model.EscrowHold{}
	}
	writeJSON(w, http.StatusOK, holds)
}

// GetHold handles GET /api/v1/timed-trades/{holdID} and
// GET /api/v1/ipo/applications/{holdID}
func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.escrow.Get(r.Context(), chi.URLParam(r, "holdID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// SettleTimedTrade handles POST /api/v1/timed-trades/{holdID}/settle
func (h *Handler) SettleTimedTrade(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}
	hold, err := h.escrow.Settle(r.Context(), chi.URLParam(r, "holdID"), req.Outcome)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// --- IPO ---

// ApplyIPO handles POST /api/v1/ipo/applications
func (h *Handler) ApplyIPO(w http.ResponseWriter, r *http.Request) {
	var req IPORequest
	if !decode(w, r, &req) {
		return
	}
	hold, err := h.escrow.ApplyIPO(r.Context(), req.UserID, req.Symbol, req.Amount, req.Metadata)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

// ListIPOApplications handles GET /api/v1/ipo/applications/users/{userID}
func (h *Handler) ListIPOApplications(w http.ResponseWriter, r *http.Request) {
	holds, err := h.escrow.ListIPOApplications(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if holds == nil {
		holds = []model.EscrowHold{}
	}
	writeJSON(w, http.StatusOK, holds)
}

// AllotIPO handles POST /api/v1/ipo/applications/{holdID}/allot
func (h *Handler) AllotIPO(w http.ResponseWriter, r *http.Request) {
	hold, err := h.escrow.AllotIPO(r.Context(), chi.URLParam(r, "holdID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// RejectIPO handles POST /api/v1/ipo/applications/{holdID}/reject
func (h *Handler) RejectIPO(w http.ResponseWriter, r *http.Request) {
	hold, err := h.escrow.RejectIPO(r.Context(), chi.URLParam(r, "holdID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// --- Settings ---

// GetSettings handles GET /api/v1/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Current())
}

// ReloadSettings handles POST /api/v1/settings/reload
func (h *Handler) ReloadSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Reload(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.Info("settings reloaded via api", "version", snap.Version)
	writeJSON(w, http.StatusOK, snap)
}
