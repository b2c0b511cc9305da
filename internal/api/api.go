// Package api is the HTTP boundary of the ledger engine. Handlers decode a
// request, call exactly one service operation and encode its result; all
// business rules live in the services.
//
// All monetary values use shopspring/decimal and are encoded as JSON strings.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/ledger-engine/internal/account"
	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/escrow"
	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/notify"
	"github.com/atmx/ledger-engine/internal/position"
	"github.com/atmx/ledger-engine/internal/settings"
	"github.com/atmx/ledger-engine/internal/wallet"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	accounts *account.Service
	wallet   *wallet.Ledger
	book     *position.Book
	escrow   *escrow.Engine
	settings *settings.Service
	hub      *notify.Hub // optional live notification stream
	logger   *slog.Logger
}

// Deps are the services behind the handlers.
type Deps struct {
	Accounts *account.Service
	Wallet   *wallet.Ledger
	Book     *position.Book
	Escrow   *escrow.Engine
	Settings *settings.Service
	Hub      *notify.Hub
	Logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		accounts: deps.Accounts,
		wallet:   deps.Wallet,
		book:     deps.Book,
		escrow:   deps.Escrow,
		settings: deps.Settings,
		hub:      deps.Hub,
		logger:   logger,
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	// Accounts.
	r.Post("/accounts", h.OpenAccount)
	r.Get("/accounts/{userID}", h.GetAccount)
	r.Get("/accounts/{userID}/balance", h.GetBalance)
	r.Post("/accounts/{userID}/adjust", h.AdjustBalance)

	// Wallet.
	r.Post("/wallet/deposits", h.RequestDeposit)
	r.Post("/wallet/withdrawals", h.RequestWithdrawal)
	r.Get("/wallet/transactions/{txnID}", h.GetTransaction)
	r.Post("/wallet/transactions/{txnID}/approve", h.ApproveTransaction)
	r.Post("/wallet/transactions/{txnID}/reject", h.RejectTransaction)
	r.Get("/wallet/users/{userID}/transactions", h.ListTransactions)

	// Trading.
	r.Post("/trade/buy", h.Buy)
	r.Post("/trade/sell", h.Sell)
	r.Get("/positions/{userID}", h.GetPositions)
	r.Get("/portfolio/{userID}", h.GetPortfolio)
	r.Get("/pnl/{userID}", h.GetRealizedPnl)

	// Timed trades.
	r.Post("/timed-trades", h.CreateTimedTrade)
	r.Get("/timed-trades/users/{userID}", h.ListTimedTrades)
	r.Get("/timed-trades/{holdID}", h.GetHold)
	r.Post("/timed-trades/{holdID}/settle", h.SettleTimedTrade)

	// IPO applications.
	r.Post("/ipo/applications", h.ApplyIPO)
	r.Get("/ipo/applications/users/{userID}", h.ListIPOApplications)
	r.Get("/ipo/applications/{holdID}", h.GetHold)
	r.Post("/ipo/applications/{holdID}/allot", h.AllotIPO)
	r.Post("/ipo/applications/{holdID}/reject", h.RejectIPO)

	// Trading settings.
	r.Get("/settings", h.GetSettings)
	r.Post("/settings/reload", h.ReloadSettings)
}

// NewRouter builds the full HTTP router: middleware, health, metrics and the
// versioned API.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledgerd"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", h.Routes)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps an error kind to its HTTP status. Unclassified
// errors are logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	var status int
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAlreadyProcessed:
		status = http.StatusConflict
	case apperr.KindInsufficientFunds, apperr.KindInsufficientQuantity, apperr.KindInvalidConfiguration:
		status = http.StatusUnprocessableEntity
	case apperr.KindValidation:
		status = http.StatusBadRequest
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
			"kind":  string(apperr.KindInternal),
		})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
