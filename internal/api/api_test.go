package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/account"
	"github.com/atmx/ledger-engine/internal/api"
	"github.com/atmx/ledger-engine/internal/escrow"
	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/notify"
	"github.com/atmx/ledger-engine/internal/pnl"
	"github.com/atmx/ledger-engine/internal/position"
	"github.com/atmx/ledger-engine/internal/price"
	"github.com/atmx/ledger-engine/internal/settings"
	"github.com/atmx/ledger-engine/internal/store"
	"github.com/atmx/ledger-engine/internal/wallet"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestEnv wires every service over one in-memory store behind the router.
func newTestEnv(t *testing.T) (*store.MemoryStore, http.Handler) {
	t.Helper()
	ms := store.NewMemoryStore()

	cfg, err := settings.New(context.Background(), settings.StaticSource{
		Timers: []model.TimerOption{
			{ID: "1m", Label: "1 minute", Duration: time.Minute, Enabled: true},
		},
		ProfitRate:    d("80"),
		ProfitRateSet: true,
		Methods: []model.WithdrawalMethod{
			{ID: "upi", Name: "UPI", MinAmount: d("100"), Fee: d("0"), Active: true},
		},
	}, nil)
	require.NoError(t, err)

	accounts := account.NewService(ms, ms, nil, nil)
	h := api.NewHandler(api.Deps{
		Accounts: accounts,
		Wallet:   wallet.NewLedger(ms, accounts, cfg, nil, nil),
		Book:     position.NewBook(ms, pnl.NewLog(ms), price.NewStaticSource(map[string]decimal.Decimal{"NSE:INFY": d("150")}, decimal.Zero), accounts, nil, nil),
		Escrow:   escrow.NewEngine(ms, ms, accounts, cfg, nil, nil),
		Settings: cfg,
	})
	return ms, api.NewRouter(h)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func openAccount(t *testing.T, router http.Handler, userID, balance string) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/accounts", api.OpenAccountRequest{UserID: userID, InitialBalance: d(balance)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func balanceOf(t *testing.T, router http.Handler, userID string) decimal.Decimal {
	t.Helper()
	w := do(t, router, "GET", "/api/v1/accounts/"+userID+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[api.BalanceResponse](t, w).Balance
}

func TestHealth(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

// --- Accounts ---

func TestOpenAccount_Duplicate(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "100")

	w := do(t, router, "POST", "/api/v1/accounts", api.OpenAccountRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAccount_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/accounts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody[map[string]string](t, w)["kind"])
}

func TestAdjustBalance(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "100")

	w := do(t, router, "POST", "/api/v1/accounts/u1/adjust", api.AdjustRequest{Amount: d("40"), Direction: account.DirectionAdd, Reason: "promo"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	txn := decodeBody[model.WalletTransaction](t, w)
	assert.Equal(t, model.TxnCreditAdjustment, txn.Kind)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("140")))

	w = do(t, router, "POST", "/api/v1/accounts/u1/adjust", api.AdjustRequest{Amount: d("500"), Direction: account.DirectionDeduct, Reason: "fee"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("140")))
}

func TestInvalidBody(t *testing.T) {
	_, router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/accounts", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Wallet ---

func TestWallet_DepositApproveFlow(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "1000")

	w := do(t, router, "POST", "/api/v1/wallet/deposits", api.DepositRequest{UserID: "u1", Amount: d("500"), Channel: "bank"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	txn := decodeBody[model.WalletTransaction](t, w)
	assert.Equal(t, model.TxnPending, txn.Status)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1000")), "pending deposit must not move the balance")

	w = do(t, router, "POST", "/api/v1/wallet/transactions/"+txn.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1500")))

	w = do(t, router, "POST", "/api/v1/wallet/transactions/"+txn.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1500")))

	w = do(t, router, "GET", "/api/v1/wallet/users/u1/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.WalletTransaction](t, w), 1)
}

func TestWallet_WithdrawalRejectWithoutBody(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "1000")

	w := do(t, router, "POST", "/api/v1/wallet/withdrawals", api.WithdrawalRequest{UserID: "u1", Amount: d("300"), MethodID: "upi", Destination: "u1@upi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	txn := decodeBody[model.WalletTransaction](t, w)

	req := httptest.NewRequest("POST", "/api/v1/wallet/transactions/"+txn.ID+"/reject", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.TxnRejected, decodeBody[model.WalletTransaction](t, rec).Status)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1000")))
}

func TestWallet_WithdrawalBelowMinimum(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "1000")

	w := do(t, router, "POST", "/api/v1/wallet/withdrawals", api.WithdrawalRequest{UserID: "u1", Amount: d("50"), MethodID: "upi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/wallet/withdrawals", api.WithdrawalRequest{UserID: "u1", Amount: d("300"), MethodID: "wire"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "unknown method is a configuration error")
}

// --- Trading ---

func TestTrade_BuySellRealizesPnl(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "10000")

	w := do(t, router, "POST", "/api/v1/trade/buy", api.TradeRequest{UserID: "u1", Symbol: "nse:infy", Quantity: d("10"), Price: d("100")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	buy := decodeBody[position.TradeResult](t, w)
	assert.Equal(t, "NSE:INFY", buy.Symbol)
	assert.True(t, buy.Balance.Equal(d("9000")))

	// Zero price sells at the market price (150).
	w = do(t, router, "POST", "/api/v1/trade/sell", api.TradeRequest{UserID: "u1", Symbol: "NSE:INFY", Quantity: d("4")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sell := decodeBody[position.TradeResult](t, w)
	assert.True(t, sell.Price.Equal(d("150")))
	assert.True(t, sell.Balance.Equal(d("9600")))

	w = do(t, router, "GET", "/api/v1/pnl/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decodeBody[[]model.RealizedPnlRecord](t, w)
	require.Len(t, records, 1)
	assert.True(t, records[0].PnL.Equal(d("200")))

	w = do(t, router, "GET", "/api/v1/positions/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decodeBody[[]model.PositionView](t, w)
	require.Len(t, views, 1)
	assert.True(t, views[0].Quantity.Equal(d("6")))

	w = do(t, router, "GET", "/api/v1/portfolio/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody[model.PortfolioSummary](t, w)
	assert.True(t, summary.TotalRealizedPnL.Equal(d("200")))
	assert.True(t, summary.Cash.Equal(d("9600")))
}

func TestTrade_Errors(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "100")

	w := do(t, router, "POST", "/api/v1/trade/buy", api.TradeRequest{UserID: "u1", Symbol: "NSE:INFY", Quantity: d("10"), Price: d("100")})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "insufficient funds")

	w = do(t, router, "POST", "/api/v1/trade/sell", api.TradeRequest{UserID: "u1", Symbol: "NSE:INFY", Quantity: d("1"), Price: d("100")})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "insufficient quantity")

	w = do(t, router, "POST", "/api/v1/trade/buy", api.TradeRequest{UserID: "u1", Symbol: "bad symbol!", Quantity: d("1"), Price: d("1")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Timed trades ---

func TestTimedTrade_CreateAndSettle(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "1000")

	w := do(t, router, "POST", "/api/v1/timed-trades", escrow.TimedTradeRequest{UserID: "u1", Amount: d("100"), TimerID: "1m", Symbol: "NSE:INFY", Direction: "up"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	hold := decodeBody[model.EscrowHold](t, w)
	assert.True(t, hold.ProfitRate.Equal(d("80")))
	assert.True(t, balanceOf(t, router, "u1").Equal(d("900")))

	w = do(t, router, "GET", "/api/v1/timed-trades/users/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeBody[[]model.EscrowHold](t, w)
	require.Len(t, listed, 1)
	assert.Equal(t, model.HoldPending, listed[0].Status, "unexpired trades stay pending")

	w = do(t, router, "POST", "/api/v1/timed-trades/"+hold.ID+"/settle", api.SettleRequest{Outcome: model.OutcomeWin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	settled := decodeBody[model.EscrowHold](t, w)
	assert.Equal(t, model.HoldResolvedBonus, settled.Status)
	assert.True(t, settled.Payout.Equal(d("180")))
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1080")))

	w = do(t, router, "POST", "/api/v1/timed-trades/"+hold.ID+"/settle", api.SettleRequest{Outcome: model.OutcomeLose})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1080")))

	w = do(t, router, "GET", "/api/v1/timed-trades/"+hold.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.OutcomeWin, decodeBody[model.EscrowHold](t, w).Outcome)
}

func TestTimedTrade_UnknownTimer(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "1000")

	w := do(t, router, "POST", "/api/v1/timed-trades", escrow.TimedTradeRequest{UserID: "u1", Amount: d("100"), TimerID: "1h"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_configuration", decodeBody[map[string]string](t, w)["kind"])
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1000")))
}

// --- IPO ---

func TestIPO_ApplyAndReject(t *testing.T) {
	_, router := newTestEnv(t)
	openAccount(t, router, "u1", "1000")

	w := do(t, router, "POST", "/api/v1/ipo/applications", api.IPORequest{UserID: "u1", Symbol: "NSE:NEWCO", Amount: d("400")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	hold := decodeBody[model.EscrowHold](t, w)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("600")))

	w = do(t, router, "POST", "/api/v1/ipo/applications/"+hold.ID+"/reject", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.OutcomeRejected, decodeBody[model.EscrowHold](t, w).Outcome)
	assert.True(t, balanceOf(t, router, "u1").Equal(d("1000")))

	w = do(t, router, "POST", "/api/v1/ipo/applications/"+hold.ID+"/allot", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "GET", "/api/v1/ipo/applications/users/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.EscrowHold](t, w), 1)
}

// --- Settings ---

func TestSettings_GetAndReload(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody[settings.Snapshot](t, w).Version)

	w = do(t, router, "POST", "/api/v1/settings/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody[settings.Snapshot](t, w).Version)
}

// --- Live notifications ---

func TestWebSocket_UpgradesThroughRouter(t *testing.T) {
	hub := notify.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(api.Deps{Hub: hub})))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?user_id=u1"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WebSocketClients) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(ctx, model.Notification{UserID: "u1", Title: "Deposit approved"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var n model.Notification
	require.NoError(t, json.Unmarshal(data, &n))
	assert.Equal(t, "Deposit approved", n.Title)
}
