package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	transactions map[string]*model.WalletTransaction
	positions    map[positionKey]*model.Position
	pnl          []model.RealizedPnlRecord
	holds        map[string]*model.EscrowHold

	timers     []model.TimerOption
	profitRate *decimal.Decimal
	methods    []model.WithdrawalMethod
}

type positionKey struct {
	userID string
	symbol string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*model.Account),
		transactions: make(map[string]*model.WalletTransaction),
		positions:    make(map[positionKey]*model.Position),
		holds:        make(map[string]*model.EscrowHold),
	}
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return apperr.Validation("account %s already exists", a.ID)
	}
	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, apperr.NotFound("account %s not found", id)
	}
	copy := *a
	return &copy, nil
}

// Debit checks and subtracts under one lock, the in-memory equivalent of a
// conditional UPDATE.
func (s *MemoryStore) Debit(_ context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return decimal.Zero, apperr.NotFound("account %s not found", id)
	}
	if a.Balance.LessThan(amount) {
		return a.Balance, apperr.InsufficientFunds("balance %s is below %s", a.Balance, amount)
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = time.Now().UTC()
	return a.Balance, nil
}

func (s *MemoryStore) Credit(_ context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return decimal.Zero, apperr.NotFound("account %s not found", id)
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = time.Now().UTC()
	return a.Balance, nil
}

// --- Wallet transactions ---

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.WalletTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *t
	s.transactions[t.ID] = &copy
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*model.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, apperr.NotFound("transaction %s not found", id)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WalletTransaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) TransitionTransaction(_ context.Context, id string, from, to model.TxnStatus, reason string, at *time.Time) (*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, apperr.NotFound("transaction %s not found", id)
	}
	if t.Status != from {
		return nil, apperr.AlreadyProcessed("transaction %s is %s", id, t.Status)
	}
	t.Status = to
	t.Reason = reason
	t.ProcessedAt = at
	copy := *t
	return &copy, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey{userID, symbol}]
	if !ok {
		return nil, apperr.NotFound("no %s position for %s", symbol, userID)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for k, p := range s.positions {
		if k.userID == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{p.UserID, p.Symbol}
	existing, ok := s.positions[key]
	switch {
	case p.Version == 0 && ok:
		return ErrVersionConflict
	case p.Version != 0 && (!ok || existing.Version != p.Version):
		return ErrVersionConflict
	}

	p.Version++
	copy := *p
	s.positions[key] = &copy
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, userID, symbol string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{userID, symbol}
	existing, ok := s.positions[key]
	if !ok || existing.Version != version {
		return ErrVersionConflict
	}
	delete(s.positions, key)
	return nil
}

// --- Realized P&L ---

func (s *MemoryStore) AppendRealizedPnl(_ context.Context, r *model.RealizedPnlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pnl = append(s.pnl, *r)
	return nil
}

func (s *MemoryStore) ListRealizedPnl(_ context.Context, userID string) ([]model.RealizedPnlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RealizedPnlRecord
	for _, r := range s.pnl {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	return result, nil
}

// --- Escrow holds ---

func (s *MemoryStore) InsertHold(_ context.Context, h *model.EscrowHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.holds[h.ID] = cloneHold(h)
	return nil
}

func (s *MemoryStore) GetHold(_ context.Context, id string) (*model.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holds[id]
	if !ok {
		return nil, apperr.NotFound("hold %s not found", id)
	}
	return cloneHold(h), nil
}

func (s *MemoryStore) ListHolds(_ context.Context, userID string, kind model.HoldKind) ([]model.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.EscrowHold
	for _, h := range s.holds {
		if h.UserID != userID || (kind != "" && h.Kind != kind) {
			continue
		}
		result = append(result, *cloneHold(h))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.EscrowHold
	for _, h := range s.holds {
		if h.Expired(now) {
			result = append(result, *cloneHold(h))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ResolveHold(_ context.Context, id string, res Resolution) (*model.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[id]
	if !ok {
		return nil, apperr.NotFound("hold %s not found", id)
	}
	if h.Status != model.HoldPending {
		return nil, apperr.AlreadyProcessed("hold %s is %s", id, h.Status)
	}
	at := res.ResolvedAt
	h.Status = res.Status
	h.Outcome = res.Outcome
	h.Payout = res.Payout
	h.ResolvedAt = &at
	h.ResolvedBy = res.ResolvedBy
	return cloneHold(h), nil
}

func (s *MemoryStore) ReopenHold(_ context.Context, id string, from model.HoldStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[id]
	if !ok {
		return apperr.NotFound("hold %s not found", id)
	}
	if h.Status != from {
		return apperr.AlreadyProcessed("hold %s is %s", id, h.Status)
	}
	h.Status = model.HoldPending
	h.Outcome = ""
	h.Payout = decimal.Zero
	h.ResolvedAt = nil
	h.ResolvedBy = ""
	return nil
}

// --- Settings ---

func (s *MemoryStore) ListTimerOptions(_ context.Context) ([]model.TimerOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TimerOption(nil), s.timers...), nil
}

func (s *MemoryStore) GetProfitRate(_ context.Context) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profitRate == nil {
		return decimal.Zero, false, nil
	}
	return *s.profitRate, true, nil
}

func (s *MemoryStore) ListWithdrawalMethods(_ context.Context) ([]model.WithdrawalMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.WithdrawalMethod(nil), s.methods...), nil
}

// PutTimerOption adds or replaces a timer option.
func (s *MemoryStore) PutTimerOption(t model.TimerOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.timers {
		if s.timers[i].ID == t.ID {
			s.timers[i] = t
			return
		}
	}
	s.timers = append(s.timers, t)
}

// SetProfitRate sets the global profit rate.
func (s *MemoryStore) SetProfitRate(rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profitRate = &rate
}

// PutWithdrawalMethod adds or replaces a withdrawal method.
func (s *MemoryStore) PutWithdrawalMethod(m model.WithdrawalMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.methods {
		if s.methods[i].ID == m.ID {
			s.methods[i] = m
			return
		}
	}
	s.methods = append(s.methods, m)
}

func cloneHold(h *model.EscrowHold) *model.EscrowHold {
	copy := *h
	if h.Metadata != nil {
		copy.Metadata = make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			copy.Metadata[k] = v
		}
	}
	if h.ExpiresAt != nil {
		t := *h.ExpiresAt
		copy.ExpiresAt = &t
	}
	if h.ResolvedAt != nil {
		t := *h.ResolvedAt
		copy.ResolvedAt = &t
	}
	return &copy
}
