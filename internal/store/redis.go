package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for position lists and realized P&L. Writes go to the primary store
// and invalidate the cache; reads check Redis first then fall back to the
// primary. Balances, transactions and holds are never cached.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SavePosition(ctx context.Context, p *model.Position) error {
	if err := s.Store.SavePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.UserID))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, userID, symbol string, version int64) error {
	if err := s.Store.DeletePosition(ctx, userID, symbol, version); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(userID))
	return nil
}

func (s *CachedStore) AppendRealizedPnl(ctx context.Context, r *model.RealizedPnlRecord) error {
	if err := s.Store.AppendRealizedPnl(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, pnlKey(r.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.Store.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) ListRealizedPnl(ctx context.Context, userID string) ([]model.RealizedPnlRecord, error) {
	data, err := s.rdb.Get(ctx, pnlKey(userID)).Bytes()
	if err == nil {
		var records []model.RealizedPnlRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.Store.ListRealizedPnl(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, pnlKey(userID), data, s.ttl)
	}
	return records, nil
}

// --- Cache helpers ---

func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
func pnlKey(uid string) string       { return fmt.Sprintf("realized_pnl:%s", uid) }
