// Package price supplies the latest tradable price for a symbol. Sources
// never fail: an unknown symbol resolves to a configured default price.
package price

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultPrice is used when no fallback is configured.
var DefaultPrice = decimal.NewFromInt(100)

// Source returns the latest price for a symbol.
type Source interface {
	Price(ctx context.Context, symbol string) decimal.Decimal
}

// StaticSource serves prices from an in-process table.
type StaticSource struct {
	mu       sync.RWMutex
	prices   map[string]decimal.Decimal
	fallback decimal.Decimal
}

// NewStaticSource creates a table-backed source. A zero fallback selects
// DefaultPrice.
func NewStaticSource(prices map[string]decimal.Decimal, fallback decimal.Decimal) *StaticSource {
	if fallback.IsZero() {
		fallback = DefaultPrice
	}
	table := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		table[k] = v
	}
	return &StaticSource{prices: table, fallback: fallback}
}

// Set updates the price of symbol.
func (s *StaticSource) Set(symbol string, p decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = p
	s.mu.Unlock()
}

func (s *StaticSource) Price(_ context.Context, symbol string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prices[symbol]; ok {
		return p
	}
	return s.fallback
}

// RedisSource reads prices published by a market-data feed under
// price:{SYMBOL}. Misses and Redis errors resolve to the fallback price.
type RedisSource struct {
	rdb      *redis.Client
	fallback decimal.Decimal
	logger   *slog.Logger
}

// NewRedisSource creates a Redis-backed source.
func NewRedisSource(rdb *redis.Client, fallback decimal.Decimal, logger *slog.Logger) *RedisSource {
	if fallback.IsZero() {
		fallback = DefaultPrice
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{rdb: rdb, fallback: fallback, logger: logger}
}

func (s *RedisSource) Price(ctx context.Context, symbol string) decimal.Decimal {
	raw, err := s.rdb.Get(ctx, Key(symbol)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("price lookup failed, using fallback", "symbol", symbol, "err", err)
		}
		return s.fallback
	}
	p, err := decimal.NewFromString(raw)
	if err != nil || !p.IsPositive() {
		s.logger.Warn("invalid price in cache, using fallback", "symbol", symbol, "raw", raw)
		return s.fallback
	}
	return p
}

// Publish stores the latest price for symbol.
func (s *RedisSource) Publish(ctx context.Context, symbol string, p decimal.Decimal) error {
	return s.rdb.Set(ctx, Key(symbol), p.String(), 0).Err()
}

// Key returns the Redis key holding the price of symbol.
func Key(symbol string) string {
	return "price:" + symbol
}
