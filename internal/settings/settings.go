// Package settings serves the trading configuration consulted when holds and
// withdrawals are created: timer options, the global timed-trade profit rate
// and withdrawal methods.
//
// Readers always see one immutable Snapshot. Reload builds a new snapshot
// from the Source and swaps it in with an incremented Version; a failed or
// invalid reload keeps the previous snapshot.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/model"
)

// Snapshot is one immutable version of the trading configuration.
type Snapshot struct {
	Version       int64                    `json:"version"`
	LoadedAt      time.Time                `json:"loaded_at"`
	Timers        []model.TimerOption      `json:"timers"`
	ProfitRate    decimal.Decimal          `json:"profit_rate"`
	ProfitRateSet bool                     `json:"profit_rate_set"`
	Methods       []model.WithdrawalMethod `json:"withdrawal_methods"`
}

// Source loads the raw configuration. Version and LoadedAt are assigned by
// the Service.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Service holds the current snapshot.
type Service struct {
	source  Source
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes reloads
}

// New creates a Service and performs the initial load.
func New(ctx context.Context, source Source, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{source: source, logger: logger}
	if _, err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active snapshot.
func (s *Service) Current() *Snapshot {
	return s.current.Load()
}

// Reload fetches a fresh snapshot from the source and activates it.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := validate(next); err != nil {
		return nil, err
	}

	var version int64 = 1
	if prev := s.current.Load(); prev != nil {
		version = prev.Version + 1
	}
	next.Version = version
	next.LoadedAt = time.Now().UTC()
	s.current.Store(next)

	s.logger.Info("settings loaded",
		"version", next.Version,
		"timers", len(next.Timers),
		"methods", len(next.Methods),
		"profit_rate_set", next.ProfitRateSet,
	)
	return next, nil
}

// Timer returns the enabled timer option with the given ID.
func (s *Service) Timer(id string) (model.TimerOption, error) {
	for _, t := range s.Current().Timers {
		if t.ID != id {
			continue
		}
		if !t.Enabled {
			return model.TimerOption{}, apperr.InvalidConfiguration("timer %q is disabled", id)
		}
		return t, nil
	}
	return model.TimerOption{}, apperr.InvalidConfiguration("timer %q is not configured", id)
}

// ProfitRate returns the global timed-trade profit rate in percent.
func (s *Service) ProfitRate() (decimal.Decimal, error) {
	snap := s.Current()
	if !snap.ProfitRateSet {
		return decimal.Zero, apperr.InvalidConfiguration("profit rate is not configured")
	}
	return snap.ProfitRate, nil
}

// Method returns the active withdrawal method with the given ID.
func (s *Service) Method(id string) (model.WithdrawalMethod, error) {
	for _, m := range s.Current().Methods {
		if m.ID != id {
			continue
		}
		if !m.Active {
			return model.WithdrawalMethod{}, apperr.InvalidConfiguration("withdrawal method %q is inactive", id)
		}
		return m, nil
	}
	return model.WithdrawalMethod{}, apperr.InvalidConfiguration("withdrawal method %q is not configured", id)
}

func validate(s *Snapshot) error {
	seen := make(map[string]bool, len(s.Timers))
	for _, t := range s.Timers {
		if t.ID == "" || seen[t.ID] {
			return apperr.InvalidConfiguration("timer id %q is empty or duplicated", t.ID)
		}
		seen[t.ID] = true
		if t.Duration <= 0 {
			return apperr.InvalidConfiguration("timer %q has non-positive duration %s", t.ID, t.Duration)
		}
	}
	if s.ProfitRateSet && s.ProfitRate.IsNegative() {
		return apperr.InvalidConfiguration("profit rate %s is negative", s.ProfitRate)
	}

	seen = make(map[string]bool, len(s.Methods))
	for _, m := range s.Methods {
		if m.ID == "" || seen[m.ID] {
			return apperr.InvalidConfiguration("withdrawal method id %q is empty or duplicated", m.ID)
		}
		seen[m.ID] = true
		if m.MinAmount.IsNegative() || m.Fee.IsNegative() {
			return apperr.InvalidConfiguration("withdrawal method %q has negative limits", m.ID)
		}
	}
	return nil
}
