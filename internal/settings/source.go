package settings

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/store"
)

// fileConfig is the YAML layout read by FileSource:
//
//	profit_rate: "80"
//	timers:
//	  - {id: 1m, label: 1 minute, duration: 1m, enabled: true}
//	withdrawal_methods:
//	  - {id: upi, name: UPI, min_amount: "50", fee: "5", active: true}
type fileConfig struct {
	ProfitRate *decimal.Decimal         `yaml:"profit_rate"`
	Timers     []model.TimerOption      `yaml:"timers"`
	Methods    []model.WithdrawalMethod `yaml:"withdrawal_methods"`
}

// FileSource reads settings from a YAML file on every load.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a settings document.
func ParseYAML(data []byte) (*Snapshot, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse settings yaml: %w", err)
	}
	snap := &Snapshot{Timers: fc.Timers, Methods: fc.Methods}
	if fc.ProfitRate != nil {
		snap.ProfitRate = *fc.ProfitRate
		snap.ProfitRateSet = true
	}
	return snap, nil
}

// StoreSource reads settings from the persistent settings tables.
type StoreSource struct {
	Repo store.SettingsRepo
}

func (s StoreSource) Load(ctx context.Context) (*Snapshot, error) {
	timers, err := s.Repo.ListTimerOptions(ctx)
	if err != nil {
		return nil, err
	}
	rate, ok, err := s.Repo.GetProfitRate(ctx)
	if err != nil {
		return nil, err
	}
	methods, err := s.Repo.ListWithdrawalMethods(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Timers:        timers,
		ProfitRate:    rate,
		ProfitRateSet: ok,
		Methods:       methods,
	}, nil
}

// StaticSource serves a fixed snapshot.
type StaticSource Snapshot

func (s StaticSource) Load(_ context.Context) (*Snapshot, error) {
	snap := Snapshot(s)
	snap.Timers = append([]model.TimerOption(nil), s.Timers...)
	snap.Methods = append([]model.WithdrawalMethod(nil), s.Methods...)
	return &snap, nil
}
