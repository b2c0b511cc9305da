package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/apperr"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/store"
)

const sampleYAML = `
profit_rate: "80"
timers:
  - id: 1m
    label: 1 minute
    duration: 1m
    enabled: true
  - id: 5m
    label: 5 minutes
    duration: 5m
    enabled: false
withdrawal_methods:
  - id: upi
    name: UPI
    min_amount: "50"
    fee: "5"
    active: true
  - id: wire
    name: Wire
    min_amount: "1000"
    fee: "25"
    active: false
`

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileSource_Lookups(t *testing.T) {
	svc, err := New(context.Background(), FileSource{Path: writeSettings(t, sampleYAML)}, nil)
	require.NoError(t, err)

	snap := svc.Current()
	assert.Equal(t, int64(1), snap.Version)

	timer, err := svc.Timer("1m")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, timer.Duration)

	_, err = svc.Timer("5m")
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfiguration), "disabled timer")
	_, err = svc.Timer("1h")
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfiguration), "missing timer")

	rate, err := svc.ProfitRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(80)))

	m, err := svc.Method("upi")
	require.NoError(t, err)
	assert.True(t, m.MinAmount.Equal(decimal.NewFromInt(50)))
	assert.True(t, m.Fee.Equal(decimal.NewFromInt(5)))

	_, err = svc.Method("wire")
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfiguration), "inactive method")
}

func TestReload_BumpsVersion(t *testing.T) {
	path := writeSettings(t, sampleYAML)
	svc, err := New(context.Background(), FileSource{Path: path}, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`profit_rate: "90"`), 0o600))
	snap, err := svc.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.Same(t, snap, svc.Current())

	rate, err := svc.ProfitRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(90)))
}

func TestReload_InvalidKeepsPrevious(t *testing.T) {
	path := writeSettings(t, sampleYAML)
	svc, err := New(context.Background(), FileSource{Path: path}, nil)
	require.NoError(t, err)

	bad := "timers:\n  - id: x\n    duration: 0s\n    enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))
	_, err = svc.Reload(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfiguration))

	assert.Equal(t, int64(1), svc.Current().Version)
	_, err = svc.Timer("1m")
	assert.NoError(t, err)
}

func TestProfitRate_Unset(t *testing.T) {
	svc, err := New(context.Background(), StaticSource{}, nil)
	require.NoError(t, err)
	_, err = svc.ProfitRate()
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfiguration))
}

func TestStoreSource(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PutTimerOption(model.TimerOption{ID: "30s", Label: "30 seconds", Duration: 30 * time.Second, Enabled: true})
	mem.SetProfitRate(decimal.NewFromInt(75))
	mem.PutWithdrawalMethod(model.WithdrawalMethod{ID: "bank", Name: "Bank", MinAmount: decimal.NewFromInt(100), Active: true})

	svc, err := New(context.Background(), StoreSource{Repo: mem}, nil)
	require.NoError(t, err)

	timer, err := svc.Timer("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timer.Duration)

	rate, err := svc.ProfitRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(75)))

	_, err = svc.Method("bank")
	assert.NoError(t, err)
}
