package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/atmx/ledger-engine/internal/config"
	"github.com/atmx/ledger-engine/internal/logging"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ledgerd",
		Short: "Brokerage ledger, position and timed-trade settlement engine",
		Long: `ledgerd keeps user cash balances, wallet deposits and withdrawals,
equity positions with realized P&L, and escrow holds for IPO applications
and timed trades.

Configuration is read from ledgerd.yaml (or --config) and LEDGER_* environment
variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./ledgerd.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSweepCmd(opts),
	)
	return cmd
}

// load reads the config and installs the process logger.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.Service, cfg.Env)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
