package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/ledger-engine/internal/api"
	"github.com/atmx/ledger-engine/internal/escrow"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, notification hub and expiry sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", "err", err)
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:         cfg.HTTP.Addr(),
				Handler:      api.NewRouter(a.handler()),
				ReadTimeout:  cfg.HTTP.ReadTimeout,
				WriteTimeout: cfg.HTTP.WriteTimeout,
				IdleTimeout:  cfg.HTTP.IdleTimeout,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("ledgerd listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				a.hub.Run(gctx)
				return nil
			})
			if cfg.Sweep.Enabled {
				sweeper := escrow.NewSweeper(a.escrow, cfg.Sweep.Interval, cfg.Sweep.Batch, logger)
				g.Go(func() error { return sweeper.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down ledgerd...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ledgerd stopped with error", "err", err)
				return err
			}
			logger.Info("ledgerd stopped")
			return nil
		},
	}
}
