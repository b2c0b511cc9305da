package escrow

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically settles expired timed trades so they do not wait for
// their owner to list them.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewSweeper creates a sweeper resolving up to batch holds every interval.
func NewSweeper(engine *Engine, interval time.Duration, batch int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{engine: engine, interval: interval, batch: batch, logger: logger}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval.String(), "batch", s.batch)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			// Keep draining while full batches come back.
			for {
				n, err := s.engine.SweepExpired(ctx, s.batch)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Error("sweep failed", "err", err)
					}
					break
				}
				if n < s.batch {
					break
				}
			}
		}
	}
}
