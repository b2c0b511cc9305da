package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/ledger-engine/internal/account"
	"github.com/atmx/ledger-engine/internal/api"
	"github.com/atmx/ledger-engine/internal/config"
	"github.com/atmx/ledger-engine/internal/escrow"
	"github.com/atmx/ledger-engine/internal/notify"
	"github.com/atmx/ledger-engine/internal/pnl"
	"github.com/atmx/ledger-engine/internal/position"
	"github.com/atmx/ledger-engine/internal/price"
	"github.com/atmx/ledger-engine/internal/settings"
	"github.com/atmx/ledger-engine/internal/store"
	"github.com/atmx/ledger-engine/internal/wallet"
)

// app is the fully wired service graph.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	settings *settings.Service
	hub      *notify.Hub
	accounts *account.Service
	wallet   *wallet.Ledger
	book     *position.Book
	escrow   *escrow.Engine
	cleanup  []func()
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	// --- Redis (cache and price feed) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis_url: %w", err)
		}
		rdb = redis.NewClient(opt)
		a.cleanup = append(a.cleanup, func() { rdb.Close() })
	}

	// --- Store ---
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		a.store = store.NewPostgresStore(pool)
		logger.Info("connected to PostgreSQL")

		if rdb != nil {
			a.store = store.NewCachedStore(a.store, rdb, cfg.CacheTTL)
			logger.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	default:
		logger.Warn("using in-memory store (data will not persist)")
		a.store = store.NewMemoryStore()
	}

	// --- Realized P&L journal ---
	var journal store.PnlRepo = a.store
	if cfg.Journal.SQLitePath != "" {
		j, err := pnl.OpenSQLite(cfg.Journal.SQLitePath)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, func() { j.Close() })
		journal = j
		logger.Info("realized P&L journal on SQLite", "path", cfg.Journal.SQLitePath)
	}

	// --- Prices ---
	fallback, err := cfg.Price.Fallback()
	if err != nil {
		return err
	}
	var prices price.Source
	if cfg.Price.Source == "redis" {
		prices = price.NewRedisSource(rdb, fallback, logger)
	} else {
		prices = price.NewStaticSource(nil, fallback)
	}

	// --- Trading settings ---
	var source settings.Source = settings.StoreSource{Repo: a.store}
	if cfg.SettingsFile != "" {
		source = settings.FileSource{Path: cfg.SettingsFile}
	}
	a.settings, err = settings.New(ctx, source, logger)
	if err != nil {
		return err
	}

	// --- Notifications ---
	a.hub = notify.NewHub()
	fanout := notify.Fanout{notify.LogNotifier{Logger: logger}, a.hub}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := notify.DialKafka(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		kafka := notify.NewKafkaNotifier(producer, cfg.Kafka.Topic, logger, notify.NewProducerMetrics(prometheus.DefaultRegisterer))
		a.cleanup = append(a.cleanup, func() { kafka.Close() })
		fanout = append(fanout, kafka)
		logger.Info("kafka notifications enabled", "topic", cfg.Kafka.Topic)
	}
	emitter := notify.NewEmitter(fanout, logger)

	// --- Services ---
	a.accounts = account.NewService(a.store, a.store, emitter, logger)
	a.wallet = wallet.NewLedger(a.store, a.accounts, a.settings, emitter, logger)
	a.book = position.NewBook(a.store, pnl.NewLog(journal), prices, a.accounts, emitter, logger)
	a.escrow = escrow.NewEngine(a.store, a.store, a.accounts, a.settings, emitter, logger)
	return nil
}

func (a *app) handler() *api.Handler {
	return api.NewHandler(api.Deps{
		Accounts: a.accounts,
		Wallet:   a.wallet,
		Book:     a.book,
		Escrow:   a.escrow,
		Settings: a.settings,
		Hub:      a.hub,
		Logger:   a.logger,
	})
}
