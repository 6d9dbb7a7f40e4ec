package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swap-escrow/internal/api"
	"swap-escrow/internal/config"
	"swap-escrow/internal/escrow"
	"swap-escrow/internal/ledger"
	"swap-escrow/internal/notify"
	"swap-escrow/internal/storage"
	chstore "swap-escrow/internal/storage/clickhouse"
	"swap-escrow/internal/storage/memory"
	"swap-escrow/internal/storage/migrations"
	pgstore "swap-escrow/internal/storage/postgres"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Run the HTTP API and the event dispatcher",
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply postgres migrations before serving")
}

// backend is the storage a server runs on.
type backend struct {
	ledger   ledger.Ledger
	accounts ledger.Accounts
	swaps    storage.SwapStore
	outbox   storage.SwapEventStore
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn("using in-memory storage; swaps and balances are lost on exit")
		l := memory.NewLedger()
		events := memory.NewSwapEventStore()
		return &backend{
			ledger:   l,
			accounts: l,
			swaps:    memory.NewSwapStore(events),
			outbox:   events,
			close:    func() {},
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if migrateOnStart {
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("postgres migrations applied", zap.Strings("files", applied))
	}

	l := pgstore.NewLedger(pool)
	return &backend{
		ledger:   l,
		accounts: l,
		swaps:    pgstore.NewSwapStore(pool),
		outbox:   pgstore.NewSwapEventStore(pool),
		close:    pool.Close,
	}, nil
}

// openPublishers builds the configured event sinks. The hub is always first.
func openPublishers(ctx context.Context, cfg *config.Config, hub *api.Hub) ([]notify.Publisher, func(), error) {
	publishers := []notify.Publisher{hub}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Events.RedisURL != "" {
		pub, err := notify.NewRedisStreamPublisher(ctx, cfg.Events.RedisURL, cfg.Events.RedisStream)
		if err != nil {
			return nil, nil, err
		}
		publishers = append(publishers, pub)
		closers = append(closers, func() { _ = pub.Close() })
	}

	if cfg.Events.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Events.ClickHouseDSN)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		publishers = append(publishers, notify.NewEventLogPublisher(chstore.NewEventLogStore(conn)))
		closers = append(closers, func() { _ = conn.Close() })
	}

	return publishers, closeAll, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting escrowd",
		zap.String("version", Version),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("addr", cfg.Server.Addr),
	)

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	registry := escrow.NewRegistry(be.ledger, be.swaps,
		escrow.WithLogger(logger.Named("escrow")),
		escrow.WithMaxBasketSize(cfg.Escrow.MaxBasketSize),
	)

	hub := api.NewHub(logger.Named("stream"))
	publishers, closePublishers, err := openPublishers(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer closePublishers()

	dispatcher := notify.NewDispatcher(be.outbox, publishers, notify.Config{
		PollInterval: cfg.Notify.PollInterval,
		BatchSize:    cfg.Notify.BatchSize,
		MaxElapsed:   cfg.Notify.MaxElapsed,
	}, logger.Named("notify"))

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(ctx) }()

	server := api.NewServer(registry, be.accounts, hub, api.Options{
		CORSOrigins:     cfg.Server.CORSOrigins,
		EnableFaucet:    cfg.Server.EnableFaucet,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger.Named("api"))

	if cfg.Server.EnableFaucet {
		logger.Warn("development faucet enabled at POST /v1/accounts/credits")
	}

	serveErr := server.Run(ctx, cfg.Server.Addr)
	stop()

	if err := <-dispatchDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped with error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	logger.Info("escrowd stopped")
	return nil
}
