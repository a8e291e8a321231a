package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/bank-ledger/internal/api"
	"github.com/baharkarakas/bank-ledger/internal/auth"
	"github.com/baharkarakas/bank-ledger/internal/config"
	"github.com/baharkarakas/bank-ledger/internal/currency"
	"github.com/baharkarakas/bank-ledger/internal/db"
	"github.com/baharkarakas/bank-ledger/internal/ledger"
	"github.com/baharkarakas/bank-ledger/internal/logger"
	"github.com/baharkarakas/bank-ledger/internal/metrics"
	repo "github.com/baharkarakas/bank-ledger/internal/repository"
	"github.com/baharkarakas/bank-ledger/internal/repository/badgerstore"
	"github.com/baharkarakas/bank-ledger/internal/repository/memory"
	"github.com/baharkarakas/bank-ledger/internal/repository/postgres"
	"github.com/baharkarakas/bank-ledger/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("storage", "driver", cfg.StorageDriver, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	rates, err := currency.ParseRates(cfg.FXRates)
	if err != nil {
		log.Error("fx rates", "err", err)
		os.Exit(1)
	}

	engine := ledger.NewEngine(store, ledger.WithLogger(log), ledger.WithTimeout(cfg.OpTimeout))
	wp := worker.NewPool(cfg.WorkerCount, 0)
	defer wp.Stop()

	var tokens *auth.TokenManager
	if cfg.AuthEnabled() {
		tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
		if cfg.AuthDevTokens {
			log.Warn("AUTH_DEV_TOKENS is on: unsigned dev-<subject> bearer tokens are accepted")
		}
	}

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:       cfg,
		Log:       log,
		Ledger:    engine,
		Runner:    wp,
		Converter: currency.NewConverter(rates),
		Tokens:    tokens,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting",
			"port", cfg.HTTPPort,
			"storage", cfg.StorageDriver,
			"workers", cfg.WorkerCount,
			"auth", cfg.AuthEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repo.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		log.Warn("memory storage: balances are lost on exit")
		return memory.NewStore(), nil
	case config.DriverBadger:
		s, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := db.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			log.Info("migrations applied")
		}
		return postgres.NewStore(pool), nil
	}
}
