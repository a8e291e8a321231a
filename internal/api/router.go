package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/bank-ledger/internal/api/handlers"
	"github.com/baharkarakas/bank-ledger/internal/auth"
	"github.com/baharkarakas/bank-ledger/internal/config"
	"github.com/baharkarakas/bank-ledger/internal/currency"
	"github.com/baharkarakas/bank-ledger/internal/metrics"
	"github.com/baharkarakas/bank-ledger/internal/middleware"
)

type RouterDeps struct {
	Cfg       config.Config
	Log       *slog.Logger
	Ledger    handlers.Ledger
	Runner    handlers.Runner
	Converter *currency.Converter
	// Tokens is nil when auth is disabled.
	Tokens *auth.TokenManager
}

func NewRouter(d RouterDeps) http.Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.RequestLogger(log), middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	lh := handlers.NewLedgerHandler(d.Ledger, d.Runner, d.Converter, log)
	r.Group(func(r chi.Router) {
		r.Use(middleware.HTTPMetrics)
		if d.Tokens != nil {
			r.Use(middleware.NewAuthMiddleware(d.Tokens, d.Cfg.AuthDevTokens).Auth)
		}
		r.Put("/load", lh.Load)
		r.Put("/authorization", lh.Authorize)
	})

	return r
}
