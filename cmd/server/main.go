package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fredfun/settlement-engine/internal/api"
	"github.com/fredfun/settlement-engine/internal/config"
	"github.com/fredfun/settlement-engine/internal/history"
	"github.com/fredfun/settlement-engine/internal/ledger"
	"github.com/fredfun/settlement-engine/internal/metrics"
	"github.com/fredfun/settlement-engine/internal/payment"
	"github.com/fredfun/settlement-engine/internal/price"
	"github.com/fredfun/settlement-engine/internal/retry"
	"github.com/fredfun/settlement-engine/internal/settlement"
	"github.com/fredfun/settlement-engine/internal/store"
	"github.com/fredfun/settlement-engine/internal/swap"
	"github.com/fredfun/settlement-engine/internal/wallet"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis (settlement cache + shared price cache) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				slog.Error("migrations failed", "err", err)
				os.Exit(1)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Ledger and wallet ---
	policy := retry.Policy{Attempts: cfg.Ledger.Attempts, Step: cfg.Ledger.RetryStep.Duration}
	var chain ledger.Ledger
	var devLedger *ledger.MemoryLedger
	switch cfg.Ledger.Mode {
	case "memory":
		slog.Warn("using in-memory ledger, nothing reaches the chain")
		devLedger = ledger.NewMemoryLedger()
		chain = devLedger
	default:
		chain = ledger.NewRPCLedger(cfg.Ledger.RPCURL, policy)
		slog.Info("ledger connected", "rpc", cfg.Ledger.RPCURL)
	}

	key, err := wallet.LoadKey(cfg.Wallet.PrivateKey, cfg.Wallet.KeyPath)
	if err != nil {
		if cfg.Ledger.Mode != "memory" {
			slog.Error("wallet key", "err", err)
			os.Exit(1)
		}
		key = solana.NewWallet().PrivateKey
		slog.Warn("no wallet key configured, generated an ephemeral one", "public_key", key.PublicKey().String())
	}
	w := wallet.NewKeypairWallet(key, chain)

	if devLedger != nil {
		if err := seedDevWallet(devLedger, key.PublicKey(), solana.MustPublicKeyFromBase58(cfg.Token.Mint)); err != nil {
			slog.Warn("seed dev wallet", "err", err)
		}
	}

	// --- Prices ---
	var cache price.Cache = price.NewMemoryCache(cfg.Prices.CacheTTL.Duration)
	if rdb != nil {
		cache = price.NewRedisCache(rdb, cfg.Prices.CacheTTL.Duration)
	}
	prices := price.NewService(
		price.NewCoinGecko(cfg.Prices.CoinGeckoURL, cfg.Prices.CoinID),
		price.NewDexScreener(cfg.Prices.DexScreenerURL),
		cache,
		cfg.Token.Mint,
	)
	if cfg.Prices.RefreshSpec != "" {
		refresher := price.NewRefresher(prices, cfg.Prices.RefreshSpec)
		if err := refresher.Start(ctx); err != nil {
			slog.Error("price refresher", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, refresher.Stop)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	unsubscribe := w.Subscribe(wsHub.WalletEvent)
	cleanup = append(cleanup, unsubscribe)

	// --- Payment service ---
	payments, err := payment.NewService(payment.Deps{
		Ledger:  chain,
		Wallet:  w,
		Store:   st,
		Prices:  prices,
		Swapper: swap.NewJupiter(cfg.Swap.JupiterURL),
		Notify:  wsHub,
	}, payment.Config{
		Settlement: settlement.Config{
			Collector:     solana.MustPublicKeyFromBase58(cfg.Token.FeeCollector),
			Mint:          solana.MustPublicKeyFromBase58(cfg.Token.Mint),
			TokenDecimals: cfg.Token.Decimals,
			BootstrapRent: cfg.Token.BootstrapRent,
			Transfer:      cfg.Fees.Transfer,
			TokenTransfer: cfg.Fees.TokenTransfer,
			Reserve:       cfg.Token.Reserve,
		},
		Swap:         cfg.Fees.Swap,
		SlippageBps:  cfg.Swap.SlippageBps,
		PollInterval: cfg.Ledger.PollInterval.Duration,
	})
	if err != nil {
		slog.Error("payment service", "err", err)
		os.Exit(1)
	}

	if _, err := w.Connect(ctx); err != nil {
		slog.Error("wallet connect", "err", err)
		os.Exit(1)
	}

	classifier := history.Classifier{
		DustThreshold:     cfg.History.DustThreshold,
		FlagTokenActivity: cfg.History.FlagTokenActivity,
	}
	handler := api.NewHandler(payments, history.NewService(chain, classifier), prices, w, cfg.History.DefaultLimit)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	origin := cfg.Server.CORSOrigin
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		handler.Routes(r, wsHub)
	})

	// --- Server ---
	// Transfers block until confirmation, so writes get the long timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("settlement-engine listening", "port", cfg.Server.Port, "wallet", key.PublicKey().String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down settlement-engine...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		_ = w.Disconnect(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}

var (
	devBaseBalance  = decimal.NewFromInt(100)
	devTokenBalance = decimal.NewFromInt(1_000_000)
)

// seedDevWallet funds owner on the in-memory ledger so transfers can be
// exercised end to end.
func seedDevWallet(l *ledger.MemoryLedger, owner, mint solana.PublicKey) error {
	l.SetBalance(owner, devBaseBalance)
	if err := l.SetTokenBalance(owner, mint, devTokenBalance); err != nil {
		return err
	}
	slog.Info("seeded dev wallet", "public_key", owner.String(), "base", devBaseBalance, "token", devTokenBalance)
	return nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
