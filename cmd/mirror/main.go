// Package main runs the copy-trading service:
// - Watcher (continuous): wallet subscriptions plus polling backstop
// - Engine: classification, admission, buys and the deferred watchlist
// - Lifecycle: one exit task per open position
// - HTTP: operator endpoints, status and Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/admission"
	"alpha-mirror/internal/classifier"
	"alpha-mirror/internal/config"
	"alpha-mirror/internal/engine"
	"alpha-mirror/internal/execution"
	"alpha-mirror/internal/lifecycle"
	"alpha-mirror/internal/notify"
	"alpha-mirror/internal/quote"
	"alpha-mirror/internal/registry"
	"alpha-mirror/internal/solana"
	"alpha-mirror/internal/storage"
	chstore "alpha-mirror/internal/storage/clickhouse"
	"alpha-mirror/internal/storage/file"
	"alpha-mirror/internal/storage/migrations"
	pgstore "alpha-mirror/internal/storage/postgres"
	"alpha-mirror/internal/watcher"
	"alpha-mirror/internal/watchlist"
)

// stores holds the persistence backends.
type stores struct {
	positions storage.PositionStore
	watchlist storage.WatchlistStore
	ledger    storage.TradeLedger
	samples   storage.PriceSampleStore // nil without ClickHouse
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("load .env")
	}

	configPath := flag.String("config", envOr("MIRROR_CONFIG", "config.yaml"), "YAML configuration file")
	mode := flag.String("mode", os.Getenv("MIRROR_MODE"), "Trading mode: paper or live (overrides config)")
	rpcURL := flag.String("rpc-url", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint (overrides config)")
	wsURL := flag.String("ws-url", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint (overrides config)")
	httpAddr := flag.String("http-addr", os.Getenv("MIRROR_HTTP_ADDR"), "Operator HTTP address (overrides config)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL DSN for the trade ledger")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for price samples")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	override(&cfg.Mode, *mode)
	override(&cfg.RPCURL, *rpcURL)
	override(&cfg.WSURL, *wsURL)
	override(&cfg.HTTPAddr, *httpAddr)
	override(&cfg.Storage.PostgresDSN, *postgresDSN)
	override(&cfg.Storage.ClickHouseDSN, *clickhouseDSN)

	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("create stores")
	}
	defer cleanup()

	eng, err := build(ctx, cfg, st, log)
	if err != nil {
		log.WithError(err).Fatal("build engine")
	}

	done := make(chan error, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		cancel()

		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Warn("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newMux(eng, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server")
		}
	}()

	err = eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Shutdown(shutdownCtx)
	shutdownCancel()
	done <- err

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("engine stopped")
	}
	log.Info("shutdown complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newLogger(cfg config.Root) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// createStores opens the file stores under the data dir and, when DSNs are
// set, the Postgres ledger and the ClickHouse sample store.
func createStores(ctx context.Context, cfg config.Storage, log logrus.FieldLogger) (*stores, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	positions, err := file.OpenPositionStore(filepath.Join(cfg.DataDir, "positions.json"))
	if err != nil {
		return nil, nil, err
	}
	wl, err := file.OpenWatchlistStore(filepath.Join(cfg.DataDir, "watchlist.json"))
	if err != nil {
		return nil, nil, err
	}
	st := &stores{positions: positions, watchlist: wl}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		st.ledger = pgstore.NewTradeLedger(pool)
		log.Info("trade ledger: postgres")
	} else {
		ledger, err := file.OpenLedger(filepath.Join(cfg.DataDir, "trades.jsonl"))
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = ledger.Close() })
		st.ledger = ledger
		log.Info("trade ledger: jsonl")
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		st.samples = chstore.NewPriceSampleStore(conn)
		log.Info("price samples: clickhouse")
	}

	return st, cleanup, nil
}

// build wires every component into an engine.
func build(ctx context.Context, cfg config.Root, st *stores, log *logrus.Logger) (*engine.Engine, error) {
	rpc := solana.NewHTTPClient(cfg.RPCURL)

	limiter := quote.NewLimiter(quote.LimiterConfig{
		MinSpacing:   cfg.Quote.MinSpacing,
		GlobalCap:    cfg.Quote.GlobalCap,
		GlobalWindow: cfg.Quote.GlobalWindow,
		CooldownBase: cfg.Quote.CooldownBase,
		CooldownMax:  cfg.Quote.CooldownMax,
	})
	quotes := quote.NewClient(quote.Options{
		Endpoints:   cfg.Quote.Endpoints,
		Limiter:     limiter,
		Rounds:      cfg.Quote.Rounds,
		BackoffBase: cfg.Quote.BackoffBase,
		BackoffMax:  cfg.Quote.BackoffMax,
		Timeout:     cfg.Quote.Timeout,
		Logger:      log.WithField("component", "quote"),
	})
	pricer := quote.NewPricer(quotes, cfg.Admission.SlippageBps)

	liqOpts := quote.LiquidityOptions{
		Primary:      quote.NewDexScreener(cfg.Liquidity.PrimaryURL, cfg.Liquidity.Timeout),
		CacheTTL:     cfg.Liquidity.CacheTTL,
		Retries:      cfg.Liquidity.Retries,
		RetryBackoff: cfg.Liquidity.RetryBackoff,
		Logger:       log.WithField("component", "liquidity"),
	}
	if cfg.Liquidity.SecondaryKey != "" {
		liqOpts.Secondary = quote.NewBirdeye(cfg.Liquidity.SecondaryURL, cfg.Liquidity.SecondaryKey, cfg.Liquidity.Timeout)
	}
	liquidity := quote.NewLiquidity(liqOpts)

	var exec execution.Executor
	switch cfg.Mode {
	case "live":
		if cfg.Execution.SwapURL == "" {
			return nil, errors.New("live mode requires execution.swap_url")
		}
		exec = execution.NewRemote(cfg.Execution.SwapURL, cfg.Admission.SlippageBps, cfg.Execution.Timeout, log.WithField("component", "execution"))
	default:
		exec = execution.NewPaper(pricer.Tagged("exec"), log.WithField("component", "execution"))
	}

	senders := notify.Multi{notify.LogSender{Log: log.WithField("component", "notify")}}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhook(cfg.Notify.WebhookURL, 10*time.Second))
	}
	notifier := notify.NewAsync(notify.Options{
		Sender:     senders,
		RatePerSec: cfg.Notify.RatePerSec,
		Burst:      cfg.Notify.Burst,
		QueueSize:  cfg.Notify.QueueSize,
		Logger:     log.WithField("component", "notify"),
	})

	reg, err := registry.Open(registry.Options{
		Path:   filepath.Join(cfg.Storage.DataDir, "wallets.json"),
		Logger: log.WithField("component", "registry"),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	mints := admission.RPCMints{RPC: rpc}
	gate := admission.New(admission.Options{
		Config:    cfg.Admission,
		Liquidity: liquidity,
		Quotes:    pricer.Tagged("probe"),
		Mints:     mints,
		Logger:    log.WithField("component", "admission"),
	})

	queue := watchlist.New(watchlist.Options{
		Store:           st.watchlist,
		Liquidity:       liquidity,
		Config:          cfg.Watchlist,
		MinLiquidityUSD: cfg.Admission.MinLiquidityUSD,
		Logger:          log.WithField("component", "watchlist"),
	})

	manager := lifecycle.New(lifecycle.Options{
		Config:       cfg.Exit,
		Positions:    st.positions,
		Ledger:       st.ledger,
		Samples:      st.samples,
		Prices:       pricer.Tagged("price"),
		SentryPrices: pricer.Tagged("sentry"),
		Executor:     exec,
		Notifier:     notifier,
		Logger:       log.WithField("component", "lifecycle"),
	})

	eng := engine.New(engine.Options{
		Config:     cfg,
		Registry:   reg,
		Classifier: classifier.New(cfg.Classifier, log.WithField("component", "classifier")),
		Admission:  gate,
		Watchlist:  queue,
		Lifecycle:  manager,
		Executor:   exec,
		Positions:  st.positions,
		Ledger:     st.ledger,
		Mints:      mints,
		Notifier:   notifier,
		Logger:     log.WithField("component", "engine"),
	})

	var ws solana.WSClient
	if cfg.WSURL != "" {
		wsCfg := solana.DefaultWSConfig()
		client, err := solana.NewWSClient(ctx, cfg.WSURL, &wsCfg)
		if err != nil {
			// The poll backstop still covers active wallets.
			log.WithError(err).Warn("websocket unavailable, polling only")
		} else {
			ws = client
		}
	}
	eng.AddLoop(watcher.New(watcher.Options{
		Config:  cfg.Watcher,
		RPC:     rpc,
		WS:      ws,
		Wallets: reg,
		Handler: eng,
		Logger:  log.WithField("component", "watcher"),
	}))
	eng.AddLoop(notifier)

	log.WithFields(logrus.Fields{
		"mode":    exec.Mode(),
		"rpc":     cfg.RPCURL,
		"ws":      cfg.WSURL != "",
		"wallets": len(reg.Watched()),
	}).Info("components ready")
	return eng, nil
}
