package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/admin"
	"github.com/Phathdt/pmm-sub001/internal/alert"
	"github.com/Phathdt/pmm-sub001/internal/chain/btc/esplora"
	"github.com/Phathdt/pmm-sub001/internal/chain/evm"
	"github.com/Phathdt/pmm-sub001/internal/chain/ratelimit"
	solrpc "github.com/Phathdt/pmm-sub001/internal/chain/solana/rpc"
	"github.com/Phathdt/pmm-sub001/internal/circuitbreaker"
	"github.com/Phathdt/pmm-sub001/internal/config"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/httpjson"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/nonce"
	"github.com/Phathdt/pmm-sub001/internal/payout"
	"github.com/Phathdt/pmm-sub001/internal/pricefeed"
	"github.com/Phathdt/pmm-sub001/internal/rebalance"
	"github.com/Phathdt/pmm-sub001/internal/retry"
	"github.com/Phathdt/pmm-sub001/internal/router"
	"github.com/Phathdt/pmm-sub001/internal/scheduler"
	"github.com/Phathdt/pmm-sub001/internal/store/postgres"
	"github.com/Phathdt/pmm-sub001/internal/store/redis"
	"github.com/Phathdt/pmm-sub001/internal/swapquote"
	"github.com/Phathdt/pmm-sub001/internal/tracing"
	"github.com/Phathdt/pmm-sub001/internal/transfer"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "pmm-settlement"
	priceMaxAge     = 30 * time.Second
	dbStatsInterval = 15 * time.Second
)

var newStreamQueue = func(url, namespace string, logger *slog.Logger) (redis.JobQueue, error) {
	return redis.NewStreamQueue(url, namespace, logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// resolveQueue picks Redis Streams when REDIS_URL is set, the in-memory
// queue otherwise.
func resolveQueue(cfg config.RedisConfig, logger *slog.Logger) (redis.JobQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		logger.Warn("REDIS_URL not set, using in-memory queue; queued jobs are lost on restart")
		return redis.NewInMemoryQueue(0, logger), nil
	}
	q, err := newStreamQueue(url, cfg.Namespace, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize redis queue: %w", err)
	}
	logger.Info("redis stream queue enabled", "namespace", cfg.Namespace)
	return q, nil
}

// newVenueHTTP builds a JSON client whose transient failures trip a breaker.
func newVenueHTTP(name, baseURL string, timeout time.Duration, logger *slog.Logger, opts ...httpjson.Option) *httpjson.Client {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:      name,
		IsFailure: retry.IsTransient,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return httpjson.New(name, baseURL, timeout, append(opts, httpjson.WithBreaker(breaker))...)
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		logger.Warn("no alert channel configured, alerts are only logged")
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

// depositNetworkID returns the first Bitcoin network in the registry, the one
// that funds swap deposits.
func depositNetworkID(networks *config.NetworkRegistry) (string, error) {
	for _, t := range []model.NetworkType{model.NetworkTypeBTC, model.NetworkTypeTBTC} {
		if btc := networks.Networks(t); len(btc) > 0 {
			return btc[0].ID, nil
		}
	}
	return "", errors.New("no bitcoin network configured")
}

func rebalanceConfig(cfg *config.Config, depositNetwork string) rebalance.Config {
	r := cfg.Rebalance
	return rebalance.Config{
		Enabled:                r.Enabled,
		MaxRetryDuration:       r.MaxRetryDuration,
		SkipConfirmation:       r.SkipConfirmation,
		SlippageThresholdBps:   r.SlippageThreshold,
		SlippageHighWarningBps: r.SlippageHighWarning,
		PendingInterval:        r.PendingInterval,
		MonitorInterval:        r.MonitorInterval,
		RetryInterval:          r.RetryInterval,
		SwapStatusInterval:     r.SwapStatusInterval,
		RecordTimeout:          r.RecordTimeout,
		JobRetention:           r.JobRetention,
		StallTimeout:           r.StallTimeout,
		DepositNetworkID:       depositNetwork,
	}
}

type strategies struct {
	evm         transfer.Strategy
	liquidation transfer.Strategy
	bitcoin     transfer.Strategy
	solana      transfer.Strategy
}

// registerStrategies binds every configured strategy. Pairs without a
// strategy fail with transfer.ErrUnsupportedCombination.
func registerStrategies(d *transfer.Dispatcher, s strategies) {
	if s.evm != nil {
		d.Register(model.NetworkTypeEVM, model.TradeTypeSwap, s.evm)
	}
	if s.liquidation != nil {
		d.Register(model.NetworkTypeEVM, model.TradeTypeLending, s.liquidation)
	}
	if s.bitcoin != nil {
		d.Register(model.NetworkTypeBTC, model.TradeTypeSwap, s.bitcoin)
		d.Register(model.NetworkTypeTBTC, model.TradeTypeSwap, s.bitcoin)
	}
	if s.solana != nil {
		d.Register(model.NetworkTypeSolana, model.TradeTypeSwap, s.solana)
	}
}

func newHTTPRouter(logger *slog.Logger, adminSrv *admin.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	if adminSrv != nil {
		adminSrv.Register(r)
	}
	return r
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type dbStatsProvider interface {
	Stats() sql.DBStats
}

func collectDBPoolStats(db dbStatsProvider) {
	stats := db.Stats()
	metrics.DBPoolOpen.Set(float64(stats.OpenConnections))
	metrics.DBPoolInUse.Set(float64(stats.InUse))
	metrics.DBPoolWaitCount.Set(float64(stats.WaitCount))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("settlement engine exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("settlement engine shut down gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting settlement engine",
		"rebalance_enabled", cfg.Rebalance.Enabled,
		"btc_network", cfg.Bitcoin.Network,
		"esplora", cfg.Bitcoin.EsploraURL,
		"swap_venue", cfg.SwapVenue.URL,
		"router", cfg.Router.URL,
		"networks_file", cfg.Networks.File,
	)

	tracingCfg := tracing.Config{ServiceName: serviceName, Insecure: cfg.Tracing.Insecure, SampleRatio: cfg.Tracing.SampleRatio}
	if cfg.Tracing.Enabled {
		tracingCfg.Endpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	networks, err := config.LoadNetworks(cfg.Networks.File)
	if err != nil {
		return fmt.Errorf("load networks: %w", err)
	}

	db, err := postgres.New(postgres.Config{
		URL:              cfg.DB.URL,
		MaxOpenConns:     cfg.DB.MaxOpenConns,
		MaxIdleConns:     cfg.DB.MaxIdleConns,
		ConnMaxLifetime:  cfg.DB.ConnMaxLifetime,
		StatementTimeout: cfg.DB.StatementTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx, cfg.DB.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	repo := postgres.NewRebalancingRepo(db)

	queue, err := resolveQueue(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	notifier := alert.NewNotifier(buildAlerter(cfg.Alert, logger), logger)
	defer notifier.Wait()

	// External venues
	routerClient := router.NewClient(newVenueHTTP("router", cfg.Router.URL, cfg.HTTP.Timeout, logger,
		httpjson.WithHeader("x-api-key", cfg.Router.APIKey)), logger)
	venue := swapquote.NewClient(newVenueHTTP("swapquote", cfg.SwapVenue.URL, cfg.HTTP.Timeout, logger,
		httpjson.WithHeader("Authorization", "Bearer "+cfg.SwapVenue.APIKey)), swapquote.Config{
		OriginAsset:      cfg.SwapVenue.OriginAsset,
		DestinationAsset: cfg.SwapVenue.DestinationAsset,
		RefundAddress:    cfg.SwapVenue.RefundAddress,
		Recipient:        cfg.SwapVenue.Recipient,
		SlippageBps:      int64(cfg.SwapVenue.SlippageBps),
	}, logger)
	oracle := pricefeed.NewOracle(newVenueHTTP("pricefeed", cfg.PriceFeed.URL, cfg.HTTP.Timeout, logger), cfg.PriceFeed.Symbol, priceMaxAge)

	esploraClient := esplora.NewClient(cfg.Bitcoin.EsploraURL, cfg.HTTP.Timeout,
		ratelimit.NewLimiter(cfg.Bitcoin.EsploraRPS, int(cfg.Bitcoin.EsploraRPS)+1, "esplora"), logger)

	// Transfer strategies
	dispatcher := transfer.NewDispatcher(networks, logger)
	var strats strategies
	var sequencer *nonce.Sequencer
	pool := evm.NewClientPool(nil)
	defer pool.Close()

	if cfg.EVM.PrivateKey != "" {
		key, err := nonce.ParsePrivateKey(cfg.EVM.PrivateKey)
		if err != nil {
			return fmt.Errorf("evm key: %w", err)
		}
		sequencer = nonce.NewSequencer(crypto.PubkeyToAddress(key.PublicKey), nonce.NewSignerFactory(networks, pool, key), logger)
		strats.evm = transfer.NewEVMStrategy(sequencer, routerClient, transfer.EVMOptions{}, logger)
		strats.liquidation = transfer.NewLiquidationStrategy(sequencer, routerClient, transfer.EVMOptions{}, logger)
	} else {
		logger.Warn("EVM_PRIVATE_KEY not set, EVM payouts disabled")
	}

	if cfg.Bitcoin.PrivateKeyWIF != "" {
		params, err := transfer.ParseBitcoinNetwork(cfg.Bitcoin.Network)
		if err != nil {
			return err
		}
		btc, err := transfer.NewBitcoinStrategy(esploraClient, cfg.Bitcoin.PrivateKeyWIF, params, logger)
		if err != nil {
			return fmt.Errorf("bitcoin strategy: %w", err)
		}
		strats.bitcoin = btc
		logger.Info("bitcoin wallet loaded", "address", btc.Address())
	} else {
		logger.Warn("BTC_PRIVATE_KEY_WIF not set, BTC deposits and payouts disabled")
	}

	if cfg.Solana.PrivateKey != "" {
		solClient := solrpc.NewClient(cfg.Solana.RPCURL, logger)
		solClient.SetRateLimiter(ratelimit.NewLimiter(cfg.Solana.RPS, int(cfg.Solana.RPS)+1, "solana"))
		sol, err := transfer.NewSolanaStrategy(solClient, cfg.Solana.PrivateKey, logger)
		if err != nil {
			return fmt.Errorf("solana strategy: %w", err)
		}
		strats.solana = sol
	} else {
		logger.Warn("SOLANA_PRIVATE_KEY not set, Solana payouts disabled")
	}
	registerStrategies(dispatcher, strats)

	// Rebalancing pipeline
	depositNetwork, err := depositNetworkID(networks)
	if err != nil {
		return err
	}
	rcfg := rebalanceConfig(cfg, depositNetwork)
	monitor := rebalance.NewSettlementMonitorScheduler(repo, routerClient, rcfg, logger)
	pending := rebalance.NewPendingVerificationScheduler(repo, esploraClient, queue, notifier, rcfg, logger)
	swaps := rebalance.NewSwapProcessor(repo, queue, venue, oracle, dispatcher, notifier, rcfg, logger)
	swapStatus := rebalance.NewSwapStatusScheduler(repo, venue, notifier, rcfg, logger)
	retries := rebalance.NewRetryScheduler(repo, notifier, rcfg, logger)
	payouts := payout.NewService(queue, dispatcher, routerClient, networks, notifier, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HealthPort, newHTTPRouter(logger, admin.NewServer(repo, payouts, logger)), logger)
	})
	g.Go(func() error { return monitor.Run(gCtx) })
	g.Go(func() error { return pending.Run(gCtx) })
	g.Go(func() error { return swaps.Run(gCtx) })
	g.Go(func() error { return swapStatus.Run(gCtx) })
	g.Go(func() error { return retries.Run(gCtx) })
	g.Go(func() error { return payouts.Run(gCtx) })
	if sequencer != nil {
		g.Go(func() error { return sequencer.Run(gCtx, cfg.Nonce.RefreshInterval) })
	}
	g.Go(func() error {
		return scheduler.New("db_pool_stats", dbStatsInterval, logger, scheduler.WithRunOnStart()).Run(gCtx, func(context.Context) error {
			collectDBPoolStats(db)
			return nil
		})
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
