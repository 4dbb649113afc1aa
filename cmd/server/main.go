// Command server is the bridge engine's entry point: it wires the nine
// spec components together (cache, symbols, auth, marketfeed, order
// router, sandbox, webhook router, alert engine, trade monitor) plus
// the strategy store, and serves the REST/WS surface described in spec §6,
// following the teacher's cmd/server/main.go startup-sequence idiom.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/alerts"
	"github.com/aristath/openalgo-bridge/internal/auth"
	"github.com/aristath/openalgo-bridge/internal/broker"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/config"
	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
	"github.com/aristath/openalgo-bridge/internal/marketfeed"
	"github.com/aristath/openalgo-bridge/internal/notify"
	"github.com/aristath/openalgo-bridge/internal/orders"
	"github.com/aristath/openalgo-bridge/internal/risk"
	"github.com/aristath/openalgo-bridge/internal/sandbox"
	"github.com/aristath/openalgo-bridge/internal/scheduler"
	"github.com/aristath/openalgo-bridge/internal/server"
	"github.com/aristath/openalgo-bridge/internal/strategies"
	"github.com/aristath/openalgo-bridge/internal/symbols"
	"github.com/aristath/openalgo-bridge/internal/trademonitor"
	"github.com/aristath/openalgo-bridge/internal/webhook"
)

// alertsHubAdapter boxes *marketfeed.Registry's concrete *Hub return
// into the package-local alerts.Hub interface alerts.HubRegistry
// expects — Go lets HubFor's concrete *marketfeed.Hub satisfy the
// interface return type, but the registry method itself still returns
// the concrete type, so the two packages need this per-package shim.
type alertsHubAdapter struct{ reg *marketfeed.Registry }

func (a alertsHubAdapter) HubFor(ctx context.Context, userID, broker string) (alerts.Hub, error) {
	return a.reg.HubFor(ctx, userID, broker)
}

// monitorHubAdapter is the same shim for trademonitor.HubRegistry.
type monitorHubAdapter struct{ reg *marketfeed.Registry }

func (a monitorHubAdapter) HubFor(ctx context.Context, userID, broker string) (trademonitor.Hub, error) {
	return a.reg.HubFor(ctx, userID, broker)
}

// sandboxHubAdapter is the same shim for sandbox.HubRegistry, wiring
// the sandbox engine's resting LIMIT/SL/SL-M orders to the live C4
// feed (spec §4.6).
type sandboxHubAdapter struct{ reg *marketfeed.Registry }

func (a sandboxHubAdapter) HubFor(ctx context.Context, userID, broker string) (sandbox.Hub, error) {
	return a.reg.HubFor(ctx, userID, broker)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.LogLevel, cfg.DevMode)
	log.Info().Msg("starting openalgo-bridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := buildCacheBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise cache backend")
	}

	mgr := events.NewManager(log)
	symbolResolver := symbols.NewResolver(log)
	userRegistry := auth.NewUserRegistry()
	brokerRegistry := broker.NewRegistry()
	gate := auth.NewGate(userRegistry, userRegistry, backend, 5*time.Minute, log)

	if cfg.DevMode {
		seedDevUser(userRegistry, log)
	}

	upstreamFactory := func(_ context.Context, userID, brokerName string) (marketfeed.UpstreamFeed, error) {
		return nil, fmt.Errorf("marketfeed: no upstream feed integration registered for broker %q (user %s); register one via a deployment-specific UpstreamFactory", brokerName, userID)
	}
	feedRegistry := marketfeed.NewRegistry(upstreamFactory, mgr, log)

	marginModel := sandbox.MarginModel{EquityMISLeverage: 5, FNONotionalPercent: 0.15}
	sandboxEngine := sandbox.NewEngine(backend, symbolResolver, feedRegistry, sandboxHubAdapter{feedRegistry}, brokerRegistry, marginModel, log)

	flags := userRegistry
	router := orders.NewRouter(brokerRegistry, sandboxEngine, flags, backend, log)
	if table, err := orders.LoadFreezeTable(cfg.FreezeQtyTablePath); err != nil {
		log.Warn().Err(err).Str("path", cfg.FreezeQtyTablePath).Msg("freeze-quantity table not loaded, relying on broker-reported limits")
	} else if table != nil {
		router.SetFreezeTable(table)
	}

	strategyTrades := trademonitor.NewStore(backend)
	strategyStore := strategies.NewStore(backend, strategyTrades)

	monitorStore := trademonitor.NewStore(backend)
	monitor := trademonitor.NewMonitor(monitorStore, monitorHubAdapter{feedRegistry}, brokerRegistry, router, router, router, strategyStore, mgr, log)

	panicCoordinator := risk.NewCoordinator(userRegistry, router, monitor, log)

	webhookRouter := webhook.NewRouter(strategyStore, router, symbolResolver, feedRegistry, strategyStore, panicCoordinator, backend, log)
	webhookHandler := webhook.NewHandler(webhookRouter, log)

	notifier := notify.NewLogNotifier(log)
	alertStore := alerts.NewStore(backend)
	alertEngine := alerts.NewEngine(alertStore, alertsHubAdapter{feedRegistry}, brokerRegistry, notifier, router, panicCoordinator, mgr, cfg.AlertWorkerPoolSize, log)

	marketTZ, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.MarketTimezone).Msg("invalid MARKET_TIMEZONE, scheduling in host-local time")
		marketTZ = time.Local
	}
	sched := scheduler.NewInLocation(log, marketTZ)
	registerScheduledJobs(sched, cfg, gate, sandboxEngine, router, strategyStore, monitor, alertEngine, log)

	if err := monitor.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("trade monitor recovery failed, continuing with an empty book")
	}
	monitor.Start(ctx)
	if err := alertEngine.Start(ctx); err != nil {
		log.Error().Err(err).Msg("alert engine failed to start")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:                log,
		Port:               cfg.HTTPPort,
		WSPort:             cfg.HTTPPort + 1,
		DevMode:            cfg.DevMode,
		Gate:               gate,
		Users:              userRegistry,
		Orders:             router,
		Sandbox:            sandboxEngine,
		Symbols:            symbolResolver,
		Strategies:         strategyStore,
		Alerts:             alertEngine,
		WebhookHandler:     webhookHandler,
		Risk:               panicCoordinator,
		MarketfeedProxy:    marketfeed.NewProxy(feedRegistry, gate, log),
		RateLimitPerMinute: cfg.RESTRateLimitPerMinute,
		StartedAt:          time.Now(),
		MarketTimezone:     cfg.MarketTimezone,
	})

	serveErrCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErrCh:
		log.Error().Err(err).Msg("http server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sched.Stop()
	monitor.Stop()
	alertEngine.Stop()
	feedRegistry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during http server shutdown")
	}

	log.Info().Msg("openalgo-bridge stopped")
}

func newLogger(level string, devMode bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if devMode {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func buildCacheBackend(ctx context.Context, cfg *config.Config) (cache.Backend, error) {
	key, err := loadOrCreateEncryptionKey(cfg.EncryptionKeyPath)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	kind := cache.BackendAuto
	switch strings.ToLower(cfg.CacheBackend) {
	case "memory":
		kind = cache.BackendMemory
	case "sqlite":
		kind = cache.BackendSQLite
	case "s3", "distributed":
		kind = cache.BackendDistributed
	}

	return cache.Select(ctx, cache.SelectConfig{
		Kind:      kind,
		SQLiteDir: filepath.Dir(cfg.SQLitePath),
		S3: cache.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		},
		MemoryMaxEntries: 100000,
		EncryptionKey:    key,
	})
}

// loadOrCreateEncryptionKey reads the 32-byte key used for
// EncryptedBackend at path, generating and persisting one on first
// run (spec §4.1 references an encryption key for sensitive
// namespaces; provisioning that key is an ambient startup concern).
func loadOrCreateEncryptionKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) == 32 {
		return data, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to persist encryption key: %w", err)
	}
	return key, nil
}

func seedDevUser(registry *auth.UserRegistry, log zerolog.Logger) {
	user := &domain.User{ID: "dev-user", Role: domain.RoleAdmin, ActiveBroker: "dev", AnalyzerMode: true}
	registry.Register(user, "dev-api-key", nil)
	log.Warn().Str("api_key", "dev-api-key").Msg("dev mode: seeded a default analyzer-mode user, do not use in production")
}

// registerScheduledJobs wires C3's forced logout, C6's square-off and
// weekly reset, and C7's per-strategy intraday square-off onto the
// scheduler, converting the config's "HH:MM:SS" clock strings into
// 5-field cron expressions.
func registerScheduledJobs(sched *scheduler.Scheduler, cfg *config.Config, gate *auth.Gate, engine *sandbox.Engine, closer *orders.Router, strategyStore *strategies.Store, monitor *trademonitor.Monitor, alertEngine *alerts.Engine, log zerolog.Logger) {
	logoutJob := auth.NewForcedLogoutJob(gate)
	if schedule, err := clockToCron(cfg.ForceLogoutTime); err == nil {
		_ = sched.AddJob(schedule, logoutJob)
	} else {
		log.Error().Err(err).Str("time", cfg.ForceLogoutTime).Msg("invalid FORCE_LOGOUT_TIME, forced logout job not scheduled")
	}

	squareOffJob := sandbox.NewSquareOffJob(engine, closer)
	for _, clock := range []string{
		cfg.SandboxSquareOff.Equity,
		cfg.SandboxSquareOff.Futures,
		cfg.SandboxSquareOff.Options,
		cfg.SandboxSquareOff.Currency,
		cfg.SandboxSquareOff.Commodity,
	} {
		schedule, err := clockToCron(clock)
		if err != nil {
			log.Error().Err(err).Str("time", clock).Msg("invalid sandbox square-off time, skipping")
			continue
		}
		_ = sched.AddJob(schedule, squareOffJob)
	}

	resetJob := sandbox.NewResetJob(engine, cfg.SandboxStartingCapital)
	_ = sched.AddJob(cfg.SandboxResetCron, resetJob)

	// per-strategy intraday square-off runs every minute and matches
	// each strategy's own configured time against the current minute.
	strategySquareOff := strategies.NewSquareOffJob(strategyStore, monitor, closer, closer, log)
	_ = sched.AddJob("* * * * *", strategySquareOff)

	// clock-driven alert conditions (at_time, market_open/close,
	// interval, candle_close) are swept once a minute.
	_ = sched.AddJob("* * * * *", alerts.NewClockJob(alertEngine))
}

// clockToCron converts a local "HH:MM:SS" clock string into a 5-field
// cron expression firing once a day at that minute.
func clockToCron(clock string) (string, error) {
	parts := strings.Split(clock, ":")
	if len(parts) < 2 {
		return "", fmt.Errorf("expected HH:MM[:SS], got %q", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid hour in %q: %w", clock, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid minute in %q: %w", clock, err)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
