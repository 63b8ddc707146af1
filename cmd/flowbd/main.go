// Package main is the entrypoint for the flowbd trust-verification server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/components/claims"
	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/components/proximity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/token"
	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	httpclient "github.com/FlowBondTech/flowb-sub000/internal/platform/http/client"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/realip"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/server"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"

	// Register cache drivers
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/cache/loader"
	// Register services and interceptors
	_ "github.com/FlowBondTech/flowb-sub000/internal/services/loader"
	// Register store drivers
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/store/memory"
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/store/postgres"
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	publicOrigin := flag.String("public-origin", "", "Public origin (overrides config)")
	ssrfMode := flag.String("ssrf-mode", "", "SSRF protection mode: strict or off (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, or acme (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	storeDriver := flag.String("store-driver", "", "Record store: sqlite, postgres, or memory (overrides config)")
	storeDataDir := flag.String("store-data-dir", "", "sqlite data directory (overrides config)")
	storeDSN := flag.String("store-dsn", "", "postgres DSN (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or redis (overrides config)")
	chainRPCURL := flag.String("chain-rpc-url", "", "Chain JSON-RPC endpoint (overrides config)")
	flag.Parse()

	bootstrapLogger := logutil.NewJSON(os.Stdout, slog.LevelInfo)

	// Precedence: mode preset -> TOML file -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:   listenAddr,
			PublicOrigin: publicOrigin,
			SSRFMode:     ssrfMode,
			TLSMode:      tlsMode,
			LoggingLevel: loggingLevel,
			StoreDriver:  storeDriver,
			StoreDataDir: storeDataDir,
			StoreDSN:     storeDSN,
			CacheDriver:  cacheDriver,
			ChainRPCURL:  chainRPCURL,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := logutil.ParseLevel(cfg.Logging.Level)
	if err != nil {
		bootstrapLogger.Warn("invalid logging level, using info", "error", err)
	}
	logger := logutil.NewJSON(os.Stdout, level)
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	secret, source, err := token.ResolveSecret(cfg.Auth.TokenSecret, cfg.Auth.TelegramBotToken)
	if err != nil {
		return err
	}
	if source == token.SecretSourceDerived {
		logger.Warn("session tokens are signed with a secret derived from the Telegram bot token; set auth.token_secret")
	}
	codec, err := token.New(secret, token.WithDefaultTTL(cfg.Auth.TokenTTL), token.WithLogger(logger))
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, &store.DriverConfig{Driver: cfg.Store.Driver, DataDir: cfg.Store.DataDir, DSN: cfg.Store.DSN})
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("record store ready", "driver", st.Name())

	cacheInstance, err := cache.NewFromConfig(cfg.Cache.Driver, cfg.Cache.Drivers)
	if err != nil {
		return err
	}
	defer cacheInstance.Close()

	httpClient := httpclient.New(&cfg.OutboundHTTP)

	verifiers, err := buildVerifiers(cfg, httpClient, cacheInstance, st, logger)
	if err != nil {
		return err
	}

	ledger := points.New(st, cfg.Points.Actions, m, logger)
	dispatcher, closeDispatcher := buildDispatcher(cfg, httpClient, logger)
	defer closeDispatcher()

	confirmer, closeChain, err := buildConfirmer(ctx, cfg, httpClient, st, ledger, dispatcher, m, logger)
	if err != nil {
		return err
	}
	defer closeChain()

	recorder := proximity.NewRecorder(st, ledger, proximity.Options{
		DedupWindow: cfg.Proximity.DedupWindow,
		CheckinTTL:  cfg.Proximity.CheckinTTL,
		Metrics:     m,
		Logger:      logger,
	})

	minAmount, err := decimal.NewFromString(cfg.Chain.MinAmount)
	if err != nil {
		return err
	}
	orchestrator, err := claims.New(claims.Config{
		Verifiers:     verifiers,
		Tokens:        codec,
		TokenTTL:      cfg.Auth.TokenTTL,
		Store:         st,
		Confirmer:     confirmer,
		Recorder:      recorder,
		Ledger:        ledger,
		MinAmount:     minAmount,
		DefaultRadius: cfg.Proximity.DefaultRadiusM,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	deps.SetDeps(&deps.Deps{
		Config:       cfg,
		Store:        st,
		Cache:        cacheInstance,
		Tokens:       codec,
		Verifiers:    verifiers,
		Orchestrator: orchestrator,
		Ledger:       ledger,
		HTTPClient:   httpClient,
		Metrics:      m,
		RealIP:       realip.NewTrustedProxies(cfg.Server.TrustedProxies),
	})

	services, err := service.Build(service.CoreServices, cfg.BuildServiceConfig, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger, services)
	if err != nil {
		return err
	}

	if confirmer != nil {
		confirmer.Start(ctx)
		defer confirmer.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
