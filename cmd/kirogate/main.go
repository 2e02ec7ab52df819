package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/kirogate/kirogate/internal/api"
	"github.com/kirogate/kirogate/internal/auth"
	"github.com/kirogate/kirogate/internal/config"
	"github.com/kirogate/kirogate/internal/events"
	"github.com/kirogate/kirogate/internal/httpclient"
	"github.com/kirogate/kirogate/internal/jobs"
	"github.com/kirogate/kirogate/internal/middleware"
	"github.com/kirogate/kirogate/internal/oauth"
	"github.com/kirogate/kirogate/internal/rate"
	internalsecrets "github.com/kirogate/kirogate/internal/secrets"
	"github.com/kirogate/kirogate/internal/store"
	"github.com/kirogate/kirogate/internal/upstream"
	"github.com/kirogate/kirogate/internal/usage"
	"github.com/kirogate/kirogate/pkg/logger"
	"github.com/kirogate/kirogate/pkg/model"
	"github.com/kirogate/kirogate/pkg/secrets"
	"github.com/kirogate/kirogate/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [kirogate]...")

	// --- AWS Secrets Manager overlay (optional) ---
	if cfg.SecretName != "" {
		awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		credsCache := secrets.NewCache[internalsecrets.Credentials](cfg.SecretCacheTTL)
		resolver := internalsecrets.NewResolver(logg.Desugar(), awsProvider, credsCache, cfg.SecretName)
		if err := internalsecrets.Overlay(ctx, cfg, resolver); err != nil {
			logg.Fatalw("failed to resolve credentials from AWS Secrets Manager", "error", err)
		}
		go credsCache.StartCleaner(cfg.SecretCleanupFreq, ctx.Done())
	}

	// --- Readiness checks: refuse to start on placeholder or missing config ---
	if err := cfg.CheckReadiness(); err != nil {
		logg.Fatalw("configuration not ready", "error", err)
	}
	cfg.Finalize(logg.Desugar())

	if cfg.DatabaseURL != "" {
		logg.Info("connecting to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	hybrid := st.(*store.HybridStore)

	// --- NATS audit publisher (optional) ---
	var nc *nats.Conn
	var pub *events.Publisher
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = events.New(nc, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
	} else {
		logg.Warn("NATS_URL not configured; audit events disabled")
	}

	// --- Upstream Kiro client ---
	tokens := upstream.NewTokenManager(logg.Desugar(), cfg.KiroAuthBaseURL, cfg.RefreshToken, cfg.TokenRefreshSkew)
	executor := httpclient.New(
		logg.Desugar(),
		nil,
		&http.Client{Timeout: cfg.UpstreamTimeout},
		2,
		"kiro",
		upstream.ErrorHandler,
	)
	kiroClient := upstream.NewClient(logg.Desugar(), executor, cfg.KiroAPIBaseURL, tokens)

	// --- Model cache with background refresh ---
	modelCache := upstream.NewModelCache(logg.Desugar(), cfg.ModelCacheTTL, func(ctx context.Context) ([]model.ModelInfo, error) {
		return kiroClient.ListModels(ctx)
	})
	modelCache.TriggerRefresh(ctx)
	go func() {
		ticker := time.NewTicker(cfg.ModelCacheRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				modelCache.TriggerRefresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	// --- Usage accounting ---
	var usagePub usage.Publisher
	if pub != nil {
		usagePub = pub
	}
	recorder := usage.NewRecorder(logg.Desugar(), hybrid, usagePub)

	// --- Usage snapshot refresher (needs Postgres) ---
	var refresher *jobs.SnapshotRefresher
	if cfg.DatabaseURL != "" {
		var snapPub jobs.SnapshotPublisher
		if pub != nil {
			snapPub = pub
		}
		refresher = jobs.NewSnapshotRefresher(logg.Desugar(), hybrid, snapPub, cfg.UsageSnapshotInterval)
		go refresher.Start(ctx)
	}

	// --- Auth ---
	keys := auth.NewKeyVerifier(logg.Desugar(), cfg.ProxyAPIKey)
	admin := auth.NewAdmin(logg.Desugar(), cfg.AdminPassword, cfg.AdminSecretKey, cfg.AdminSessionTTL, hybrid)

	// --- LinuxDo OAuth (optional) ---
	var oauthHandler *api.OAuthHandler
	if cfg.OAuthEnabled() {
		linuxdo := oauth.NewLinuxDoClient(
			logg.Desugar(),
			cfg.LinuxDoBaseURL,
			cfg.LinuxDoClientID,
			cfg.LinuxDoClientSecret,
			cfg.LinuxDoRedirectURI,
		)
		flow := oauth.NewService(logg.Desugar(), linuxdo, hybrid, cfg.OAuthStateTTL, cfg.UserSessionTTL)
		oauthHandler = &api.OAuthHandler{
			Logger: logg.Desugar(),
			Flow:   flow,
		}
		if pub != nil {
			oauthHandler.Publisher = pub
		}
	} else {
		logg.Warn("LinuxDo OAuth not configured; /oauth routes disabled")
	}

	// --- Rate limiter (per client IP) ---
	rateMgr := rate.NewManager(rate.PerMinute(cfg.RateLimitPerMinute, cfg.RateLimitBurst))
	if rateMgr.Enabled() {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					rateMgr.EvictIdle(30 * time.Minute)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// --- Static asset proxy (optional) ---
	var assets *api.StaticProxy
	if cfg.StaticAssetsProxyEnabled {
		assets = api.NewStaticProxy(logg.Desugar(), cfg.StaticAssetsBaseURL)
	}

	// --- Fiber HTTP server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		BodyLimit:             cfg.HTTPBodyLimit,
		DisableStartupMessage: !cfg.Debug,
	})
	app.Use(middleware.RequestTracking(logg.Desugar()))
	app.Use(middleware.Metrics())

	handler := &api.Handler{
		Logger: logg.Desugar(),
		Chat:   kiroClient,
		Models: modelCache,
		Tokens: tokens,
		Store:  hybrid,
		Usage:  recorder,
	}
	adminHandler := &api.AdminHandler{
		Logger: logg.Desugar(),
		Admin:  admin,
		Store:  hybrid,
		Keys:   keys,
	}
	if pub != nil {
		adminHandler.Publisher = pub
	}

	api.RegisterRoutes(app, handler, oauthHandler, adminHandler, assets, keys, rateMgr)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		logg.Infof("HTTP API listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[kirogate] running",
		"env", cfg.Env,
		"oauth_enabled", cfg.OAuthEnabled(),
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
		"static_assets_proxy", cfg.StaticAssetsProxyEnabled)

	<-ctx.Done()
	logg.Info("shutting down [kirogate]...")

	if refresher != nil {
		refresher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
