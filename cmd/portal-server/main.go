// cmd/portal-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"member-portal/internal/api"
	"member-portal/internal/chain"
	"member-portal/internal/checkin"
	"member-portal/internal/common/auth"
	"member-portal/internal/common/aws"
	"member-portal/internal/common/config"
	"member-portal/internal/common/database"
	"member-portal/internal/common/logger"
	"member-portal/internal/common/observability"
	"member-portal/internal/membership/snapshot"
	"member-portal/internal/membership/statecache"
	"member-portal/internal/roster"
	"member-portal/internal/sponsor"
	"member-portal/internal/tiers"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting portal server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("portal-server")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Chain RPC with retry ---
	var reader chain.Reader
	err = retryWithBackoff(func() error {
		var err error
		reader, err = chain.NewReader(cfg.Chain)
		return err
	}, 10, 2*time.Second, zapLog, "Chain RPC connection")

	if err != nil {
		zapLog.Fatal("chain rpc failed after retries", zap.Error(err))
	}
	zapLog.Info("Chain RPC connected successfully", zap.Int64("chainId", cfg.Chain.ChainID))

	backend, err := chain.NewTxBackend(cfg.Chain)
	if err != nil {
		zapLog.Fatal("tx backend failed", zap.Error(err))
	}

	var subgraph chain.SubgraphClient
	if cfg.Chain.SubgraphURL != "" {
		subgraph = chain.NewSubgraphClient(cfg.Chain.SubgraphURL, cfg.Chain.SubgraphAPIKey, config.GetDuration(cfg.Chain.RequestTimeout))
	}

	// --- Sponsor wallet (optional; sponsored routes fail gracefully without it) ---
	var wallet *chain.Wallet
	if cfg.Sponsor.PrivateKey != "" {
		wallet, err = chain.NewWallet(cfg.Sponsor.PrivateKey, cfg.Chain.ChainID)
		if err != nil {
			zapLog.Fatal("sponsor wallet failed", zap.Error(err))
		}
		zapLog.Info("Sponsor wallet loaded", zap.String("address", wallet.Address()))
	} else {
		zapLog.Warn("No sponsor private key configured; sponsored transactions disabled")
	}

	// --- AWS clients (optional) ---
	var mailer api.Mailer
	if cfg.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		mailer = sesClient
		zapLog.Info("SES client initialized")
	}

	var notifier sponsor.AlertNotifier
	if cfg.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		notifier = snsClient
		zapLog.Info("SNS client initialized")
	}

	// --- Wire components ---
	registry := tiers.NewRegistry(cfg.Tiers, cfg.EventLocks)

	builder := snapshot.NewBuilder(reader, subgraph, registry, cfg.Chain.ChainID, log)
	stateCache := statecache.New(
		rdb.GetClient(), builder, cfg.Chain.ChainID,
		config.GetDuration(cfg.Membership.SnapshotTTL),
		config.GetDuration(cfg.Membership.StaleTTL),
		log,
	)

	auditLog := sponsor.NewAuditLog(pg.DB, log)
	if err := auditLog.Migrate(ctx); err != nil {
		zapLog.Fatal("audit log migration failed", zap.Error(err))
	}

	engine := sponsor.NewEngine(sponsor.EngineParams{
		Reader:         reader,
		Backend:        backend,
		Wallet:         wallet,
		Leases:         sponsor.NewLeaseStore(rdb.GetClient(), config.GetDuration(cfg.Sponsor.LeaseTTL), log),
		Limiter:        sponsor.NewRateLimiter(rdb.GetClient(), cfg.Sponsor.DailyTxCap),
		Audit:          auditLog,
		Registry:       registry,
		Notifier:       notifier,
		AlertTopicARN:  cfg.Sponsor.AlertTopicARN,
		MinBalanceWei:  cfg.Sponsor.MinBalanceWei,
		GasLimit:       cfg.Sponsor.GasLimit,
		ConfirmTimeout: config.GetDuration(cfg.Sponsor.ConfirmTimeout),
		ChainID:        cfg.Chain.ChainID,
		Logger:         log,
	})

	issuer := checkin.NewTokenIssuer(cfg.Checkin.Secret, config.GetDuration(cfg.Checkin.MaxAge), cfg.Checkin.QRPixels)
	checkins := checkin.NewService(issuer, reader, rdb.GetClient(), log)

	var rosterCache api.RosterProvider
	if subgraph != nil {
		rosterCache = roster.NewCache(subgraph, rdb.GetClient(), config.GetDuration(cfg.Membership.RosterTTL), log)
	}

	fromEmail := cfg.Checkin.FromEmail
	if fromEmail == "" {
		fromEmail = cfg.AWS.SES.FromEmail
	}

	server := api.NewServer(api.ServerParams{
		State:     stateCache,
		Sponsor:   engine,
		Checkins:  checkins,
		Roster:    rosterCache,
		Mailer:    mailer,
		Verifier:  auth.NewHMACVerifier(cfg.Session.Secret),
		Registry:  registry,
		FromEmail: fromEmail,
		Health: map[string]api.HealthChecker{
			"redis":    rdb.Ping,
			"postgres": pg.Ping,
			"rpc": func(ctx context.Context) error {
				_, err := reader.BalanceAt(ctx, "0x0000000000000000000000000000000000000000")
				return err
			},
		},
		Logger: log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Router(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Portal server stopped gracefully")
}
