package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/weathercover/internal/blob/s3"
	cachemem "github.com/alanyoungcy/weathercover/internal/cache/memory"
	"github.com/alanyoungcy/weathercover/internal/cache/redis"
	"github.com/alanyoungcy/weathercover/internal/config"
	"github.com/alanyoungcy/weathercover/internal/crypto"
	"github.com/alanyoungcy/weathercover/internal/domain"
	"github.com/alanyoungcy/weathercover/internal/ledger/erc20"
	ledgermem "github.com/alanyoungcy/weathercover/internal/ledger/memory"
	"github.com/alanyoungcy/weathercover/internal/notify"
	"github.com/alanyoungcy/weathercover/internal/oracle"
	"github.com/alanyoungcy/weathercover/internal/service"
	storemem "github.com/alanyoungcy/weathercover/internal/store/memory"
	"github.com/alanyoungcy/weathercover/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	RequestStore domain.RequestStore
	Journal      domain.DisbursementStore
	AuditStore   domain.AuditStore

	// Money and data
	Ledger domain.Ledger
	Oracle domain.Oracle

	// Caches and coordination
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus
	RateLimiter  domain.RateLimiter
	RequestCache domain.RequestCache

	// Receipts (nil when S3 is disabled)
	Archiver domain.ReceiptArchiver

	Notifier *notify.Notifier
	Service  *service.InsuranceService
}

// Wire constructs all concrete implementations from cfg and returns them
// with a cleanup function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Request store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pgClient, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "applied migrations", slog.Any("files", applied))
			}
		}
		pool := pgClient.Pool()
		deps.RequestStore = postgres.NewRequestStore(pool)
		deps.Journal = postgres.NewDisbursementStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	default:
		deps.RequestStore = storemem.NewRequestStore()
		deps.Journal = storemem.NewDisbursementStore()
		deps.AuditStore = storemem.NewAuditStore()
	}

	// --- Ledger ---
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "erc20":
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: escrow key: %w", err))
		}
		ledger, err := erc20.Dial(ctx, erc20.Config{
			RPCURL:         cfg.Chain.RPCURL,
			ChainID:        cfg.Chain.ChainID,
			TokenAddress:   cfg.Chain.TokenAddress,
			ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
			PollInterval:   cfg.Chain.PollInterval.Duration,
		}, key, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: erc20 ledger: %w", err))
		}
		deps.Ledger = ledger
	default:
		ledger, err := seededLedger(cfg.Ledger)
		if err != nil {
			return fail(fmt.Errorf("wire: memory ledger: %w", err))
		}
		deps.Ledger = ledger
		logger.WarnContext(ctx, "using in-memory ledger; balances are not persisted",
			slog.Int("seed_accounts", len(cfg.Ledger.SeedAccounts)))
	}

	// --- Oracle ---
	deps.Oracle = oracle.NewClient(oracle.Config{
		BaseURL:         cfg.Oracle.BaseURL,
		APIKey:          cfg.Oracle.APIKey,
		Secret:          cfg.Oracle.Secret,
		Timeout:         cfg.Oracle.Timeout.Duration,
		MaxClockSkew:    cfg.Oracle.MaxClockSkew.Duration,
		BreakerFailures: cfg.Oracle.BreakerFailures,
		BreakerCooldown: cfg.Oracle.BreakerCooldown.Duration,
	}, logger)

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.RequestCache = redis.NewRequestCache(redisClient, cfg.Redis.RequestTTL.Duration)
	} else {
		logger.InfoContext(ctx, "redis not configured; locks and events are in-process")
		deps.LockManager = cachemem.NewLockManager()
		deps.SignalBus = cachemem.NewSignalBus()
		deps.RateLimiter = cachemem.NewRateLimiter()
		deps.RequestCache = cachemem.NewRequestCache()
	}

	// --- S3 receipts (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "receipt bucket not reachable; archiving will be retried per settlement",
				slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewReceiptArchiver(
			s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.ReceiptPrefix,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Service ---
	svc := service.NewInsuranceService(
		deps.RequestStore, deps.Journal, deps.Ledger, deps.Oracle,
		deps.LockManager, deps.SignalBus, deps.AuditStore,
		service.Options{
			ExpertFeeBps: cfg.Marketplace.ExpertFeeBps,
			LockTTL:      cfg.Marketplace.LockTTL.Duration,
			LockWait:     cfg.Marketplace.LockWait.Duration,
		},
		logger,
	).WithCache(deps.RequestCache).WithNotifier(deps.Notifier)
	if deps.Archiver != nil {
		svc = svc.WithArchiver(deps.Archiver)
	}
	deps.Service = svc

	return deps, cleanup, nil
}

// OpenPostgres connects with the configured pool settings.
func OpenPostgres(ctx context.Context, pg config.PostgresConfig) (*postgres.Client, error) {
	return postgres.New(ctx, postgres.ClientConfig{
		DSN:      pg.DSN,
		Host:     pg.Host,
		Port:     pg.Port,
		Database: pg.Database,
		User:     pg.User,
		Password: pg.Password,
		SSLMode:  pg.SSLMode,
		MaxConns: pg.PoolMaxConns,
		MinConns: pg.PoolMinConns,
	})
}

// seededLedger builds an in-memory ledger and credits every seed account,
// approving the escrow to pull the full balance.
func seededLedger(cfg config.LedgerConfig) (*ledgermem.Ledger, error) {
	ledger := ledgermem.New(cfg.Escrow)
	if len(cfg.SeedAccounts) == 0 {
		return ledger, nil
	}
	balance, err := domain.ParseAmount(cfg.SeedBalance)
	if err != nil {
		return nil, fmt.Errorf("seed_balance: %w", err)
	}
	for _, acct := range cfg.SeedAccounts {
		ledger.Mint(acct, balance)
		ledger.Approve(acct, cfg.Escrow, balance)
	}
	return ledger, nil
}
