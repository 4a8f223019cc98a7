package bootstrap

import (
	"context"
	"fmt"
	"time"

	"mail_worker/adapter/in/worker"
	"mail_worker/adapter/out/ai"
	"mail_worker/adapter/out/messaging"
	"mail_worker/adapter/out/mongodb"
	"mail_worker/adapter/out/persistence"
	"mail_worker/adapter/out/provider/zoho"
	"mail_worker/adapter/out/redisstore"
	"mail_worker/config"
	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/core/service/auth"
	mail "mail_worker/core/service/email"
	mailsync "mail_worker/core/service/sync"
	"mail_worker/core/service/ticket"
	"mail_worker/infra/database"
	"mail_worker/pkg/cache"
	"mail_worker/pkg/crypto"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/metrics"
	"mail_worker/pkg/ratelimit"
	"mail_worker/pkg/resilience"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Zoho allows roughly 30 calls per minute per mailbox on the free tier.
const providerCallsPerMinute = 30

type Dependencies struct {
	Config  *config.Config
	SQLDB   *sqlx.DB
	PGPool  *pgxpool.Pool // readiness probe, postgres only
	Redis   *redis.Client
	MongoDB *mongo.Client
	Latency *metrics.LatencyRegistry

	// Repositories
	Accounts *persistence.AccountAdapter
	Folders  *persistence.FolderAdapter
	Emails   *persistence.EmailAdapter
	Threads  *persistence.ThreadAdapter
	Tickets  *persistence.TicketAdapter
	SyncLogs *persistence.SyncLogAdapter
	Archive  out.SyncLogArchive

	// Resilience
	Breaker  *resilience.CircuitBreaker
	Degrader *resilience.Degrader

	// Provider
	ZohoOAuth *zoho.OAuthClient
	Zoho      *zoho.Client

	// Queue: RedisProducer with Redis, LocalPublisher without
	Publisher      out.SyncJobPublisher
	Scheduler      out.SyncJobScheduler
	Producer       *messaging.RedisProducer
	LocalPublisher *worker.LocalPublisher

	// Services
	OAuthService  *auth.OAuthService
	SyncService   *mailsync.Service
	MailService   *mail.Service
	TicketService *ticket.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps := &Dependencies{
		Config:  cfg,
		Latency: metrics.NewLatencyRegistry(1000),
	}
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

	// =========================================================================
	// Storage
	// =========================================================================

	db, err := database.Open(database.Options{
		Driver:     cfg.DatabaseDriver,
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
		MaxConns:   cfg.DBMaxConns,
	})
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	deps.SQLDB = db
	closers = append(closers, func() { db.Close() })

	if err := persistence.Migrate(ctx, db); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}
	logger.Info("[Bootstrap] %s database ready", cfg.DatabaseDriver)

	if cfg.DatabaseDriver == "postgres" {
		if pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL); err != nil {
			logger.WithError(err).Warn("[Bootstrap] pgx pool unavailable, readiness falls back to sql ping")
		} else {
			deps.PGPool = pool
			closers = append(closers, pool.Close)
		}
	}

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, cfg.SyncWorkers)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		deps.Redis = rdb
		closers = append(closers, func() { rdb.Close() })
		logger.Info("[Bootstrap] redis connected")
	} else {
		logger.Warn("[Bootstrap] REDIS_URL not set, using in-process stores and queue")
	}

	if cfg.MongoDBURL != "" {
		mc, err := mongodb.NewClient(ctx, cfg.MongoDBURL, 10*time.Second)
		if err != nil {
			logger.WithError(err).Warn("[Bootstrap] mongodb unavailable, sync log archive disabled")
		} else {
			deps.MongoDB = mc
			closers = append(closers, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				mc.Disconnect(ctx)
			})
			archive := mongodb.NewSyncLogArchive(mc.Database(cfg.MongoDBName), cfg.SyncLogRetention)
			if err := archive.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("[Bootstrap] sync log archive indexes not created")
			}
			deps.Archive = archive
		}
	}

	var cipher crypto.Cipher
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return fail(fmt.Errorf("init encryptor: %w", err))
		}
		cipher = enc
	} else {
		logger.Warn("[Bootstrap] ENCRYPTION_KEY not set, tokens are stored in plain text")
	}

	deps.Accounts = persistence.NewAccountAdapter(db, cipher)
	deps.Folders = persistence.NewFolderAdapter(db)
	deps.Emails = persistence.NewEmailAdapter(db)
	deps.Threads = persistence.NewThreadAdapter(db)
	deps.Tickets = persistence.NewTicketAdapter(db)
	deps.SyncLogs = persistence.NewSyncLogAdapter(db)

	// =========================================================================
	// Coordination stores (Redis, or in-memory for a single process)
	// =========================================================================

	var (
		breakerStore resilience.StateStore
		flagStore    resilience.FlagStore
		locker       out.AccountLocker
		states       out.OAuthStateStore
	)
	degradeWindow := 5 * time.Minute
	if deps.Redis != nil {
		rc := cache.NewRedisCache(deps.Redis, "mail_worker:")
		breakerStore = redisstore.NewBreakerStateStore(rc)
		flagStore = redisstore.NewFlagStore(rc, degradeWindow)
		locker = redisstore.NewRedisAccountLocker(rc)
		states = redisstore.NewOAuthStateStore(rc)

		deps.Producer = messaging.NewRedisProducer(deps.Redis)
		deps.Publisher = deps.Producer
		deps.Scheduler = deps.Producer
	} else {
		breakerStore = resilience.NewMemoryStateStore(10_000, cfg.BreakerStateTTL)
		flagStore = resilience.NewMemoryFlagStore(degradeWindow)
		locker = redisstore.NewMemoryAccountLocker()
		states = redisstore.NewMemoryOAuthStateStore()

		deps.LocalPublisher = worker.NewLocalPublisher()
		deps.Publisher = deps.LocalPublisher
		deps.Scheduler = deps.LocalPublisher
		closers = append(closers, deps.LocalPublisher.Stop)
	}

	deps.Breaker = resilience.NewCircuitBreaker(breakerStore, resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
		StateTTL:         cfg.BreakerStateTTL,
		IsFailure:        zoho.BreakerFailure,
	})
	deps.Breaker.OnStateChange(func(key string, from, to resilience.CircuitState) {
		logger.Warn("[CircuitBreaker] %s: %s -> %s", key, from, to)
	})
	deps.Degrader = resilience.NewDegrader(flagStore, resilience.DegraderConfig{
		FailureThreshold: cfg.DegradeThreshold,
		DisableFor:       cfg.DegradeDisableFor,
	})

	// =========================================================================
	// Provider
	// =========================================================================

	deps.ZohoOAuth = zoho.NewOAuthClient(zoho.OAuthConfig{
		ClientID:     cfg.ZohoClientID,
		ClientSecret: cfg.ZohoClientSecret,
		RedirectURL:  cfg.ZohoRedirectURL,
		AccountsURL:  cfg.ZohoAccountsURL,
	})

	retry := resilience.DefaultRetryPolicy(out.IsRetryable)
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		retry.BaseDelay = cfg.RetryBaseDelay
	}
	deps.Zoho = zoho.NewClient(zoho.ClientConfig{
		BaseURL: cfg.ZohoAPIURL,
		Retry:   retry,
	}, deps.ZohoOAuth, deps.Accounts, deps.Breaker).
		WithAccountIDStore(deps.Accounts)
	if deps.Redis != nil {
		deps.Zoho.WithLimiter(ratelimit.NewSlidingWindowLimiter(deps.Redis, providerCallsPerMinute, time.Minute))
	}

	generator, err := ai.NewGenerator(ai.Config{
		Provider:     cfg.AIProvider,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIModel:  cfg.OpenAIModel,
		OllamaURL:    cfg.OllamaURL,
		OllamaModel:  cfg.OllamaModel,
	})
	if err != nil {
		return fail(fmt.Errorf("init ai generator: %w", err))
	}
	if generator == nil {
		logger.Info("[Bootstrap] AI provider disabled, ticket summaries unavailable")
	}

	// =========================================================================
	// Services
	// =========================================================================

	mode, err := domain.ParseGroupingMode(cfg.DefaultGroupingMode, domain.GroupBySenderSubject)
	if err != nil {
		return fail(err)
	}

	deps.OAuthService = auth.NewOAuthService(deps.Accounts, deps.ZohoOAuth, deps.Zoho, states)
	deps.TicketService = ticket.NewService(deps.Tickets, deps.Emails, generator, deps.Degrader, mode)
	deps.MailService = mail.NewService(deps.Accounts, deps.Folders, deps.Emails, deps.Threads, deps.Zoho, deps.Degrader, deps.TicketService)

	syncCfg := mailsync.DefaultConfig()
	if cfg.SyncPageSize > 0 {
		syncCfg.PageSize = cfg.SyncPageSize
	}
	if cfg.SyncLeaseTTL > 0 {
		syncCfg.LeaseTTL = cfg.SyncLeaseTTL
	}
	if cfg.SyncMinBodyLength > 0 {
		syncCfg.Completeness.MinBodyLength = cfg.SyncMinBodyLength
	}
	deps.SyncService = mailsync.NewService(mailsync.Deps{
		Accounts:  deps.Accounts,
		Folders:   deps.Folders,
		Emails:    deps.Emails,
		Threads:   deps.Threads,
		Logs:      deps.SyncLogs,
		Archive:   deps.Archive,
		API:       deps.Zoho,
		Locker:    locker,
		Degrader:  deps.Degrader,
		Publisher: deps.Publisher,
	}, syncCfg)

	return deps, cleanup, nil
}
