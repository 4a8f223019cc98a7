package bootstrap

import (
	"context"
	"strings"
	"time"

	"mail_worker/adapter/in/http"
	"mail_worker/infra/middleware"
	"mail_worker/pkg/cache"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/metrics"
	"mail_worker/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP server on top of deps.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,

		// go-json: 표준 encoding/json 대비 빠른 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// attachment uploads cap at 20MB
		BodyLimit:    25 * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // inline syncs can be long
		ServerHeader: "",
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	app.Use(middleware.RequestLogger(deps.Latency))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := allowOrigins != "" && allowOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health (no auth)
	http.NewHealthHandler(healthChecks(deps), poolReporters(deps), deps.Latency).Register(app)

	api := app.Group("/api/v1")

	// OAuth callback arrives from Zoho without a JWT
	oauthHandler := http.NewOAuthHandler(deps.OAuthService, cfg.FrontendURL)
	oauthHandler.RegisterPublic(api)

	authCfg := middleware.AuthConfig{Secret: cfg.JWTSecret}
	var limiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.APIRateLimit, time.Minute)
	if deps.Redis != nil {
		authCfg.Blacklist = middleware.NewRedisTokenBlacklist(cache.NewRedisCache(deps.Redis, "mail_worker:"))
		limiter = ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.APIRateLimit, time.Minute)
	}

	protected := api.Group("", middleware.JWTAuth(authCfg), middleware.RateLimit(limiter, cfg.APIRateLimit))
	oauthHandler.Register(protected)
	http.NewSyncHandler(deps.SyncService, deps.OAuthService, deps.Publisher).Register(protected)
	http.NewTicketHandler(deps.TicketService, deps.OAuthService, deps.Emails).Register(protected)
	http.NewMailHandler(deps.MailService).Register(protected)
	http.NewAdminHandler(deps.Degrader).Register(protected)

	logger.Info("[Bootstrap] API routes registered")
	return app
}

func healthChecks(deps *Dependencies) map[string]http.HealthChecker {
	checks := map[string]http.HealthChecker{
		"database": http.PingFunc(deps.SQLDB.PingContext),
	}
	if deps.PGPool != nil {
		checks["postgres_pool"] = deps.PGPool
	}
	if deps.Redis != nil {
		checks["redis"] = http.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	if deps.MongoDB != nil {
		checks["mongodb"] = http.PingFunc(func(ctx context.Context) error {
			return deps.MongoDB.Ping(ctx, nil)
		})
	}
	return checks
}

func poolReporters(deps *Dependencies) map[string]http.PoolReporter {
	pools := map[string]http.PoolReporter{
		"sql": func() metrics.PoolStats { return metrics.SQLPoolStats(deps.SQLDB.DB) },
	}
	if deps.PGPool != nil {
		pools["pgx"] = func() metrics.PoolStats { return metrics.PgxPoolStats(deps.PGPool) }
	}
	return pools
}
