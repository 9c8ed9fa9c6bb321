package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/service-order-auth/internal/config"
	"github.com/iliyamo/service-order-auth/internal/database"
	"github.com/iliyamo/service-order-auth/internal/handler"
	"github.com/iliyamo/service-order-auth/internal/ratelimit"
	"github.com/iliyamo/service-order-auth/internal/repository"
	"github.com/iliyamo/service-order-auth/internal/router"
	"github.com/iliyamo/service-order-auth/internal/service"
	"github.com/iliyamo/service-order-auth/internal/utils"
)

// purgeInterval is how often expired MySQL refresh rows are removed.
const purgeInterval = time.Hour

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.UsingDevSecret() {
		if cfg.Production() {
			logger.Error("JWT_SECRET is not set, using the built-in development secret; tokens can be forged")
		} else {
			logger.Warn("JWT_SECRET is not set, using the built-in development secret")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := database.Open(database.Options{
		User:     cfg.DBUser,
		Pass:     cfg.DBPass,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	var rdb *redis.Client
	if cfg.RefreshStore == "redis" || cfg.RateLimit.Backend == "redis" {
		rdb = config.NewRedisClient(cfg.Redis)
		if rdb == nil && cfg.RefreshStore == "redis" {
			return errors.New("redis unreachable and REFRESH_STORE=redis")
		}
		if rdb == nil {
			logger.Warn("redis unreachable, rate limits fall back to process memory", "addr", cfg.Redis.Addr)
		} else {
			defer rdb.Close()
		}
	}

	loginLimiter, apiLimiter, err := newLimiters(ctx, cfg.RateLimit, rdb, logger)
	if err != nil {
		return err
	}

	var store service.RefreshStore
	if cfg.RefreshStore == "redis" {
		store = repository.NewRedisTokenStore(rdb, "auth")
	} else {
		repo := repository.NewTokenRepo(db)
		store = repo
		go purgeLoop(ctx, repo, logger)
	}

	var events service.EventPublisher = service.NewLoggingPublisher(logger.With("module", "audit"))
	if cfg.RabbitMQURL != "" {
		pub := service.NewAMQPPublisher(cfg.RabbitMQURL, 512, logger)
		go pub.Run(ctx)
		events = pub
	}

	issuer, err := utils.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTLDays)
	if err != nil {
		return err
	}
	principals := repository.NewPrincipalRepo(db)
	sessions := service.NewSessionService(service.Dependencies{
		Directory:    principals,
		Customers:    principals,
		Store:        store,
		Hasher:       utils.NewHasher(cfg.BcryptCost),
		Issuer:       issuer,
		LoginLimiter: loginLimiter,
		Events:       events,
		Logger:       logger,
	})

	health := &handler.HealthHandler{DB: db}
	if rdb != nil {
		health.Redis = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	e := router.New(router.Deps{
		Auth:       handler.NewAuthHandler(sessions, issuer, cfg.Cookie, logger),
		Health:     health,
		Issuer:     issuer,
		Sessions:   sessions,
		APILimiter: apiLimiter,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("listening", "addr", addr, "env", cfg.Env, "refresh_store", cfg.RefreshStore,
			"rate_limit_backend", cfg.RateLimit.Backend)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}

// newLimiters builds the login and API limiters over a shared store.  With
// an in-memory store a sweeper goroutine drops expired windows.
func newLimiters(ctx context.Context, rc config.RateLimitConfig, rdb *redis.Client, logger *slog.Logger) (*ratelimit.Limiter, *ratelimit.Limiter, error) {
	var store ratelimit.Store
	if rc.Backend == "redis" && rdb != nil {
		store = ratelimit.NewRedisStore(rdb, rc.Prefix)
	} else {
		mem := ratelimit.NewMemoryStore()
		go mem.RunSweeper(ctx, rc.SweepInterval, func(n int) {
			if n > 0 {
				logger.Debug("rate limit sweep", "removed", n)
			}
		})
		store = mem
	}
	login, err := ratelimit.New(store, ratelimit.Policy{Max: rc.LoginMax, Window: rc.LoginWindow})
	if err != nil {
		return nil, nil, err
	}
	if !rc.Enabled {
		return login, nil, nil
	}
	api, err := ratelimit.New(store, ratelimit.Policy{Max: rc.APIMax, Window: rc.APIWindow})
	if err != nil {
		return nil, nil, err
	}
	return login, api, nil
}

func purgeLoop(ctx context.Context, repo *repository.TokenRepo, logger *slog.Logger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired refresh tokens failed", "error", err)
				continue
			}
			logger.Info("purged expired refresh tokens", "removed", n)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
