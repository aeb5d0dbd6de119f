package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"runtime"

	"github.com/hilthontt/parley/internal/application/usecases/account"
	"github.com/hilthontt/parley/internal/application/usecases/chats"
	"github.com/hilthontt/parley/internal/application/usecases/friends"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/auth"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"github.com/hilthontt/parley/internal/infrastructure/events"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/messaging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/parley/internal/infrastructure/tracing"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/hilthontt/parley/internal/persistence/db"
	"github.com/hilthontt/parley/internal/persistence/repository"
	"github.com/hilthontt/parley/internal/presentation/api"
	authHandler "github.com/hilthontt/parley/internal/presentation/handler/auth"
	chatsHandler "github.com/hilthontt/parley/internal/presentation/handler/chats"
	friendsHandler "github.com/hilthontt/parley/internal/presentation/handler/friends"
	healthHandler "github.com/hilthontt/parley/internal/presentation/handler/health"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()
	json.SetLogger(logger)

	appLogger, err := logging.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatal(err)
	}
	defer appLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize the tracer: %v", err)
	}
	defer shutdownTracer(ctx)

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalw("failed to open store", "driver", cfg.Storage.Driver, "error", err)
	}
	defer store.Close()

	appLogger.Info(logging.Storage, logging.Startup, "store ready", map[logging.ExtraKey]any{"driver": cfg.Storage.Driver})

	tokens, err := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal(err)
	}

	m := metrics.New()

	var pipelineOpts []ws.PipelineOption
	pipelineOpts = append(pipelineOpts, ws.WithMaxContentLength(int(cfg.WS.MaxMessageSize)))
	if cfg.Events.Enabled {
		rabbitmq, err := messaging.NewRabbitMQ(cfg.Events.URI, cfg.Events.Exchange)
		if err != nil {
			logger.Fatalw("failed to connect to RabbitMQ", "error", err)
		}
		defer rabbitmq.Close()

		appLogger.Info(logging.RabbitMQ, logging.Startup, "publishing message events", map[logging.ExtraKey]any{"exchange": cfg.Events.Exchange})
		pipelineOpts = append(pipelineOpts, ws.WithPublisher(events.NewMessagePublisher(rabbitmq)))
	}

	membership := ws.NewStoreMembership(store)
	registry := ws.NewRegistry(logger, m)
	pipeline := ws.NewPipeline(membership, registry, logger, m, pipelineOpts...)
	hub := ws.NewHub(ws.NewHandshake(tokens, membership), registry, pipeline, ws.NewClientConfig(cfg.WS), logger, m)

	accounts := account.NewAccountUseCase(store, tokens, logger)
	friendsUC := friends.NewFriendsUseCase(store, logger)
	chatsUC := chats.NewChatsUseCase(store, logger)

	authH := authHandler.NewHandler(accounts, tokens.TTL(), cfg.HTTP.SecureCookies)
	friendsH := friendsHandler.NewHandler(friendsUC)
	chatsH := chatsHandler.NewHandler(chatsUC, hub, ws.NewUpgrader(cfg.WS), logger)
	healthH := healthHandler.NewHandler(store, registry)

	var rl ratelimiter.Limiter
	if cfg.RateLimiter.Enabled {
		cache, err := newRateLimiterCache(ctx, cfg)
		if err != nil {
			logger.Fatalw("failed to set up rate limiter", "backend", cfg.RateLimiter.Backend, "error", err)
		}
		defer cache.Close()

		rl = ratelimiter.New(ratelimiter.Options{
			MaxRatePerSecond: cfg.RateLimiter.MaxRatePerSecond,
			MaxBurst:         cfg.RateLimiter.MaxBurst,
			Cache:            cache,
			CacheTTL:         cfg.RateLimiter.CacheTTL,
			SourceHeaderKey:  cfg.RateLimiter.SourceHeaderKey,
		})
	}

	app := api.NewApplication(*cfg, *authH, *friendsH, *chatsH, *healthH, accounts, hub, m, appLogger, rl)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
	expvar.Publish("ws_connections", expvar.Func(func() any {
		return registry.Len()
	}))

	mux := app.Mount()
	if err := app.Run(mux); err != nil {
		logger.Errorw("server stopped", "error", err)
	}
}

func openStore(ctx context.Context, cfg configs.StorageConfig, logger *zap.SugaredLogger) (domain.Store, error) {
	switch cfg.Driver {
	case "postgres":
		gdb, err := db.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(gdb, logger)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case "badger":
		bdb, err := db.NewBadger(cfg.Badger, logger)
		if err != nil {
			return nil, err
		}
		store, err := repository.NewBadgerStore(bdb, logger)
		if err != nil {
			_ = bdb.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}

func newRateLimiterCache(ctx context.Context, cfg *configs.Config) (ratelimiter.GetterSetter, error) {
	if cfg.RateLimiter.Backend != "redis" {
		return ratelimiter.NewInMemory(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}
	return ratelimiter.NewRedis(client, cfg.Redis.KeyPrefix), nil
}
