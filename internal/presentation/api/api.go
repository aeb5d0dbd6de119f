package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/parley/internal/application/usecases/account"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	authHandler "github.com/hilthontt/parley/internal/presentation/handler/auth"
	chatsHandler "github.com/hilthontt/parley/internal/presentation/handler/chats"
	friendsHandler "github.com/hilthontt/parley/internal/presentation/handler/friends"
	healthHandler "github.com/hilthontt/parley/internal/presentation/handler/health"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Application struct {
	config         configs.Config
	authHandler    authHandler.Handler
	friendsHandler friendsHandler.Handler
	chatsHandler   chatsHandler.Handler
	healthHandler  healthHandler.Handler
	accounts       account.AccountUseCase
	hub            *ws.Hub
	metrics        *metrics.Metrics
	logger         logging.Logger
	ratelimiter    ratelimiter.Limiter
}

func NewApplication(
	config configs.Config,
	authHandler authHandler.Handler,
	friendsHandler friendsHandler.Handler,
	chatsHandler chatsHandler.Handler,
	healthHandler healthHandler.Handler,
	accounts account.AccountUseCase,
	hub *ws.Hub,
	metrics *metrics.Metrics,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
) *Application {
	return &Application{
		config:         config,
		authHandler:    authHandler,
		friendsHandler: friendsHandler,
		chatsHandler:   chatsHandler,
		healthHandler:  healthHandler,
		accounts:       accounts,
		hub:            hub,
		metrics:        metrics,
		logger:         logger,
		ratelimiter:    ratelimiter,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(app.loggerMiddleware)
	r.Use(app.prometheusMiddleware)

	if app.ratelimiter != nil {
		r.Use(app.rateLimiterMiddleware)
	}
	r.Use(app.enableCors)

	// Long-lived; kept out of the request timeout.
	r.Get("/ws/{clientId}", app.chatsHandler.ConnectHandler)

	if app.metrics != nil {
		r.Handle("/metrics", app.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", app.healthHandler.GetHealth)
		r.Get("/healthz", app.healthHandler.GetHealth)

		r.Post("/register", app.authHandler.RegisterHandler)
		r.Post("/token", app.authHandler.TokenHandler)
		r.Post("/logout", app.authHandler.LogoutHandler)

		r.Group(func(r chi.Router) {
			r.Use(app.authenticate)

			r.Route("/friends", func(r chi.Router) {
				r.Get("/", app.friendsHandler.ListFriendsHandler)
				r.Post("/add/{username}", app.friendsHandler.AddFriendHandler)
			})

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", app.chatsHandler.ListChatsHandler)
				r.Post("/create/{username}", app.chatsHandler.CreateChatHandler)
				r.Get("/{chatId}/messages", app.chatsHandler.GetMessagesHandler)
			})
		})
	})

	return otelhttp.NewHandler(r, "parley-http")
}

func (app *Application) Run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:      mux,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "signal caught", map[logging.ExtraKey]any{"signal": s.String()})

		// Hijacked WebSocket connections are not tracked by srv.Shutdown.
		app.hub.Shutdown()
		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{"addr": srv.Addr})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{"addr": srv.Addr})

	return nil
}
