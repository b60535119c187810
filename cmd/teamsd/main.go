package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagestack/platform/internal/app/migrate"
	httpx "github.com/pagestack/platform/internal/http"
	"github.com/pagestack/platform/internal/repository/postgres"
	"github.com/pagestack/platform/internal/service/lifecycle"
	"github.com/pagestack/platform/internal/service/saga"
	"github.com/pagestack/platform/internal/service/team"
	"github.com/pagestack/platform/internal/ws"
	"github.com/pagestack/platform/pkg/api/client"
	"github.com/pagestack/platform/pkg/config"
	"github.com/pagestack/platform/pkg/logger"
)

// authIdentity resolves bearer tokens by asking the auth service.
type authIdentity struct {
	client *client.Client
}

func (a authIdentity) Resolve(ctx context.Context, token string) (httpx.UserIdentity, error) {
	user, err := a.client.Me(ctx, token)
	if err != nil {
		return httpx.UserIdentity{}, err
	}
	return httpx.UserIdentity{ID: user.ID, Email: user.Email}, nil
}

func main() {
	cfg := config.LoadTeamsConfig()
	log := logger.New("teamsd", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	authClient, err := client.New(cfg.AuthURL)
	if err != nil {
		log.Error("invalid auth service url", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	defer hub.Close()
	publisher := lifecycle.NewPublisher(cfg.DownstreamWebhookURL, cfg.DownstreamSecret, cfg.WebhookTimeout, log)
	teams := team.New(repo, publisher, hub, log, cfg)
	reconciler := saga.New(repo, teams, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewTeamsRouter(log, teams, reconciler, authIdentity{client: authClient}, hub, limiter, cfg, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("teams server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("teams server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
