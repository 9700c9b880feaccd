// Package main запускает HTTP-сервер сервиса синхронизации спонсорств.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/sponsorlink-system/internal/config"
	"github.com/mmeshcher/sponsorlink-system/internal/event"
	"github.com/mmeshcher/sponsorlink-system/internal/github"
	"github.com/mmeshcher/sponsorlink-system/internal/handler"
	"github.com/mmeshcher/sponsorlink-system/internal/metrics"
	"github.com/mmeshcher/sponsorlink-system/internal/middleware"
	"github.com/mmeshcher/sponsorlink-system/internal/model"
	"github.com/mmeshcher/sponsorlink-system/internal/registry"
	"github.com/mmeshcher/sponsorlink-system/internal/repository"
	"github.com/mmeshcher/sponsorlink-system/internal/service"
)

const expirationSweepInterval = time.Hour

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	aliases, err := cfg.AliasMap()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		sugar.Fatalw("redis configuration error", "error", err.Error())
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	issuer := github.NewTokenIssuer()
	if cfg.SponsorAppKey != "" {
		if err := issuer.AddApp(model.AppKindSponsor, cfg.SponsorAppID, []byte(cfg.SponsorAppKey)); err != nil {
			sugar.Fatalw("sponsor app key error", "error", err.Error())
		}
	}
	if cfg.SponsorableAppKey != "" {
		if err := issuer.AddApp(model.AppKindSponsorable, cfg.SponsorableAppID, []byte(cfg.SponsorableAppKey)); err != nil {
			sugar.Fatalw("sponsorable app key error", "error", err.Error())
		}
	}

	client := github.NewClient(cfg.GitHubURL, cfg.GitHubAPIURL, map[model.AppKind]github.OAuthApp{
		model.AppKindSponsor:     {ClientID: cfg.SponsorClientID, ClientSecret: cfg.SponsorClientSecret},
		model.AppKindSponsorable: {ClientID: cfg.SponsorableClientID, ClientSecret: cfg.SponsorableClientSecret},
	}, issuer)

	m := metrics.New()

	reg := registry.NewRedisRegistry(redisClient, m)
	stream := event.NewRedisStream(redisClient)

	svc := service.NewService(repo, client, reg, stream, logger, m, service.Config{
		Operator: cfg.Operator(),
		Aliases:  aliases,
	})
	defer svc.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "sponsorlink"
	}
	consumer := event.NewConsumer(redisClient, stream, svc, logger, m, hostname)

	signatureMiddleware := middleware.NewSignatureMiddleware(cfg.WebhookSecret)
	h := handler.NewHandler(svc, logger, m, signatureMiddleware, cfg.AuthRedirectURL)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой обработки корзин истечений
	g.Go(func() error {
		svc.StartExpirationSweeps(ctx, expirationSweepInterval)
		return nil
	})

	// Запуск обработчика потока событий
	g.Go(func() error {
		return consumer.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting sponsorlink server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
