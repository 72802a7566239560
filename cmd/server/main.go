package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"harmony/internal/config"
	"harmony/internal/dynamo"
	"harmony/internal/live"
	"harmony/internal/migration"
	"harmony/internal/observ"
	"harmony/internal/repository"
	"harmony/internal/server"
	"harmony/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	client, err := dynamo.NewClient(dynamo.ClientConfig{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrator := migration.NewMigrator(client, cfg.Tables, logger)
	if err := migrator.CreateTables(ctx); err != nil {
		return err
	}

	feed, err := live.NewFeed(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer feed.Close()

	users := service.NewUserService(
		repository.NewUserRepository(client, cfg.Tables.UserData),
		repository.NewEmailSetRepository(client, cfg.Tables.EmailSet),
		repository.NewMembershipRepository(client, cfg.Tables.UserChat),
		client,
		logger,
	)
	chats := service.NewChatService(
		repository.NewChatRepository(client, cfg.Tables.ChatData),
		repository.NewMembershipRepository(client, cfg.Tables.UserChat),
		repository.NewHistoryRepository(client, cfg.Tables.ChatHistory),
		users,
		client,
		feed,
		logger,
	)
	authSvc := service.NewAuthService(users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)

	hub := server.NewHub(logger)
	go hub.Run(ctx, feed.Subscribe(ctx))

	handlers := server.NewHandlers(authSvc, users, chats, hub, feed, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPPort,
		Handler:      server.NewRouter(handlers, cfg.Auth.JWTSecret, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPPort))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
