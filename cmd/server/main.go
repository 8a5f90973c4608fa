package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hfujita/lobby-chat-backend/internal/auth"
	"github.com/hfujita/lobby-chat-backend/internal/channel"
	"github.com/hfujita/lobby-chat-backend/internal/config"
	"github.com/hfujita/lobby-chat-backend/internal/httpapi"
	"github.com/hfujita/lobby-chat-backend/internal/rooms"
	"github.com/hfujita/lobby-chat-backend/internal/session"
	"github.com/hfujita/lobby-chat-backend/internal/store"
	"github.com/hfujita/lobby-chat-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	switch cfg.StoreBackend {
	case "redis":
		rs, err := store.NewRedisStore(store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Fatal("redis store", zap.Error(err))
		}
		defer rs.Close()
		st = rs
	default:
		ms := store.NewMemStore(ctx)
		defer ms.Shutdown()
		st = ms
	}
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend))

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}

	authSvc, err := auth.NewService(db, []byte(cfg.JWTSecret), logger)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	sessions := session.NewRegistry(st)
	directory := rooms.NewDirectory(st, sessions, logger)
	channels := channel.NewService(st, logger)

	handler := httpapi.SetupRoutes(authSvc, directory, ws.Deps{
		Auth:      authSvc,
		Sessions:  sessions,
		Directory: directory,
		Channels:  channels,
		Log:       logger,
	}, logger)

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
