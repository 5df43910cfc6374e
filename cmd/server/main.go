package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"onetime.share/config"
	"onetime.share/internal/api"
	"onetime.share/internal/audit"
	"onetime.share/internal/crypto"
	"onetime.share/internal/secrets"
	"onetime.share/internal/store"
	"onetime.share/internal/token"

	"github.com/chainguard-dev/clog"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := clog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := clog.WithLogger(context.Background(), logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("config error: %v", err)
		os.Exit(1)
	}

	codec, err := crypto.NewCodec(cfg.Crypto.EncryptionKey)
	if err != nil {
		logger.Errorf("codec error: %v", err)
		os.Exit(1)
	}
	tokens := token.NewService(cfg.Crypto.TokenSecret)

	st := initStore(ctx, cfg)
	defer st.Close()

	service := secrets.NewService(st, codec, tokens, audit.LogRecorder{}, secrets.Limits{
		DefaultTTL:       cfg.Secrets.DefaultTTL,
		MaxTTL:           cfg.Secrets.MaxTTL,
		MaxContentLength: cfg.Secrets.MaxContentLength,
		MaxPinAttempts:   cfg.Secrets.MaxPinAttempts,
		PinHashCost:      cfg.Secrets.PinHashCost,
	})

	router := api.SetupRouter(service, cfg)

	logger.Infof("server starting on %s", cfg.Addr())
	logger.Infof("base URL: %s", cfg.Server.BaseURL)
	logger.Infof("store: %s", cfg.Store.Type)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	if err := server.ListenAndServe(); err != nil {
		logger.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
}

func initStore(ctx context.Context, cfg *config.Config) store.Store {
	logger := clog.FromContext(ctx)

	switch cfg.Store.Type {
	case "redis":
		st, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			logger.Errorf("redis connection failed: %v", err)
			os.Exit(1)
		}
		return st
	case "postgres":
		st, err := store.NewPostgresStore(ctx, cfg.Store.Postgres.DSN, cfg.Store.CleanupInterval)
		if err != nil {
			logger.Errorf("postgres connection failed: %v", err)
			os.Exit(1)
		}
		return st
	default:
		return store.NewMemoryStore(cfg.Store.CleanupInterval)
	}
}
