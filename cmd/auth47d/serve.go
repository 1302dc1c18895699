package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bip47-showcase/auth47/adapters/events"
	"github.com/bip47-showcase/auth47/adapters/store"
	"github.com/bip47-showcase/auth47/adapters/tokenizer"
	"github.com/bip47-showcase/auth47/adapters/users"
	"github.com/bip47-showcase/auth47/bsm"
	"github.com/bip47-showcase/auth47/config"
	"github.com/bip47-showcase/auth47/observability"
	"github.com/bip47-showcase/auth47/ports"
	"github.com/bip47-showcase/auth47/service"
	httptransport "github.com/bip47-showcase/auth47/transport/http"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth47 HTTP server",
		Long: `Run the auth47 HTTP server.

Settings come from flags, AUTH47_* environment variables, a .env file in the
working directory and an optional YAML config file. AUTH47_JWT_SECRET is required.

Examples:
  auth47d serve
  auth47d serve --addr :8080 --store redis
  auth47d serve --config /etc/auth47/auth47.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()

			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	config.BindServeFlags(cmd, v)
	cmd.Flags().StringVar(&configFile, "config", "", "config file path")

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
	}()

	challenges, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	tok, err := tokenizer.NewJWTTokenizer(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	eventPub, closeEvents, err := openEvents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeEvents)

	metrics := observability.NewMetrics()
	opts := []service.Option{
		service.WithCallbackURL(cfg.ResolvedCallbackURL()),
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	}

	if cfg.Users.SQLitePath != "" {
		dir, err := users.OpenSQLiteDirectory(cfg.Users.SQLitePath, logger)
		if err != nil {
			return err
		}
		closers = append(closers, dir.Close)
		opts = append(opts, service.WithUserDirectory(dir))
	}

	authService := service.NewAuthService(tok, challenges, bsm.NewVerifier(), eventPub, opts...)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httptransport.SetupRouter(authService, httptransport.RouterConfig{
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
		Metrics:     metrics,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth47 server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("callback_url", cfg.ResolvedCallbackURL()),
			zap.String("store", cfg.Store.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (ports.ChallengeStore, func() error, error) {
	opts := store.Options{TTL: cfg.ChallengeTTL, Grace: cfg.Store.Grace}

	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := openRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(client, opts), client.Close, nil

	case config.BackendBadger:
		s, err := store.OpenBadgerStore(cfg.Store.BadgerDir, opts)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("badger challenge store opened", zap.String("dir", cfg.Store.BadgerDir))
		return s, s.Close, nil

	default:
		s := store.NewMemoryStore(opts)
		go s.Run(ctx, cfg.Store.SweepInterval)
		return s, func() error { return nil }, nil
	}
}

func openEvents(ctx context.Context, cfg config.Config, logger *zap.Logger) (ports.EventPublisher, func() error, error) {
	if !cfg.Events.Enabled {
		return events.Discard{}, func() error { return nil }, nil
	}

	client, err := openRedis(ctx, cfg.EventsRedisURL())
	if err != nil {
		return nil, nil, err
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		observability.NewWatermillLogger(logger),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}

	// The publisher closes its Redis client.
	return events.NewWatermillPublisher(publisher), publisher.Close, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach Redis: %w", err)
	}
	return client, nil
}
