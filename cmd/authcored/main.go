// Command authcored serves the SportsAI authentication API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/internal/config"
	"github.com/sportsai/authcore/internal/httpapi"
	"github.com/sportsai/authcore/metrics/export/prometheus"
	"github.com/sportsai/authcore/store/memory"
	"github.com/sportsai/authcore/store/postgres"
)

func main() {
	var (
		envFile  = flag.String("env-file", ".env", "dotenv file read before the environment")
		migrate  = flag.Bool("migrate", false, "apply database migrations before serving")
		httpAddr = flag.String("http-addr", "", "listen address; overrides HTTP_ADDR")
	)
	flag.Parse()

	settings, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *httpAddr != "" {
		settings.HTTPAddr = *httpAddr
	}

	logger, err := newLogger(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, *migrate, logger); err != nil {
		logger.Error("authcored stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(s *config.Settings) (*zap.Logger, error) {
	if s.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, s *config.Settings, migrate bool, logger *zap.Logger) error {
	b := authcore.New().WithConfig(s.Engine).WithLogger(logger)

	if s.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		b = b.WithStore(memory.New())
	} else {
		if migrate {
			if err := postgres.Migrate(s.DatabaseURL, logger); err != nil {
				return err
			}
		}
		pool, err := pgxpool.New(ctx, s.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		b = b.WithStore(postgres.New(pool))
	}

	if s.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{s.RedisAddr}})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis at %s: %w", s.RedisAddr, err)
		}
		b = b.WithRedis(client)
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()
	if err := engine.Initialize(ctx); err != nil {
		return err
	}
	go engine.Run(ctx)

	srv := httpapi.New(engine, httpapi.Config{
		FrontendURL:   s.FrontendURL,
		SecureCookies: s.Production(),
		Metrics:       prometheus.New(engine).Handler(),
		Logger:        logger.Named("http"),
	})
	logger.Info("authcored listening",
		zap.String("addr", s.HTTPAddr),
		zap.String("env", s.Env),
		zap.Bool("redis", s.RedisAddr != ""),
		zap.Bool("postgres", s.DatabaseURL != ""),
	)
	return srv.ListenAndServe(ctx, s.HTTPAddr)
}
