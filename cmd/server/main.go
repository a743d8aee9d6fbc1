package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/cube-duel/internal/config"
	"github.com/koopa0/cube-duel/internal/handler"
	"github.com/koopa0/cube-duel/internal/history"
	"github.com/koopa0/cube-duel/internal/lock"
	"github.com/koopa0/cube-duel/internal/matchmaking"
	"github.com/koopa0/cube-duel/internal/metrics"
	"github.com/koopa0/cube-duel/internal/registry"
	"github.com/koopa0/cube-duel/internal/session"
	"github.com/koopa0/cube-duel/internal/store"
	"github.com/koopa0/cube-duel/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置檔案路徑")
	port := flag.Int("port", 0, "覆蓋配置中的監聽埠")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	sharedStore := store.NewRedisStore(redisClient)

	// 連接 PostgreSQL（可選：未啟用時歷史記錄為 no-op）
	var recorder history.Recorder = history.NopRecorder{}
	if cfg.Postgres.Enabled {
		pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
		if err != nil {
			log.Error("failed to parse postgres config", "error", err)
			os.Exit(1)
		}
		pgConfig.MaxConns = cfg.Postgres.MaxConns
		pgConfig.MinConns = cfg.Postgres.MinConns

		pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		pg := history.NewPostgresRecorder(pgPool, log)
		if err := pg.Migrate(ctx); err != nil {
			log.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		recorder = pg
	}

	// 組裝服務
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	players := registry.NewPlayerRegistry(sharedStore)
	rooms := registry.NewRoomRegistry(sharedStore)
	locker := lock.NewLocker(sharedStore, log, lock.Options{
		TTL:        cfg.Lock.TTL,
		MaxRetries: cfg.Lock.MaxRetries,
		RetryDelay: cfg.Lock.RetryDelay,
	})

	coordinator := matchmaking.NewCoordinator(players, rooms, locker, m, log)
	sessions := session.NewCoordinator(players, rooms, recorder, m, log)
	h := handler.NewHandler(coordinator, sessions, players, sharedStore, promReg, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sessions.Shutdown()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	log.Info("server stopped")
}
