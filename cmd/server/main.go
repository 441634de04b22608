package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/openfoia/case-engine/internal/api"
	"github.com/openfoia/case-engine/internal/archive"
	"github.com/openfoia/case-engine/internal/auth"
	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/pkg/logger"
	"github.com/openfoia/case-engine/internal/queue"
	"github.com/openfoia/case-engine/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	redisClient := openRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	st := store.New(db, redisClient, cfg.Engine.CaseLockTTL())
	ckpt := checkpoint.New(db)
	jobs := queue.NewClient(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archiver, err := archive.NewS3Archiver(ctx, cfg.Archive)
	if err != nil {
		logger.Error("archive init failed", "error", err.Error())
		os.Exit(1)
	}

	authManager := auth.NewManager(cfg.Auth, baseURL(cfg.Server))
	authManager.StartSessionCleanup(ctx)

	var apiArchiver api.Archiver
	if archiver != nil {
		apiArchiver = archiver
	}
	server := api.NewServer(cfg, st, ckpt, jobs, authManager, redisClient, apiArchiver)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("api server listening", "addr", addr, "auth", authManager.Enabled())
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
	logger.Info("server stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func openRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, using postgres locks only", "addr", cfg.Addr, "error", err.Error())
		client.Close()
		return nil
	}
	return client
}

// baseURL is the externally visible address for OAuth redirects. Behind a
// proxy, set PUBLIC_BASE_URL.
func baseURL(cfg config.ServerConfig) string {
	if url := os.Getenv("PUBLIC_BASE_URL"); url != "" {
		return url
	}
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Port)
}
