package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/engine"
	"github.com/openfoia/case-engine/internal/executor"
	"github.com/openfoia/case-engine/internal/llm"
	"github.com/openfoia/case-engine/internal/mailer"
	"github.com/openfoia/case-engine/internal/notify"
	"github.com/openfoia/case-engine/internal/pkg/logger"
	"github.com/openfoia/case-engine/internal/queue"
	"github.com/openfoia/case-engine/internal/store"
	"github.com/openfoia/case-engine/internal/warehouse"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := buildProvider(ctx, cfg.Bedrock)
	alerter := notify.NewAlerter(cfg.Alerts)
	exec := executor.New(st, mailer.NewQueue(st), alerter, cfg.Engine)
	graph := engine.NewGraph(st, provider, exec, ckpt, cfg.Engine)
	supervisor := engine.NewSupervisor(graph, st, ckpt, cfg.Engine)

	pool := queue.NewPool(st, supervisor, cfg.Queue)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	if cfg.Scheduler.Enabled {
		scheduler := queue.NewScheduler(st, queue.NewClient(st), cfg.Scheduler.ScanInterval())
		wg.Add(1)
		go scheduler.Run(ctx, &wg)
	}

	sender := mailer.NewSESSender(cfg.SES)
	sendWorker := mailer.NewWorker(st, sender, pool.WorkerID()+"-mail", 30*time.Second)
	wg.Add(1)
	go sendWorker.Run(ctx, &wg)

	exporter, err := warehouse.NewExporter(cfg.Warehouse, st)
	if err != nil {
		logger.Error("warehouse init failed", "error", err.Error())
		os.Exit(1)
	}
	if exporter != nil {
		wg.Add(1)
		go exporter.Run(ctx, &wg)
	}

	logger.Info("worker started",
		"pool_size", cfg.Queue.Workers,
		"scheduler", cfg.Scheduler.Enabled,
		"execution_mode", cfg.Engine.ExecutionMode)

	<-ctx.Done()
	logger.Info("worker shutting down")
	wg.Wait()
	logger.Info("worker stopped")
}

func buildProvider(ctx context.Context, cfg config.BedrockConfig) llm.Provider {
	if cfg.ModelID == "" {
		logger.Warn("no bedrock model configured, using template provider")
		return llm.NewTemplateProvider()
	}
	provider, err := llm.NewBedrockProvider(ctx, cfg)
	if err != nil {
		logger.Error("bedrock init failed, falling back to template provider", "error", err.Error())
		return llm.NewTemplateProvider()
	}
	return provider
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
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
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using postgres locks only", "addr", cfg.Addr, "error", err.Error())
		client.Close()
		return nil
	}
	return client
}
