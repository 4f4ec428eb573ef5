package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"DeFiIntent-Chain/internal/api"
	"DeFiIntent-Chain/internal/app"
	"DeFiIntent-Chain/internal/auth"
	"DeFiIntent-Chain/internal/config"
	"DeFiIntent-Chain/internal/observability/metrics"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/internal/turn"
	"DeFiIntent-Chain/pkg/logger"
)

// main 是 intentd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("intentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := config.Resolve("")
	if configPath == "" {
		configPath = filepath.Join("configs", "intentd.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("intentd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var m *metrics.Metrics
	var pipelineOpts []pipeline.Option
	if cfg.Metrics.On() {
		m = metrics.New()
		pipelineOpts = append(pipelineOpts, pipeline.WithObserver(m))
	}

	comps, err := app.Build(ctx, cfg, pipelineOpts...)
	if err != nil {
		return err
	}
	defer comps.Close()

	var turnStore turn.Store
	switch cfg.Storage.TurnStore.Driver {
	case "memory":
		turnStore = turn.NewMemoryStore()
	case "mysql":
		store, err := turn.NewMySQLStore(cfg.Storage.TurnStore.DSN)
		if err != nil {
			return err
		}
		turnStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.TurnStore.Driver)
	}

	var turnQueue turn.Queue
	switch cfg.TurnQueue.Driver {
	case "memory":
		turnQueue = turn.NewMemoryQueue(cfg.TurnQueue.Size)
	case "redis":
		queue, err := turn.NewRedisQueue(turn.RedisQueueConfig{
			Address:   cfg.TurnQueue.Redis.Address,
			Password:  cfg.TurnQueue.Redis.Password,
			DB:        cfg.TurnQueue.Redis.DB,
			Queue:     cfg.TurnQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TurnQueue.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			_ = turnStore.Close()
			return err
		}
		turnQueue = queue
	case "rabbitmq":
		queue, err := turn.NewRabbitMQQueue(turn.RabbitMQConfig{
			URL:      cfg.TurnQueue.RabbitMQ.URL,
			Queue:    cfg.TurnQueue.RabbitMQ.Queue,
			Prefetch: cfg.TurnQueue.RabbitMQ.Prefetch,
			Durable:  cfg.TurnQueue.RabbitMQ.Durable,
		})
		if err != nil {
			_ = turnStore.Close()
			return err
		}
		turnQueue = queue
	default:
		_ = turnStore.Close()
		return fmt.Errorf("未知的队列驱动: %s", cfg.TurnQueue.Driver)
	}

	turnService := turn.NewService(turnStore, turnQueue, cfg.Storage.TurnStore.MaxRetries)
	defer func() {
		if err := turnService.Close(); err != nil {
			lg.Error("关闭轮次服务失败", slog.Any("error", err))
		}
	}()

	processorOpts := []turn.ProcessorOption{turn.WithWorkerCount(cfg.TurnQueue.Workers)}
	if alerts := app.Alerts(cfg); alerts != nil {
		processorOpts = append(processorOpts, turn.WithAlerts(alerts))
	}
	processor := turn.NewProcessor(comps.Pipeline, turnStore, turnQueue, turnQueue, processorOpts...)
	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("轮次处理器异常退出", slog.Any("error", err))
		}
	}()

	lg.Info("intentd 已就绪",
		slog.String("config", configPath),
		slog.String("market", cfg.Market.Driver),
		slog.String("turn_store", cfg.Storage.TurnStore.Driver),
		slog.String("turn_queue", cfg.TurnQueue.Driver),
		slog.String("mode", cfg.Pipeline.Mode),
		slog.String("auth", string(cfg.Auth.Mode)),
	)

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	serverOpts := []api.Option{api.WithAuth(authService)}
	if m != nil {
		serverOpts = append(serverOpts, api.WithMetrics(m, cfg.Metrics.Path))
	}
	server := api.NewServer(cfg.Server.Address, comps.Pipeline, turnService, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
