package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"CoinKeep/internal/api"
	"CoinKeep/internal/auth"
	"CoinKeep/internal/config"
	"CoinKeep/internal/dashboard"
	"CoinKeep/internal/events"
	"CoinKeep/internal/notify"
	"CoinKeep/internal/registry"
	"CoinKeep/internal/storage"
	"CoinKeep/internal/wallet"
	"CoinKeep/internal/web3/provider"
	"CoinKeep/pkg/logger"
)

// main 是 CoinKeep 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("coinkeepd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("COINKEEP_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "coinkeep.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("coinkeepd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	kv, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer kv.Close()

	web3Handle, err := provider.Open(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer web3Handle.Close()

	repo, err := registry.NewSnapshotRepository(ctx, kv, cfg.Storage.AgentsKey)
	if err != nil {
		return err
	}
	agents := registry.NewStore(repo)

	session := wallet.NewSession(web3Handle.Provider)
	detach := session.Attach()
	defer detach()

	queue, err := events.Open(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭事件队列失败", "error", err)
		}
	}()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() {
		if err := queue.Consume(consumerCtx, 1, events.LogHandler()); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, events.ErrQueueClosed) {
			log.Error("事件消费者异常退出", "error", err)
		}
	}()

	recorder := notify.NewRecorder(cfg.Notify.History)
	notifier := notify.NewFanout(&notify.LogNotifier{}, recorder)

	dash := dashboard.New(session, agents, web3Handle.Chains, events.NewFeed(queue), notifier)
	defer dash.Close()

	authSvc := auth.NewService(kv, cfg.Storage.UserKey, auth.Config{
		Domain:    cfg.Auth.Domain,
		URI:       cfg.Auth.URI,
		Statement: cfg.Auth.Statement,
		Required:  cfg.Auth.Required,
	})

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Dashboard:     dash,
		Auth:          authSvc,
		Provider:      web3Handle.Provider,
		Notifications: recorder,
		Metrics:       cfg.Server.MetricsOn(),
	})

	log.Info("CoinKeep 已启动", "address", cfg.Server.Address, "storage", cfg.Storage.Driver, "events", cfg.Events.Driver, "wallet", cfg.Web3.Provider)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
