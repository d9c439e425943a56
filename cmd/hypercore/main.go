package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hypercore/config"
	"hypercore/exchange"
	"hypercore/pkg/logger"
	"hypercore/risk"
	"hypercore/store"
	"hypercore/trader"
)

func main() {
	var (
		envFile = flag.String("config", "", "配置文件路径 (.env 格式，缺省读取当前目录 .env)")
		dryRun  = flag.Bool("dry-run", false, "强制模拟模式，覆盖配置")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Trading.DryRun = true
	}

	logger.Init(cfg.LogDir, cfg.Debug)
	defer logger.Sync()
	log := logger.Module("main")

	mode := "实盘"
	if cfg.Trading.DryRun {
		mode = "模拟"
	}
	log.Info("🚀 hypercore 启动",
		zap.String("mode", mode),
		zap.Bool("testnet", cfg.Testnet),
		zap.Strings("symbols", cfg.Trading.AllowedSymbols),
		zap.Float64("max_position_pct", cfg.Risk.MaxPositionSizePct),
		zap.Float64("max_exposure_pct", cfg.Risk.MaxTotalExposurePct),
		zap.Float64("max_correlated_pct", cfg.Risk.MaxCorrelatedExposurePct),
		zap.Int("max_leverage", cfg.Risk.MaxLeverage),
		zap.Float64("max_daily_loss_pct", cfg.Risk.MaxDailyLossPct))

	if err := run(cfg, log); err != nil {
		log.Fatal("❌ 运行失败", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	client, err := exchange.NewClient(exchange.ClientConfig{
		PrivateKey:  cfg.PrivateKey,
		AccountAddr: cfg.AccountAddr,
		VaultAddr:   cfg.VaultAddr,
		Testnet:     cfg.Testnet,
	})
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	riskMgr, err := risk.NewManager(cfg.Risk)
	if err != nil {
		return fmt.Errorf("初始化风险管理器失败: %w", err)
	}

	var recorder trader.Recorder
	var auditStore *store.Store
	if cfg.DatabasePath != "" {
		auditStore, err = store.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("打开审计库失败: %w", err)
		}
		defer auditStore.Close()
		recorder = auditStore
	}

	orch := trader.New(cfg.Trading, riskMgr, client, recorder, nil)

	// 重启安全：从审计库恢复当日计数，防止重启绕过日上限
	if auditStore != nil {
		trades, pnl, err := auditStore.DailyStats(time.Now())
		if err != nil {
			log.Warn("⚠️ 恢复当日计数失败，从零开始", zap.Error(err))
		} else if trades > 0 || pnl != 0 {
			orch.RestoreDaily(trades, pnl)
			log.Info("♻️ 已恢复当日计数", zap.Int("trades", trades), zap.Float64("pnl", pnl))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.StartMonitor(ctx)
	go scheduleDailyReset(ctx, orch, log)

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("🛑 收到退出信号，开始优雅停机", zap.String("signal", sig.String()))
		orch.Stop()
		cancel()
		return nil
	case err := <-errCh:
		orch.Stop()
		return err
	}
}

// scheduleDailyReset 在每个 UTC 日界清零日计数器
func scheduleDailyReset(ctx context.Context, orch *trader.Orchestrator, log *zap.Logger) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			orch.ResetDaily()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
