package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"depthbook-go/config"
	"depthbook-go/engine"
	"depthbook-go/gateway"
	"depthbook-go/infrastructure/alert"
	"depthbook-go/infrastructure/logger"
	"depthbook-go/metrics"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbolsFlag := flag.String("symbols", "", "逗号分隔的交易对，覆盖配置文件")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置文件")
	renderSymbol := flag.String("render", "", "在终端持续渲染该交易对的盘口")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *symbolsFlag != "" {
		cfg.Symbols = splitFlag(*symbolsFlag)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	alerts := alert.NewManager([]alert.Channel{
		alert.NewLogChannel("bookfeed", os.Stdout),
	}, time.Minute)

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr, collector)
		lg.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	dialer := gateway.NewStreamDialer(cfg.Gateway.WSEndpoint)
	snapshots := &gateway.SnapshotClient{
		BaseURL:    cfg.Gateway.RESTEndpoint,
		HTTPClient: gateway.NewDefaultHTTPClient(),
		Limiter:    gateway.NewTokenBucketLimiter(cfg.Gateway.SnapshotRate, cfg.Gateway.SnapshotBurst),
	}

	registry := engine.NewRegistry(engine.RegistryConfig{
		StaleTimeout: cfg.Gateway.StalenessTimeout(),
		Dialer: engine.DialerFunc(func(ctx context.Context, symbol string) (engine.Stream, error) {
			return dialer.Open(ctx, symbol)
		}),
		Snapshots: snapshots,
		Logger:    lg,
		Alerts:    alerts,
		Metrics:   collector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, sym := range cfg.Symbols {
		registry.Track(ctx, sym)
		lg.Info("tracking symbol", zap.String("symbol", strings.ToUpper(sym)))
	}

	// 配置热加载只接纳新增交易对；已有任务不中断
	go watchConfig(ctx, *cfgPath, registry, lg)

	if *renderSymbol != "" {
		go renderLoop(ctx, registry, *renderSymbol, cfg.Display)
	}

	notifySystemd(ctx, lg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	registry.Wait()
}

func watchConfig(ctx context.Context, path string, registry *engine.Registry, lg *logger.Logger) {
	w := config.Watcher{Path: path, Cooldown: time.Second}
	err := w.Start(ctx, func(next config.AppConfig) {
		for _, sym := range next.Symbols {
			key := strings.ToUpper(sym)
			if _, ok := registry.Book(key); !ok {
				registry.Track(ctx, key)
				lg.Info("tracking symbol from config reload", zap.String("symbol", key))
			}
		}
	})
	if err != nil && ctx.Err() == nil {
		lg.LogError(err, map[string]interface{}{"component": "config_watcher"})
	}
}

// renderLoop 周期性清屏重绘指定交易对的盘口。
func renderLoop(ctx context.Context, registry *engine.Registry, symbol string, display config.DisplayConfig) {
	ticker := time.NewTicker(time.Duration(display.RefreshMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			book, ok := registry.Book(symbol)
			if !ok {
				continue
			}
			fmt.Print("\033[H\033[2J")
			fmt.Print(book.Render(display.Depth))
		}
	}
}

// notifySystemd 上报就绪并按 systemd 要求喂看门狗；非 systemd 环境下为空操作。
func notifySystemd(ctx context.Context, lg *logger.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify failed", zap.Error(err))
	} else if ok {
		lg.Info("sd_notify ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func splitFlag(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
