package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"depthbook-go/infrastructure/alert"
	"depthbook-go/infrastructure/logger"
	"depthbook-go/market"
	"depthbook-go/metrics"
)

// RegistryConfig 注册表级配置与各同步器共享的依赖。
type RegistryConfig struct {
	StaleTimeout time.Duration
	Dialer       Dialer
	Snapshots    SnapshotFetcher
	Logger       *logger.Logger
	Alerts       *alert.Manager
	Metrics      *metrics.Collector
}

// Registry 持有多交易对的簿与其同步任务。
// 每个交易对一个常驻 goroutine；各簿完全独立，互相之间没有顺序关系。
type Registry struct {
	cfg RegistryConfig

	mu      sync.Mutex
	syncers map[string]*Syncer
	wg      sync.WaitGroup
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:     cfg,
		syncers: make(map[string]*Syncer),
	}
}

// Track 为交易对创建簿并启动同步任务；对同一符号重复调用幂等。
// 返回该簿的读句柄，任务生命周期由 ctx 决定。
func (r *Registry) Track(ctx context.Context, symbol string) *market.Book {
	key := strings.ToUpper(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.syncers[key]; ok {
		return s.Book()
	}

	s := NewSyncer(
		Config{Symbol: key, StaleTimeout: r.cfg.StaleTimeout},
		Components{
			Book:      market.NewBook(key),
			Dialer:    r.cfg.Dialer,
			Snapshots: r.cfg.Snapshots,
			Logger:    r.cfg.Logger,
			Alerts:    r.cfg.Alerts,
			Metrics:   r.cfg.Metrics,
		},
	)
	r.syncers[key] = s
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = s.Run(ctx)
	}()
	return s.Book()
}

// Book 返回某交易对的簿。
func (r *Registry) Book(symbol string) (*market.Book, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.syncers[strings.ToUpper(symbol)]
	if !ok {
		return nil, false
	}
	return s.Book(), true
}

// Symbols 返回当前跟踪的交易对，按字母序。
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.syncers))
	for sym := range r.syncers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Wait 阻塞到所有同步任务退出（ctx 取消后）。
func (r *Registry) Wait() {
	r.wg.Wait()
}
