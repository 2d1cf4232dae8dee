// Package metrics provides Prometheus metrics for the depth book feed
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 订单簿同步指标收集器
type Collector struct {
	registry *prometheus.Registry

	EventsApplied   *prometheus.CounterVec   // 已应用的增量事件数
	ParseSkips      *prometheus.CounterVec   // 解析失败被跳过的消息数
	Resyncs         *prometheus.CounterVec   // 重连次数（按原因）
	BookDepth       *prometheus.GaugeVec     // 双侧档位数
	BestPrice       *prometheus.GaugeVec     // 最优价
	LastEventTime   *prometheus.GaugeVec     // 最近一次应用事件的 unix 时间，监控侧据此算 staleness
	SnapshotLatency prometheus.Histogram     // 快照拉取耗时
}

// NewCollector 创建独立 registry 的收集器
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthbook_events_applied_total",
			Help: "已应用的增量深度事件数量",
		}, []string{"symbol"}),
		ParseSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthbook_parse_skips_total",
			Help: "解析失败被跳过的流消息数量",
		}, []string{"symbol"}),
		Resyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthbook_resyncs_total",
			Help: "同步周期结束次数，按结束原因分类",
		}, []string{"symbol", "reason"}),
		BookDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depthbook_book_depth",
			Help: "当前簿中价位档数",
		}, []string{"symbol", "side"}),
		BestPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depthbook_best_price",
			Help: "当前最优买/卖价",
		}, []string{"symbol", "side"}),
		LastEventTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depthbook_last_event_timestamp_seconds",
			Help: "最近一次应用事件的 unix 时间戳",
		}, []string{"symbol"}),
		SnapshotLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "depthbook_snapshot_latency_seconds",
			Help:    "REST 快照拉取耗时",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveApplied 记录一条事件应用后的簿状态
func (c *Collector) ObserveApplied(symbol string, bidDepth, askDepth int, bestBid, bestAsk float64) {
	c.EventsApplied.WithLabelValues(symbol).Inc()
	c.ObserveBook(symbol, bidDepth, askDepth, bestBid, bestAsk)
	c.LastEventTime.WithLabelValues(symbol).Set(float64(time.Now().Unix()))
}

// ObserveBook 刷新簿深度与最优价 gauge；快照铺底后也要调用，
// 否则在第一条增量到达前 gauge 停留在上个周期的值。
func (c *Collector) ObserveBook(symbol string, bidDepth, askDepth int, bestBid, bestAsk float64) {
	c.BookDepth.WithLabelValues(symbol, "bid").Set(float64(bidDepth))
	c.BookDepth.WithLabelValues(symbol, "ask").Set(float64(askDepth))
	c.BestPrice.WithLabelValues(symbol, "bid").Set(bestBid)
	c.BestPrice.WithLabelValues(symbol, "ask").Set(bestAsk)
}

// IncParseSkip 记录一条被跳过的坏消息
func (c *Collector) IncParseSkip(symbol string) {
	c.ParseSkips.WithLabelValues(symbol).Inc()
}

// IncResync 记录一次同步周期结束
func (c *Collector) IncResync(symbol, reason string) {
	c.Resyncs.WithLabelValues(symbol, reason).Inc()
}

// ObserveSnapshotLatency 记录快照拉取耗时
func (c *Collector) ObserveSnapshotLatency(d time.Duration) {
	c.SnapshotLatency.Observe(d.Seconds())
}

// Handler 返回该收集器的 /metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string, c *Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
