package engine

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"depthbook-go/gateway"
	"depthbook-go/infrastructure/alert"
	"depthbook-go/infrastructure/logger"
	"depthbook-go/market"
	"depthbook-go/metrics"
)

// DefaultStaleTimeout 流静默超过该时限即认为簿已过期。
const DefaultStaleTimeout = 5 * time.Second

// Stream 深度事件流；Next 必须支持限时等待。
type Stream interface {
	Next(timeout time.Duration) ([]byte, error)
	Close() error
}

// Dialer 为某个交易对打开事件流。
type Dialer interface {
	Open(ctx context.Context, symbol string) (Stream, error)
}

// DialerFunc 用函数适配 Dialer。
type DialerFunc func(ctx context.Context, symbol string) (Stream, error)

func (f DialerFunc) Open(ctx context.Context, symbol string) (Stream, error) {
	return f(ctx, symbol)
}

// SnapshotFetcher 拉取某交易对的整簿快照。
type SnapshotFetcher interface {
	Fetch(ctx context.Context, symbol string) (*gateway.Snapshot, error)
}

// State 同步状态机所处阶段。
type State int32

const (
	// StateConnecting 清簿并建立流连接
	StateConnecting State = iota
	// StateAwaitingFirstEvent 等待第一条事件确定连续性锚点
	StateAwaitingFirstEvent
	// StateFetchingSnapshot 拉取并应用快照
	StateFetchingSnapshot
	// StateStreaming 逐条校验并应用增量
	StateStreaming
	// StateClosed 流被对端正常关闭
	StateClosed
	// StateFaulted 周期因错误中止
	StateFaulted
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingFirstEvent:
		return "AWAITING_FIRST_EVENT"
	case StateFetchingSnapshot:
		return "FETCHING_SNAPSHOT"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// Config 单交易对同步配置。
type Config struct {
	Symbol       string
	StaleTimeout time.Duration // 默认 DefaultStaleTimeout
}

// Components 同步器依赖组件。
type Components struct {
	Book      *market.Book
	Dialer    Dialer
	Snapshots SnapshotFetcher
	Logger    *logger.Logger
	Alerts    *alert.Manager
	Metrics   *metrics.Collector
}

// Syncer 单交易对的订单簿同步器。
// 用"快照 + 增量流"协议维护 Book：先取流上第一条事件的 final id
// 作为连续性锚点（该事件不应用），再拉快照铺底，之后逐条校验
// U == last+1 应用增量。断档、超时或连接错误都整周期重来。
type Syncer struct {
	cfg       Config
	book      *market.Book
	dialer    Dialer
	snapshots SnapshotFetcher
	logger    *logger.Logger
	alerts    *alert.Manager
	metrics   *metrics.Collector

	state       atomic.Int32
	lastApplied atomic.Int64
}

// NewSyncer 创建同步器；Book 与 Dialer、Snapshots 必填，其余可为 nil。
func NewSyncer(cfg Config, comps Components) *Syncer {
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	return &Syncer{
		cfg:       cfg,
		book:      comps.Book,
		dialer:    comps.Dialer,
		snapshots: comps.Snapshots,
		logger:    comps.Logger,
		alerts:    comps.Alerts,
		metrics:   comps.Metrics,
	}
}

// Book 返回同步器维护的簿；任意时刻可读。
func (s *Syncer) Book() *market.Book { return s.book }

// State 返回当前状态机阶段。
func (s *Syncer) State() State { return State(s.state.Load()) }

// LastAppliedID 返回最近一次应用（或锚定）的 final update id。
func (s *Syncer) LastAppliedID() int64 { return s.lastApplied.Load() }

func (s *Syncer) setState(st State) { s.state.Store(int32(st)) }

// Run 无限重试的恢复循环；只有 ctx 结束才返回。
// 每次周期结束按原因上报日志/指标/告警，随后立即重连，不做退避。
func (s *Syncer) Run(ctx context.Context) error {
	for {
		err := s.runCycle(ctx)
		if ctx.Err() != nil {
			if s.logger != nil {
				s.logger.Info("sync stopped", zap.String("symbol", s.cfg.Symbol))
			}
			return ctx.Err()
		}

		reason := Classify(err)
		if s.metrics != nil {
			s.metrics.IncResync(s.cfg.Symbol, string(reason))
		}
		if reason == ReasonClosed {
			s.setState(StateClosed)
			if s.logger != nil {
				s.logger.Info("stream closed", zap.String("symbol", s.cfg.Symbol))
			}
			continue
		}

		s.setState(StateFaulted)
		if s.logger != nil {
			s.logger.LogResync(s.cfg.Symbol, string(reason), map[string]interface{}{
				"error": err.Error(),
			})
		}
		if s.alerts != nil {
			_ = s.alerts.SendWarning("orderbook resync", map[string]interface{}{
				"symbol": s.cfg.Symbol,
				"reason": string(reason),
				"error":  err.Error(),
			})
		}
	}
}

// runCycle 执行一次完整的同步周期，返回导致周期结束的错误。
func (s *Syncer) runCycle(ctx context.Context) error {
	s.setState(StateConnecting)
	// 上个周期可能留下半成品状态
	s.book.Clear()

	stream, err := s.dialer.Open(ctx, s.cfg.Symbol)
	if err != nil {
		return fault(FaultConnect, err)
	}
	defer stream.Close()

	// 等流上出现第一条事件：它的 final id 是连续性锚点，事件本身不应用。
	// 快照在锚点之后才拉取，因此至少覆盖到锚点。
	s.setState(StateAwaitingFirstEvent)
	raw, err := stream.Next(s.cfg.StaleTimeout)
	if err != nil {
		return fault(FaultAnchor, err)
	}
	first, err := gateway.ParseDepthEvent(raw)
	if err != nil {
		return fault(FaultAnchor, err)
	}
	lastApplied := first.FinalID
	s.lastApplied.Store(lastApplied)

	if err := ctx.Err(); err != nil {
		return err
	}

	s.setState(StateFetchingSnapshot)
	start := time.Now()
	snap, err := s.snapshots.Fetch(ctx, s.cfg.Symbol)
	if err != nil {
		return fault(FaultSnapshot, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSnapshotLatency(time.Since(start))
	}
	s.book.ApplyBids(snap.Bids)
	s.book.ApplyAsks(snap.Asks)
	if s.metrics != nil {
		nb, na := s.book.Depth()
		bb, ba := s.book.Best()
		s.metrics.ObserveBook(s.cfg.Symbol, nb, na, bb, ba)
	}
	if s.logger != nil {
		s.logger.Debug("snapshot applied",
			zap.String("symbol", s.cfg.Symbol),
			zap.Int64("anchor", lastApplied),
			zap.Int64("snapshotLastUpdateId", snap.LastUpdateID),
			zap.Int("bids", len(snap.Bids)),
			zap.Int("asks", len(snap.Asks)))
	}

	s.setState(StateStreaming)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := stream.Next(s.cfg.StaleTimeout)
		if err != nil {
			if isTimeout(err) {
				return ErrStale
			}
			if errors.Is(err, gateway.ErrStreamEnded) {
				return err
			}
			return fault(FaultStream, err)
		}

		ev, err := gateway.ParseDepthEvent(raw)
		if err != nil {
			// 单条坏消息：上报后跳过，不影响 lastApplied，也不中断周期
			if s.metrics != nil {
				s.metrics.IncParseSkip(s.cfg.Symbol)
			}
			if s.logger != nil {
				s.logger.Debug("skip unparseable message",
					zap.String("symbol", s.cfg.Symbol), zap.Error(err))
			}
			continue
		}

		if ev.FirstID != lastApplied+1 {
			return &SequenceGapError{Expected: lastApplied + 1, Got: ev.FirstID}
		}
		s.book.ApplyBids(ev.Bids)
		s.book.ApplyAsks(ev.Asks)
		lastApplied = ev.FinalID
		s.lastApplied.Store(lastApplied)

		if s.metrics != nil {
			nb, na := s.book.Depth()
			bb, ba := s.book.Best()
			s.metrics.ObserveApplied(s.cfg.Symbol, nb, na, bb, ba)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
