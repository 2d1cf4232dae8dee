package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"depthbook-go/gateway"
	"depthbook-go/market"
	"depthbook-go/metrics"
)

// timeoutErr 模拟读超时，满足 net.Error。
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type step struct {
	msg []byte
	err error
}

// fakeStream 按脚本回放消息；脚本耗尽后视为对端正常关闭。
type fakeStream struct {
	steps  []step
	closed bool
}

func (f *fakeStream) Next(timeout time.Duration) ([]byte, error) {
	if len(f.steps) == 0 {
		return nil, gateway.ErrStreamEnded
	}
	st := f.steps[0]
	f.steps = f.steps[1:]
	return st.msg, st.err
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type snapshotFunc func(ctx context.Context, symbol string) (*gateway.Snapshot, error)

func (f snapshotFunc) Fetch(ctx context.Context, symbol string) (*gateway.Snapshot, error) {
	return f(ctx, symbol)
}

func eventMsg(first, final int64, bids, asks string) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"depthUpdate","s":"BTCUSDT","U":%d,"u":%d,"b":%s,"a":%s}`,
		first, final, bids, asks))
}

func staticSnapshot(lastID int64, bids, asks []market.Level) snapshotFunc {
	return func(ctx context.Context, symbol string) (*gateway.Snapshot, error) {
		return &gateway.Snapshot{LastUpdateID: lastID, Bids: bids, Asks: asks}, nil
	}
}

func newTestSyncer(stream Stream, snaps SnapshotFetcher) *Syncer {
	return NewSyncer(
		Config{Symbol: "BTCUSDT"},
		Components{
			Book: market.NewBook("BTCUSDT"),
			Dialer: DialerFunc(func(ctx context.Context, symbol string) (Stream, error) {
				return stream, nil
			}),
			Snapshots: snaps,
		},
	)
}

// 规范里的端到端场景：锚点 100，快照 bid(10.0,5)/ask(10.5,3)，
// 事件 101 删掉 bid 10.0、加 ask 10.6。
func TestCycleEndToEnd(t *testing.T) {
	stream := &fakeStream{steps: []step{
		// 锚点事件带档位，但只取 u，不应用
		{msg: eventMsg(98, 100, `[["9.0","9.0"]]`, `[]`)},
		{msg: eventMsg(101, 101, `[["10.0","0.0"]]`, `[["10.6","1.0"]]`)},
	}}
	s := newTestSyncer(stream, staticSnapshot(100,
		[]market.Level{{Price: 10.0, Qty: 5.0}},
		[]market.Level{{Price: 10.5, Qty: 3.0}}))

	err := s.runCycle(context.Background())
	if Classify(err) != ReasonClosed {
		t.Fatalf("expected closed cycle, got %v", err)
	}
	if got := s.LastAppliedID(); got != 101 {
		t.Fatalf("expected last applied 101, got %d", got)
	}

	book := s.Book()
	if bids := book.Bids(); len(bids) != 0 {
		t.Fatalf("expected empty bids (9.0 from anchor must not apply, 10.0 deleted), got %+v", bids)
	}
	asks := book.Asks()
	if len(asks) != 2 || asks[0].Price != 10.5 || asks[0].Qty != 3.0 || asks[1].Price != 10.6 || asks[1].Qty != 1.0 {
		t.Fatalf("unexpected asks %+v", asks)
	}
	if !stream.closed {
		t.Fatal("stream should be closed at cycle end")
	}
}

// 连续序列 [5,6,7] 全部应用；[5,7] 在应用 5 之后、7 之前必须断档。
func TestSequenceContinuity(t *testing.T) {
	stream := &fakeStream{steps: []step{
		{msg: eventMsg(3, 4, `[]`, `[]`)}, // 锚点 u=4
		{msg: eventMsg(5, 5, `[["100","1"]]`, `[]`)},
		{msg: eventMsg(6, 6, `[["101","1"]]`, `[]`)},
		{msg: eventMsg(7, 7, `[["102","1"]]`, `[]`)},
	}}
	s := newTestSyncer(stream, staticSnapshot(4, nil, nil))
	if err := s.runCycle(context.Background()); Classify(err) != ReasonClosed {
		t.Fatalf("expected clean close, got %v", err)
	}
	if nb, _ := s.Book().Depth(); nb != 3 {
		t.Fatalf("expected 3 bid levels, got %d", nb)
	}
	if s.LastAppliedID() != 7 {
		t.Fatalf("expected last applied 7, got %d", s.LastAppliedID())
	}
}

func TestSequenceGapFaults(t *testing.T) {
	stream := &fakeStream{steps: []step{
		{msg: eventMsg(3, 4, `[]`, `[]`)}, // 锚点 u=4
		{msg: eventMsg(5, 5, `[["100","1"]]`, `[]`)},
		{msg: eventMsg(7, 7, `[["102","1"]]`, `[]`)}, // 漏掉 6
	}}
	s := newTestSyncer(stream, staticSnapshot(4, nil, nil))

	err := s.runCycle(context.Background())
	var gap *SequenceGapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected SequenceGapError, got %v", err)
	}
	if gap.Expected != 6 || gap.Got != 7 {
		t.Fatalf("unexpected gap %+v", gap)
	}
	if Classify(err) != FaultGap {
		t.Fatalf("expected sequence_gap classification, got %s", Classify(err))
	}
	// 事件 5 已应用，7 未应用
	bids := s.Book().Bids()
	if len(bids) != 1 || bids[0].Price != 100 {
		t.Fatalf("expected only event 5 applied, got %+v", bids)
	}
}

func TestStalenessFaults(t *testing.T) {
	stream := &fakeStream{steps: []step{
		{msg: eventMsg(98, 100, `[]`, `[]`)},
		{err: timeoutErr{}}, // 超过时限没有新消息
	}}
	s := newTestSyncer(stream, staticSnapshot(100, nil, nil))

	err := s.runCycle(context.Background())
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if Classify(err) != FaultStale {
		t.Fatalf("expected stale classification, got %s", Classify(err))
	}
}

// 坏消息跳过后，原本期望的序列仍然可以应用。
func TestMalformedMessageSkipped(t *testing.T) {
	stream := &fakeStream{steps: []step{
		{msg: eventMsg(98, 100, `[]`, `[]`)},
		{msg: []byte(`{"e":"depthUpdate",`)},                    // 截断 JSON
		{msg: []byte(`{"e":"trade","U":101,"u":101}`)},          // 错误类型
		{msg: eventMsg(101, 101, `[["10.0","2.0"]]`, `[]`)},     // 仍然连续
	}}
	s := newTestSyncer(stream, staticSnapshot(100, nil, nil))

	if err := s.runCycle(context.Background()); Classify(err) != ReasonClosed {
		t.Fatalf("expected clean close, got %v", err)
	}
	if s.LastAppliedID() != 101 {
		t.Fatalf("skipped messages must not advance last applied; got %d", s.LastAppliedID())
	}
	bids := s.Book().Bids()
	if len(bids) != 1 || bids[0].Qty != 2.0 {
		t.Fatalf("expected valid event applied after skips, got %+v", bids)
	}
}

// 快照铺底后 gauge 立即反映簿状态，不用等第一条增量。
func TestSnapshotRefreshesGauges(t *testing.T) {
	stream := &fakeStream{steps: []step{
		{msg: eventMsg(98, 100, `[]`, `[]`)},
	}}
	collector := metrics.NewCollector()
	s := NewSyncer(
		Config{Symbol: "BTCUSDT"},
		Components{
			Book: market.NewBook("BTCUSDT"),
			Dialer: DialerFunc(func(ctx context.Context, symbol string) (Stream, error) {
				return stream, nil
			}),
			Snapshots: staticSnapshot(100,
				[]market.Level{{Price: 10.0, Qty: 5.0}, {Price: 9.9, Qty: 1.0}},
				[]market.Level{{Price: 10.5, Qty: 3.0}}),
			Metrics: collector,
		},
	)
	if err := s.runCycle(context.Background()); Classify(err) != ReasonClosed {
		t.Fatalf("expected clean close, got %v", err)
	}

	if got := testutil.ToFloat64(collector.BookDepth.WithLabelValues("BTCUSDT", "bid")); got != 2 {
		t.Fatalf("expected bid depth gauge 2 after snapshot, got %f", got)
	}
	if got := testutil.ToFloat64(collector.BookDepth.WithLabelValues("BTCUSDT", "ask")); got != 1 {
		t.Fatalf("expected ask depth gauge 1 after snapshot, got %f", got)
	}
	if got := testutil.ToFloat64(collector.BestPrice.WithLabelValues("BTCUSDT", "bid")); got != 10.0 {
		t.Fatalf("expected best bid gauge 10.0 after snapshot, got %f", got)
	}
	if got := testutil.ToFloat64(collector.EventsApplied.WithLabelValues("BTCUSDT")); got != 0 {
		t.Fatalf("snapshot must not count as applied event, got %f", got)
	}
}

func TestConnectFaultClassified(t *testing.T) {
	s := NewSyncer(Config{Symbol: "BTCUSDT"}, Components{
		Book: market.NewBook("BTCUSDT"),
		Dialer: DialerFunc(func(ctx context.Context, symbol string) (Stream, error) {
			return nil, errors.New("connection refused")
		}),
		Snapshots: staticSnapshot(1, nil, nil),
	})
	if err := s.runCycle(context.Background()); Classify(err) != FaultConnect {
		t.Fatalf("expected connect fault, got %v", err)
	}
}

func TestSnapshotFaultClassified(t *testing.T) {
	stream := &fakeStream{steps: []step{{msg: eventMsg(1, 2, `[]`, `[]`)}}}
	s := newTestSyncer(stream, snapshotFunc(func(ctx context.Context, symbol string) (*gateway.Snapshot, error) {
		return nil, errors.New("503")
	}))
	if err := s.runCycle(context.Background()); Classify(err) != FaultSnapshot {
		t.Fatalf("expected snapshot fault, got %v", err)
	}
}

func TestAnchorStreamEndFaults(t *testing.T) {
	stream := &fakeStream{} // 第一条消息都没等到就关了
	s := newTestSyncer(stream, staticSnapshot(1, nil, nil))
	if err := s.runCycle(context.Background()); Classify(err) != FaultAnchor {
		t.Fatalf("expected anchor fault, got %v", err)
	}
}

// Run 在周期结束后立即重连，且新周期先清簿。
func TestRunReconnectsAndClears(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dials := 0
	dialer := DialerFunc(func(ctx context.Context, symbol string) (Stream, error) {
		dials++
		if dials == 1 {
			return &fakeStream{steps: []step{
				{msg: eventMsg(98, 100, `[]`, `[]`)},
				{msg: eventMsg(101, 101, `[["10.0","5.0"]]`, `[]`)},
			}}, nil
		}
		// 第二个周期：清簿后连接失败，然后停机
		cancel()
		return nil, errors.New("connection refused")
	})

	s := NewSyncer(Config{Symbol: "BTCUSDT"}, Components{
		Book:      market.NewBook("BTCUSDT"),
		Dialer:    dialer,
		Snapshots: staticSnapshot(100, nil, nil),
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if dials < 2 {
		t.Fatalf("expected reconnect after clean close, dials=%d", dials)
	}
	// 第二个周期开始时已清簿
	if nb, na := s.Book().Depth(); nb != 0 || na != 0 {
		t.Fatalf("expected cleared book on reconnect, got %d/%d", nb, na)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateConnecting:         "CONNECTING",
		StateAwaitingFirstEvent: "AWAITING_FIRST_EVENT",
		StateFetchingSnapshot:   "FETCHING_SNAPSHOT",
		StateStreaming:          "STREAMING",
		StateClosed:             "CLOSED",
		StateFaulted:            "FAULTED",
	} {
		if st.String() != want {
			t.Fatalf("state %d = %s, want %s", st, st.String(), want)
		}
	}
}
