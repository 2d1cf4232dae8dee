package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRegistry() *Registry {
	return NewRegistry(RegistryConfig{
		Dialer: DialerFunc(func(ctx context.Context, symbol string) (Stream, error) {
			// 拨号永远失败，任务热循环直到取消
			return nil, errors.New("connection refused")
		}),
		Snapshots: staticSnapshot(1, nil, nil),
	})
}

func TestTrackIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newTestRegistry()
	b1 := r.Track(ctx, "btcusdt")
	b2 := r.Track(ctx, "BTCUSDT")
	if b1 != b2 {
		t.Fatal("expected same book for same symbol regardless of case")
	}
	if b1.Symbol() != "BTCUSDT" {
		t.Fatalf("expected normalized symbol, got %s", b1.Symbol())
	}

	r.Track(ctx, "ethusdt")
	syms := r.Symbols()
	if len(syms) != 2 || syms[0] != "BTCUSDT" || syms[1] != "ETHUSDT" {
		t.Fatalf("unexpected symbols %v", syms)
	}

	if _, ok := r.Book("ETHUSDT"); !ok {
		t.Fatal("expected tracked book")
	}
	if _, ok := r.Book("SOLUSDT"); ok {
		t.Fatal("expected untracked symbol to be absent")
	}
}

func TestWaitStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestRegistry()
	r.Track(ctx, "BTCUSDT")
	r.Track(ctx, "ETHUSDT")

	cancel()
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}
