package market

import (
	"sort"
	"sync"
)

// Level 表示一个价位档：价格与挂单数量。
type Level struct {
	Price float64
	Qty   float64
}

// ladder 单侧价位表，price -> qty。
// 锁粒度为单档更新：每次 set 独立加锁，读侧拿快照后排序。
type ladder struct {
	mu     sync.RWMutex
	levels map[float64]float64
}

func newLadder() *ladder {
	return &ladder{levels: make(map[float64]float64)}
}

// set 应用一档绝对数量，qty 为 0 表示删除该档。
func (l *ladder) set(price, qty float64) {
	l.mu.Lock()
	if qty == 0 {
		delete(l.levels, price)
	} else {
		l.levels[price] = qty
	}
	l.mu.Unlock()
}

// applyAll 逐档应用；各档独立进入临界区，批次整体不保证原子。
func (l *ladder) applyAll(levels []Level) {
	for _, lv := range levels {
		l.set(lv.Price, lv.Qty)
	}
}

func (l *ladder) clear() {
	l.mu.Lock()
	l.levels = make(map[float64]float64)
	l.mu.Unlock()
}

func (l *ladder) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.levels)
}

// view 返回排序后的快照；desc 为 true 时价格降序。
// n <= 0 表示返回全部。
func (l *ladder) view(desc bool, n int) []Level {
	l.mu.RLock()
	out := make([]Level, 0, len(l.levels))
	for p, q := range l.levels {
		out = append(out, Level{Price: p, Qty: q})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Book 维护单个交易对的双侧订单簿。
// 引擎任务独占写入；任意数量的读者可随时读取。
type Book struct {
	symbol string
	bids   *ladder
	asks   *ladder
}

func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   newLadder(),
		asks:   newLadder(),
	}
}

func (b *Book) Symbol() string { return b.symbol }

// ApplyBids 按顺序应用买侧档位，qty 为 0 删除该档。
func (b *Book) ApplyBids(levels []Level) { b.bids.applyAll(levels) }

// ApplyAsks 按顺序应用卖侧档位，qty 为 0 删除该档。
func (b *Book) ApplyAsks(levels []Level) { b.asks.applyAll(levels) }

// Clear 清空双侧；重连周期开始时调用，旧状态可能已失效。
func (b *Book) Clear() {
	b.bids.clear()
	b.asks.clear()
}

// TopBids 返回买侧前 n 档，价格降序（最优在前）。
func (b *Book) TopBids(n int) []Level { return b.bids.view(true, n) }

// TopAsks 返回卖侧前 n 档，价格升序（最优在前）。
func (b *Book) TopAsks(n int) []Level { return b.asks.view(false, n) }

// Bids 返回全部买侧档位，价格降序。
func (b *Book) Bids() []Level { return b.bids.view(true, 0) }

// Asks 返回全部卖侧档位，价格升序。
func (b *Book) Asks() []Level { return b.asks.view(false, 0) }

// Depth 返回双侧档位数。
func (b *Book) Depth() (bids, asks int) {
	return b.bids.len(), b.asks.len()
}

// Best 返回最好买/卖价；若不存在则为 0。
func (b *Book) Best() (bestBid, bestAsk float64) {
	if top := b.bids.view(true, 1); len(top) > 0 {
		bestBid = top[0].Price
	}
	if top := b.asks.view(false, 1); len(top) > 0 {
		bestAsk = top[0].Price
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (b *Book) Mid() float64 {
	bid, ask := b.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}
