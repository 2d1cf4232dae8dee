package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"depthbook-go/market"
)

// ErrMalformed 消息结构或数值不符合 binance 深度协议。
var ErrMalformed = errors.New("malformed message")

// DepthEvent 一条增量深度事件。
// 每档是该价位的绝对替换数量，不是相对调整；qty 为 0 表示删除。
type DepthEvent struct {
	Symbol    string
	EventTime int64
	FirstID   int64 // U：本事件覆盖的首个 update id
	FinalID   int64 // u：本事件覆盖的末个 update id
	Bids      []market.Level
	Asks      []market.Level
}

// Snapshot REST 深度快照，整簿的某一时点视图。
type Snapshot struct {
	LastUpdateID int64
	Bids         []market.Level
	Asks         []market.Level
}

// binance 把价格/数量编码为字符串。
type wsDepthPayload struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FirstID   int64       `json:"U"`
	FinalID   int64       `json:"u"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

type restDepthPayload struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// ParseDepthEvent 解析一条 @depth 流消息。
// 解析失败返回包裹 ErrMalformed 的错误，由调用方决定跳过还是中止。
func ParseDepthEvent(raw []byte) (*DepthEvent, error) {
	var p wsDepthPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.EventType != "depthUpdate" {
		return nil, fmt.Errorf("%w: unexpected event type %q", ErrMalformed, p.EventType)
	}
	if p.FirstID <= 0 || p.FinalID < p.FirstID {
		return nil, fmt.Errorf("%w: bad update id range [%d,%d]", ErrMalformed, p.FirstID, p.FinalID)
	}
	bids, err := parseLevels(p.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: bids: %v", ErrMalformed, err)
	}
	asks, err := parseLevels(p.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: asks: %v", ErrMalformed, err)
	}
	return &DepthEvent{
		Symbol:    p.Symbol,
		EventTime: p.EventTime,
		FirstID:   p.FirstID,
		FinalID:   p.FinalID,
		Bids:      bids,
		Asks:      asks,
	}, nil
}

// ParseSnapshot 解析 /api/v3/depth 响应体。
func ParseSnapshot(raw []byte) (*Snapshot, error) {
	var p restDepthPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.LastUpdateID <= 0 {
		return nil, fmt.Errorf("%w: bad lastUpdateId %d", ErrMalformed, p.LastUpdateID)
	}
	bids, err := parseLevels(p.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: bids: %v", ErrMalformed, err)
	}
	asks, err := parseLevels(p.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: asks: %v", ErrMalformed, err)
	}
	return &Snapshot{LastUpdateID: p.LastUpdateID, Bids: bids, Asks: asks}, nil
}

// parseLevels 转换 [price, qty] 字符串对；价格必须为正有限值，数量非负有限值。
func parseLevels(pairs [][2]string) ([]market.Level, error) {
	out := make([]market.Level, 0, len(pairs))
	for _, pair := range pairs {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad price %q", pair[0])
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad qty %q", pair[1])
		}
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return nil, fmt.Errorf("price %v out of range", price)
		}
		if math.IsNaN(qty) || math.IsInf(qty, 0) || qty < 0 {
			return nil, fmt.Errorf("qty %v out of range", qty)
		}
		out = append(out, market.Level{Price: price, Qty: qty})
	}
	return out, nil
}
