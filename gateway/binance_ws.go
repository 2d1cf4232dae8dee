package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// BinanceWSEndpoint 现货深度流默认地址。
const BinanceWSEndpoint = "wss://stream.binance.com:9443"

// ErrStreamEnded 对端正常关闭了流；不算错误，调用方照常重连。
var ErrStreamEnded = errors.New("stream ended")

// StreamDialer 为单个交易对建立 @depth 增量流连接。
type StreamDialer struct {
	Endpoint string // 默认 wss://stream.binance.com:9443
	Dialer   *websocket.Dialer
}

func NewStreamDialer(endpoint string) *StreamDialer {
	if endpoint == "" {
		endpoint = BinanceWSEndpoint
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = 10 * time.Second
	return &StreamDialer{Endpoint: endpoint, Dialer: &d}
}

// StreamURL 返回交易对的订阅地址，符号转小写。
func (d *StreamDialer) StreamURL(symbol string) string {
	return d.Endpoint + "/ws/" + strings.ToLower(symbol) + "@depth"
}

// Open 建立连接；失败由调用方决定是否重试。
func (d *StreamDialer) Open(ctx context.Context, symbol string) (*DepthStream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, d.StreamURL(symbol), nil)
	if err != nil {
		return nil, fmt.Errorf("dial depth stream: %w", err)
	}
	return &DepthStream{conn: conn}, nil
}

// DepthStream 一条已建立的深度流连接。
type DepthStream struct {
	conn *websocket.Conn
}

// Next 等待下一条原始消息，最多等待 timeout（<=0 表示不限时）。
// 超时返回的错误满足 net.Error 且 Timeout() 为 true；
// 对端正常关闭返回 ErrStreamEnded。
func (s *DepthStream) Next(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrStreamEnded
		}
		return nil, err
	}
	return msg, nil
}

func (s *DepthStream) Close() error {
	return s.conn.Close()
}
