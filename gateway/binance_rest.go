package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BinanceRESTEndpoint 现货 REST 默认地址。
const BinanceRESTEndpoint = "https://api.binance.com"

// SnapshotClient 拉取订单簿快照；HTTPClient 可注入 httptest。
// Limiter 可选，限制重连风暴下对快照接口的请求频率。
type SnapshotClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

// Fetch 调用 /api/v3/depth 获取整簿快照。
func (c *SnapshotClient) Fetch(ctx context.Context, symbol string) (*Snapshot, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	base := c.BaseURL
	if base == "" {
		base = BinanceRESTEndpoint
	}
	endpoint := base + "/api/v3/depth?symbol=" + url.QueryEscape(strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("snapshot status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(body)
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
