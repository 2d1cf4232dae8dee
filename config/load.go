package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"depthbook-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string        `yaml:"env"`
	Gateway     GatewayConfig `yaml:"gateway"`
	Symbols     []string      `yaml:"symbols"`
	Display     DisplayConfig `yaml:"display"`
	Logger      logger.Config `yaml:"logger"`
	MetricsAddr string        `yaml:"metricsAddr"`
}

// GatewayConfig configures the depth stream and snapshot endpoints.
type GatewayConfig struct {
	WSEndpoint          string  `yaml:"wsEndpoint"`          // 默认 binance 现货流地址
	RESTEndpoint        string  `yaml:"restEndpoint"`        // 默认 binance 现货 REST 地址
	StalenessTimeoutSec float64 `yaml:"stalenessTimeoutSec"` // 流静默判死时限，默认 5s
	SnapshotRate        float64 `yaml:"snapshotRate"`        // 快照限流：每秒令牌数
	SnapshotBurst       int     `yaml:"snapshotBurst"`       // 快照限流：最大突发令牌数
}

// StalenessTimeout 返回配置的静默时限。
func (g GatewayConfig) StalenessTimeout() time.Duration {
	return time.Duration(g.StalenessTimeoutSec * float64(time.Second))
}

// DisplayConfig configures the optional console rendering.
type DisplayConfig struct {
	Depth     int `yaml:"depth"`     // 渲染档数，默认 20
	RefreshMs int `yaml:"refreshMs"` // 刷新周期，默认 1000
}

// Load reads YAML config from path, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides endpoint fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("DEPTHBOOK_WS_ENDPOINT"); v != "" {
		cfg.Gateway.WSEndpoint = v
	}
	if v := os.Getenv("DEPTHBOOK_REST_ENDPOINT"); v != "" {
		cfg.Gateway.RESTEndpoint = v
	}
	if v := os.Getenv("DEPTHBOOK_SYMBOLS"); v != "" {
		cfg.Symbols = splitSymbols(v)
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Gateway.StalenessTimeoutSec == 0 {
		cfg.Gateway.StalenessTimeoutSec = 5
	}
	if cfg.Gateway.SnapshotRate == 0 {
		cfg.Gateway.SnapshotRate = 2
	}
	if cfg.Gateway.SnapshotBurst == 0 {
		cfg.Gateway.SnapshotBurst = 5
	}
	if cfg.Display.Depth == 0 {
		cfg.Display.Depth = 20
	}
	if cfg.Display.RefreshMs == 0 {
		cfg.Display.RefreshMs = 1000
	}
	if cfg.Logger.Level == "" {
		cfg.Logger = logger.DefaultConfig()
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols config is required")
	}
	for _, sym := range cfg.Symbols {
		if strings.TrimSpace(sym) == "" {
			return errors.New("symbols must not contain empty entries")
		}
	}
	if cfg.Gateway.StalenessTimeoutSec <= 0 {
		return errors.New("gateway.stalenessTimeoutSec must be > 0")
	}
	if cfg.Gateway.SnapshotRate <= 0 {
		return errors.New("gateway.snapshotRate must be > 0")
	}
	if cfg.Gateway.SnapshotBurst <= 0 {
		return errors.New("gateway.snapshotBurst must be > 0")
	}
	if cfg.Display.Depth <= 0 {
		return errors.New("display.depth must be > 0")
	}
	if cfg.Display.RefreshMs <= 0 {
		return errors.New("display.refreshMs must be > 0")
	}
	return nil
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
