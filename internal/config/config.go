package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"DeFiIntent-Chain/internal/auth"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "INTENTD_CONFIG"

// Config 描述了 intentd 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   logger.Config   `json:"logging"`
	Pipeline  pipeline.Config `json:"pipeline"`
	Catalog   CatalogConfig   `json:"catalog"`
	Market    MarketConfig    `json:"market"`
	Storage   StorageConfig   `json:"storage"`
	TurnQueue QueueConfig     `json:"turn_queue"`
	Auth      auth.Config     `json:"auth"`
	Alerting  AlertingConfig  `json:"alerting"`
	Metrics   MetricsConfig   `json:"metrics"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" validate:"required"`
}

// CatalogConfig 指向代币、协议与链目录的 YAML 文件，为空时使用内置目录。
type CatalogConfig struct {
	Path string `json:"path"`
}

// MarketConfig 选择行情与账户数据源。
type MarketConfig struct {
	Driver     string            `json:"driver" validate:"oneof=static ethereum"`
	StaticPath string            `json:"static_path"`
	Ethereum   EthereumConfig    `json:"ethereum"`
	Cache      MarketCacheConfig `json:"cache"`
}

// EthereumConfig 包含访问区块链节点所需的 RPC 地址。
type EthereumConfig struct {
	Chain  string `json:"chain"`
	RPCURL string `json:"rpc_url" validate:"omitempty,url"`
}

// MarketCacheConfig 配置 Redis 价格缓存，Address 为空时不启用。
type MarketCacheConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db" validate:"gte=0"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttl_seconds" validate:"gte=0"`
}

// StorageConfig 统一描述持久化后端的连接信息。
type StorageConfig struct {
	TurnStore TurnStoreConfig `json:"turn_store"`
}

// TurnStoreConfig 选择轮次存储实现。
type TurnStoreConfig struct {
	Driver     string `json:"driver" validate:"oneof=memory mysql"`
	DSN        string `json:"dsn" validate:"required_if=Driver mysql"`
	MaxRetries int    `json:"max_retries" validate:"gte=0"`
}

// QueueConfig 选择轮次队列实现。
type QueueConfig struct {
	Driver   string         `json:"driver" validate:"oneof=memory redis rabbitmq"`
	Workers  int            `json:"workers" validate:"gte=0,lte=256"`
	Size     int            `json:"size" validate:"gte=0"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db" validate:"gte=0"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" validate:"gte=0"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch" validate:"gte=0"`
	Durable  bool   `json:"durable"`
}

// AlertingConfig 控制轮次最终失败时的告警推送。
type AlertingConfig struct {
	Enabled     bool   `json:"enabled"`
	MinSeverity string `json:"min_severity" validate:"omitempty,oneof=info warning critical"`
	WebhookURL  string `json:"webhook_url" validate:"omitempty,url"`
	Format      string `json:"format" validate:"omitempty,oneof=webhook slack dingtalk"`
}

// MetricsConfig 控制 Prometheus 指标的暴露路径。
type MetricsConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Path    string `json:"path"`
}

// On 未配置时默认启用。
func (m MetricsConfig) On() bool {
	return m.Enabled == nil || *m.Enabled
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Resolve 返回配置文件路径：显式参数优先，其次为环境变量。
func Resolve(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return os.Getenv(EnvPath)
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回未加载任何文件时的配置。
func Default() *Config {
	cfg := &Config{Pipeline: pipeline.DefaultConfig()}
	cfg.applyDefaults("")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)

	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = "flexible"
	}

	c.Catalog.Path = resolvePath(baseDir, c.Catalog.Path)

	if c.Market.Driver == "" {
		c.Market.Driver = "static"
	}
	c.Market.StaticPath = resolvePath(baseDir, c.Market.StaticPath)
	if c.Market.Ethereum.Chain == "" {
		c.Market.Ethereum.Chain = "ethereum"
	}
	if c.Market.Cache.TTLSeconds == 0 {
		c.Market.Cache.TTLSeconds = 30
	}

	if c.Storage.TurnStore.Driver == "" {
		c.Storage.TurnStore.Driver = "memory"
	}
	if c.Storage.TurnStore.MaxRetries == 0 {
		c.Storage.TurnStore.MaxRetries = 3
	}

	if c.TurnQueue.Driver == "" {
		c.TurnQueue.Driver = "memory"
	}
	if c.TurnQueue.Workers == 0 {
		c.TurnQueue.Workers = 4
	}
	if c.TurnQueue.Size == 0 {
		c.TurnQueue.Size = 256
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = auth.ModeDisabled
	}
	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "warning"
	}
	if c.Alerting.Format == "" {
		c.Alerting.Format = "webhook"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 按结构体标签检查配置，并补充跨字段约束。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s 不满足 %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("配置校验失败: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Market.Driver == "ethereum" && c.Market.Ethereum.RPCURL == "" {
		return errors.New("配置校验失败: market.ethereum.rpc_url 不能为空")
	}
	switch c.TurnQueue.Driver {
	case "redis":
		if c.TurnQueue.Redis.Address == "" {
			return errors.New("配置校验失败: turn_queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.TurnQueue.RabbitMQ.URL == "" {
			return errors.New("配置校验失败: turn_queue.rabbitmq.url 不能为空")
		}
	}
	return nil
}
