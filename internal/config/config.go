package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"CoinKeep/pkg/logger"
)

// EnvWalletKeys 指定从环境变量读取钱包签名私钥（逗号分隔的十六进制）。
const EnvWalletKeys = "COINKEEP_WALLET_KEYS"

// Config 描述了 CoinKeep 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Web3    Web3Config    `json:"web3"`
	Events  EventsConfig  `json:"events"`
	Auth    AuthConfig    `json:"auth"`
	Notify  NotifyConfig  `json:"notify"`
	Logging logger.Config `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsEnabled *bool  `json:"metrics_enabled"`
}

// StorageConfig 描述键值存储后端。driver 可选 memory、file、mysql、redis。
type StorageConfig struct {
	Driver    string      `json:"driver"`
	AgentsKey string      `json:"agents_key"`
	UserKey   string      `json:"user_key"`
	File      FileConfig  `json:"file"`
	MySQL     MySQLConfig `json:"mysql"`
	Redis     RedisConfig `json:"redis"`
}

// FileConfig 对应浏览器 localStorage 的本地文件实现。
type FileConfig struct {
	Path string `json:"path"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// Web3Config 描述钱包 provider 与链目录。
type Web3Config struct {
	// Provider 为空或 "none" 时表示没有可用的钱包 provider。
	Provider            string   `json:"provider"`
	ChainConfig         string   `json:"chain_config"`
	DefaultChainID      uint64   `json:"default_chain_id"`
	PrivateKeys         []string `json:"private_keys"`
	PollIntervalSeconds int      `json:"poll_interval_seconds"`
}

// EventsConfig 描述智能体事件流的队列驱动。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列。
type RedisQueue struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AuthConfig 描述 SIWE 消息中的站点信息。
type AuthConfig struct {
	Domain    string `json:"domain"`
	URI       string `json:"uri"`
	Statement string `json:"statement"`
	// Required 为 true 时 API 拒绝未登录的请求。
	Required bool `json:"required"`
}

// NotifyConfig 控制提示消息的保留数量。
type NotifyConfig struct {
	History int `json:"history"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回未提供配置文件时使用的配置。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	return cfg
}

// ConnMaxLifetime 将秒数转换为 time.Duration。
func (m MySQLConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(m.ConnMaxLifetimeSeconds) * time.Second
}

// MetricsOn 报告是否暴露 /metrics，未配置时默认开启。
func (s ServerConfig) MetricsOn() bool {
	return s.MetricsEnabled == nil || *s.MetricsEnabled
}

func (c *Config) applyEnv() {
	raw := strings.TrimSpace(os.Getenv(EnvWalletKeys))
	if raw == "" {
		return
	}
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			c.Web3.PrivateKeys = append(c.Web3.PrivateKeys, key)
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.AgentsKey == "" {
		c.Storage.AgentsKey = "coinkeep_agents"
	}
	if c.Storage.UserKey == "" {
		c.Storage.UserKey = "ck_user"
	}
	if c.Storage.File.Path == "" {
		c.Storage.File.Path = filepath.Join(c.Runtime.DataDir, "local_storage.json")
	} else if !filepath.IsAbs(c.Storage.File.Path) {
		c.Storage.File.Path = filepath.Join(baseDir, c.Storage.File.Path)
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "coinkeep:"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.DefaultChainID == 0 {
		c.Web3.DefaultChainID = 1
	}
	if c.Web3.PollIntervalSeconds <= 0 {
		c.Web3.PollIntervalSeconds = 4
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
	if c.Events.Redis.Queue == "" {
		c.Events.Redis.Queue = "coinkeep:agent-events"
	}
	if c.Events.Redis.BlockWait <= 0 {
		c.Events.Redis.BlockWait = 5
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "coinkeep.agent-events"
	}

	if c.Auth.Domain == "" {
		c.Auth.Domain = "localhost:8080"
	}
	if c.Auth.URI == "" {
		c.Auth.URI = "http://" + c.Auth.Domain
	}
	if c.Auth.Statement == "" {
		c.Auth.Statement = "Sign in to CoinKeep Business Dashboard"
	}

	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Notify.History <= 0 {
		c.Notify.History = 50
	}
}
