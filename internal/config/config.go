// Package config 加载服务启动所需的 YAML 配置。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config 描述 AgentFlows 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	LLM      LLMConfig      `yaml:"llm"`
	Store    StoreConfig    `yaml:"store"`
	Queue    QueueConfig    `yaml:"queue"`
	Memory   MemoryConfig   `yaml:"memory"`
	Flows    FlowsConfig    `yaml:"flows"`
	Alerting AlertingConfig `yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听参数。
type ServerConfig struct {
	Address string `yaml:"address"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `yaml:"metrics_address"`
}

// AuthConfig 配置 API 的认证方式。
type AuthConfig struct {
	Mode   string           `yaml:"mode"`
	Tokens []AuthTokenEntry `yaml:"tokens"`
	JWT    AuthJWTConfig    `yaml:"jwt"`
}

// AuthTokenEntry 是 static 模式下的一条令牌记录。
type AuthTokenEntry struct {
	Token       string   `yaml:"token"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// AuthJWTConfig 是 jwt 模式的签发参数。
type AuthJWTConfig struct {
	Secret    string `yaml:"secret"`
	Issuer    string `yaml:"issuer"`
	AccessTTL int64  `yaml:"access_ttl"`
}

// LoggingConfig 映射到 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LLMConfig 声明可用的大模型后端。
type LLMConfig struct {
	// DefaultBackend 是流配置未显式指定后端时的选择。
	DefaultBackend string          `yaml:"default_backend"`
	Backends       []BackendConfig `yaml:"backends"`
}

// BackendConfig 是一个命名后端的配置。
type BackendConfig struct {
	Name     string        `yaml:"name"`
	Provider string        `yaml:"provider"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Script   ScriptBackend `yaml:"script"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ScriptBackend 描述通过外部脚本推理的参数。
type ScriptBackend struct {
	Interpreter string `yaml:"interpreter"`
	Path        string `yaml:"path"`
	WorkingDir  string `yaml:"working_dir"`
}

// StoreConfig 选择运行状态的持久化后端。
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// QueueConfig 选择运行队列的实现。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

// MemoryConfig 选择对话记忆的存储实现。
type MemoryConfig struct {
	Driver   string      `yaml:"driver"`
	Limit    int         `yaml:"limit"`
	TTLHours int         `yaml:"ttl_hours"`
	Redis    RedisConfig `yaml:"redis"`
}

// FlowsConfig 控制流配置的加载与启动器行为。
type FlowsConfig struct {
	// Dir 存放流配置 YAML 文件，文件名（去扩展名）即流名称。
	Dir string `yaml:"dir"`
	// Default 是请求未指定流名称时的回退流。
	Default string `yaml:"default"`
	// MaxRetries 是跨进程的运行重试上限。
	MaxRetries int `yaml:"max_retries"`
	// BatchRetries 是容错模式下单次运行内部的尝试次数。
	BatchRetries int `yaml:"batch_retries"`
	// RetryIntervalSeconds 是两次尝试之间的等待秒数。
	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`
	// RunTimeoutSeconds 限制单次流执行的时长，默认 300 秒。
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`
	// MaxRounds 非零时覆盖流配置中的 max_rounds 参数。
	MaxRounds int `yaml:"max_rounds"`
	// Workers 是处理器的消费协程数。
	Workers int `yaml:"workers"`
}

// AlertingConfig 配置告警通知渠道。
type AlertingConfig struct {
	DingTalkWebhook string `yaml:"dingtalk_webhook"`
	SlackWebhook    string `yaml:"slack_webhook"`
	SlackChannel    string `yaml:"slack_channel"`
}

// Load 解析指定路径的 YAML 配置文件，未知字段视为错误。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

// Parse 解析配置内容，供测试与 Load 复用。
func Parse(content []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，
// 并把相对路径解析到配置文件所在目录。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 1024
	}
	if c.Memory.Driver == "" {
		c.Memory.Driver = "memory"
	}
	if c.Memory.Limit <= 0 {
		c.Memory.Limit = 100
	}

	if c.LLM.DefaultBackend == "" && len(c.LLM.Backends) == 1 {
		c.LLM.DefaultBackend = c.LLM.Backends[0].Name
	}
	for i := range c.LLM.Backends {
		backend := &c.LLM.Backends[i]
		if backend.Provider == "script" {
			if backend.Script.Interpreter == "" {
				backend.Script.Interpreter = "python3"
			}
			backend.Script.WorkingDir = resolvePath(baseDir, backend.Script.WorkingDir)
			if backend.Script.WorkingDir == "" {
				backend.Script.WorkingDir = baseDir
			}
		}
	}

	if c.Flows.Dir == "" {
		c.Flows.Dir = "flows"
	}
	c.Flows.Dir = resolvePath(baseDir, c.Flows.Dir)
	if c.Flows.MaxRetries <= 0 {
		c.Flows.MaxRetries = 3
	}
	if c.Flows.BatchRetries <= 0 {
		c.Flows.BatchRetries = 1
	}
	if c.Flows.RetryIntervalSeconds <= 0 {
		c.Flows.RetryIntervalSeconds = 2
	}
	if c.Flows.RunTimeoutSeconds <= 0 {
		c.Flows.RunTimeoutSeconds = 300
	}
	if c.Flows.Workers <= 0 {
		c.Flows.Workers = 4
	}
}

// Validate 检查关键字段之间的一致性。
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" {
			return errors.New("mysql 存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Store.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Addr == "" {
			return errors.New("redis 队列需要配置 addr")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 队列需要配置 url")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}

	switch c.Memory.Driver {
	case "memory":
	case "redis":
		if c.Memory.Redis.Addr == "" {
			return errors.New("redis 记忆存储需要配置 addr")
		}
	default:
		return fmt.Errorf("不支持的记忆驱动: %s", c.Memory.Driver)
	}

	names := make(map[string]struct{}, len(c.LLM.Backends))
	for _, backend := range c.LLM.Backends {
		if backend.Name == "" {
			return errors.New("后端配置缺少 name")
		}
		if _, dup := names[backend.Name]; dup {
			return fmt.Errorf("后端名称重复: %s", backend.Name)
		}
		names[backend.Name] = struct{}{}
		switch backend.Provider {
		case "openai":
			if backend.OpenAI.APIKey == "" {
				return fmt.Errorf("后端 %s 缺少 api_key", backend.Name)
			}
		case "script":
			if backend.Script.Path == "" {
				return fmt.Errorf("后端 %s 缺少脚本路径", backend.Name)
			}
		default:
			return fmt.Errorf("后端 %s 使用了不支持的 provider: %s", backend.Name, backend.Provider)
		}
	}
	if c.LLM.DefaultBackend != "" {
		if _, ok := names[c.LLM.DefaultBackend]; !ok {
			return fmt.Errorf("默认后端 %s 未在 backends 中声明", c.LLM.DefaultBackend)
		}
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
