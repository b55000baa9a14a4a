package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 描述了 reviewd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Log      LogConfig      `json:"log" yaml:"log"`
	AWS      AWSConfig      `json:"aws" yaml:"aws"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Blob     BlobConfig     `json:"blob" yaml:"blob"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Jobs     JobsConfig     `json:"jobs" yaml:"jobs"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address" yaml:"address"`
	AllowedOrigin  string `json:"allowed_origin" yaml:"allowed_origin"`
	MetricsPath    string `json:"metrics_path" yaml:"metrics_path"`
	// MetricsAddress 非空时指标改由独立端口暴露，API 端口不再挂载 MetricsPath。
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// LogConfig 对应 pkg/logger 的配置项。
type LogConfig struct {
	Level   string         `json:"level" yaml:"level"`
	Format  string         `json:"format" yaml:"format"`
	Outputs []string       `json:"outputs" yaml:"outputs"`
	Audit   AuditLogConfig `json:"audit" yaml:"audit"`
}

// AuditLogConfig 控制审计日志的落盘与滚动。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// AWSConfig 是 Bedrock 与 S3 共享的区域与端点。
type AWSConfig struct {
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LLMConfig 用于配置模型调用后端。
type LLMConfig struct {
	Backend               string               `json:"backend" yaml:"backend"`
	REST                  RESTBackendConfig    `json:"rest" yaml:"rest"`
	AlternateSchemaModels []string             `json:"alternate_schema_models" yaml:"alternate_schema_models"`
	CircuitBreaker        CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// RESTBackendConfig 描述兼容 Bedrock 调用路径的 HTTP 后端。
type RESTBackendConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// CircuitBreakerConfig 对应 llm/breaker 的参数。
type CircuitBreakerConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	MaxRequests      uint32 `json:"max_requests" yaml:"max_requests"`
	IntervalSeconds  int    `json:"interval_seconds" yaml:"interval_seconds"`
	TimeoutSeconds   int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	FailureThreshold uint32 `json:"failure_threshold" yaml:"failure_threshold"`
	MaxBreakers      int    `json:"max_breakers" yaml:"max_breakers"`
}

// BlobConfig 描述上传文档的对象存储。
type BlobConfig struct {
	Driver    string `json:"driver" yaml:"driver"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	PathStyle bool   `json:"path_style" yaml:"path_style"`
	Dir       string `json:"dir" yaml:"dir"`
}

// RegistryConfig 描述上传记录的存储方式。
type RegistryConfig struct {
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// JobsConfig 控制异步生成任务。
type JobsConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Workers int            `json:"workers" yaml:"workers"`
	Store   JobStoreConfig `json:"store" yaml:"store"`
	Queue   QueueConfig    `json:"queue" yaml:"queue"`
}

// JobStoreConfig 选择任务存储实现。
type JobStoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// QueueConfig 选择任务队列实现。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Queue    string `json:"queue" yaml:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
	Durable  bool   `json:"durable" yaml:"durable"`
}

// AlertingConfig 控制任务失败告警。
type AlertingConfig struct {
	Log        bool   `json:"log" yaml:"log"`
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的 JSON 或 YAML 配置文件，随后应用环境变量与默认值。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := decode(path, content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	case ".json", "":
		return json.Unmarshal(content, cfg)
	default:
		return fmt.Errorf("不支持的配置文件格式: %s", filepath.Ext(path))
	}
}

// applyEnv 用环境变量覆盖配置文件中的值。
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("S3_BUCKET_NAME"); ok {
		c.Blob.Bucket = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("AWS_REGION"); ok && v != "" {
		c.AWS.Region = v
	}
	if v, ok := os.LookupEnv("REVIEWD_ADDR"); ok && v != "" {
		c.Server.Address = v
	}
	if v, ok := os.LookupEnv("REVIEWD_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.AllowedOrigin == "" {
		c.Server.AllowedOrigin = "*"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 32 << 20
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}

	if c.LLM.Backend == "" {
		c.LLM.Backend = "bedrock"
	}
	if c.LLM.REST.TimeoutSeconds <= 0 {
		c.LLM.REST.TimeoutSeconds = 60
	}
	cb := &c.LLM.CircuitBreaker
	if cb.MaxRequests == 0 {
		cb.MaxRequests = 1
	}
	if cb.TimeoutSeconds <= 0 {
		cb.TimeoutSeconds = 30
	}
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.MaxBreakers <= 0 {
		cb.MaxBreakers = 32
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Log.Audit.Enabled {
		if c.Log.Audit.Path == "" {
			c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
		} else if !filepath.IsAbs(c.Log.Audit.Path) {
			c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
		}
	}

	if c.Blob.Driver == "" {
		c.Blob.Driver = "s3"
	}
	if c.Blob.Endpoint == "" {
		c.Blob.Endpoint = c.AWS.Endpoint
	}
	if c.Blob.Dir == "" {
		c.Blob.Dir = filepath.Join(c.Runtime.DataDir, "blobs")
	} else if !filepath.IsAbs(c.Blob.Dir) {
		c.Blob.Dir = filepath.Join(baseDir, c.Blob.Dir)
	}

	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.DataDir == "" {
		c.Registry.DataDir = c.Runtime.DataDir
	}

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.Store.Driver == "" {
		c.Jobs.Store.Driver = "memory"
	}
	if c.Jobs.Queue.Driver == "" {
		c.Jobs.Queue.Driver = "memory"
	}
	if c.Jobs.Queue.Buffer <= 0 {
		c.Jobs.Queue.Buffer = 256
	}
}

// Validate 检查驱动取值与必填项。
func (c *Config) Validate() error {
	if err := oneOf("llm.backend", c.LLM.Backend, "bedrock", "rest"); err != nil {
		return err
	}
	if c.LLM.Backend == "rest" && c.LLM.REST.BaseURL == "" {
		return fmt.Errorf("llm.rest.base_url 不能为空")
	}
	if err := oneOf("blob.driver", c.Blob.Driver, "s3", "file"); err != nil {
		return err
	}
	if err := oneOf("registry.driver", c.Registry.Driver, "memory", "mysql"); err != nil {
		return err
	}
	if c.Registry.Driver == "mysql" && c.Registry.DSN == "" {
		return fmt.Errorf("registry.dsn 不能为空")
	}
	if !c.Jobs.Enabled {
		return nil
	}
	if err := oneOf("jobs.store.driver", c.Jobs.Store.Driver, "memory", "mysql"); err != nil {
		return err
	}
	if c.Jobs.Store.Driver == "mysql" && c.Jobs.Store.DSN == "" {
		return fmt.Errorf("jobs.store.dsn 不能为空")
	}
	if err := oneOf("jobs.queue.driver", c.Jobs.Queue.Driver, "memory", "redis", "rabbitmq"); err != nil {
		return err
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s 取值无效: %q（可选 %s）", field, value, strings.Join(allowed, "|"))
}
