package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了代理运行时在启动阶段需要加载的全部配置。
type Config struct {
	Logger       LoggerConfig       `yaml:"logger"`
	LLM          LLMConfig          `yaml:"llm"`
	Memory       MemoryConfig       `yaml:"memory"`
	Bus          BusConfig          `yaml:"bus"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Budget       BudgetConfig       `yaml:"budget"`
	Briefing     BriefingConfig     `yaml:"briefing"`
	Docs         DocsConfig         `yaml:"docs"`
	Models       ModelsConfig       `yaml:"models"`
	Workers      []WorkerConfig     `yaml:"workers"`
}

// LoggerConfig 控制默认日志与审计日志的输出方式。
type LoggerConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 描述审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LLMConfig 用于配置补全服务的调用方式。API Key 通过环境变量间接引用，
// 避免把密钥写进配置文件。
type LLMConfig struct {
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	DefaultModel   string `yaml:"default_model"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RetryAttempts  int    `yaml:"retry_attempts"`
}

// Timeout 返回补全调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MemoryConfig 选择记忆存储后端。
type MemoryConfig struct {
	Driver string `yaml:"driver"` // memory / file / redis / mysql
	Dir    string `yaml:"dir"`    // file 后端的根目录
	DSN    string `yaml:"dsn"`    // mysql 后端连接串
	Redis  struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// BusConfig 描述消息总线（AMQP）的连接与路由。
type BusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	OutboundQueue string `yaml:"outbound_queue"`
	InboundQueue  string `yaml:"inbound_queue"`
	// ChannelWorkers 把入站频道映射到处理它的 worker。
	ChannelWorkers  map[string]string `yaml:"channel_workers"`
	BriefingChannel string            `yaml:"briefing_channel"`
}

// IntegrationsConfig 汇总外部协作方的凭据。
type IntegrationsConfig struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Search   SearchConfig   `yaml:"search"`
	DocStore DocStoreConfig `yaml:"docstore"`
}

// GitHubConfig 描述仓库巡检所需的信息。
type GitHubConfig struct {
	Token string `yaml:"token_env"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// SearchConfig 描述 Web 搜索协作方。
type SearchConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
}

// DocStoreConfig 描述文档库协作方（目录同步实现）。
type DocStoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// BudgetConfig 是协调者每日调度预算。
type BudgetConfig struct {
	TokenLimit    int `yaml:"token_limit"`
	DispatchLimit int `yaml:"dispatch_limit"`
}

// BriefingConfig 控制每日简报行为。
type BriefingConfig struct {
	CronSpec string `yaml:"cron_spec"`
}

// DocsConfig 指向共享文档目录。
type DocsConfig struct {
	Dir string `yaml:"dir"`
}

// ModelsConfig 把封闭的档位枚举映射到具体模型标识。
type ModelsConfig struct {
	Opus   string `yaml:"opus"`
	Sonnet string `yaml:"sonnet"`
	Haiku  string `yaml:"haiku"`
}

// WorkerConfig 是花名册中单个 worker 的静态描述。
type WorkerConfig struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	InstructionsFile string   `yaml:"instructions_file"`
	Instructions     string   `yaml:"instructions"`
	Model            string   `yaml:"model"`    // opus / sonnet / haiku
	Schedule         string   `yaml:"schedule"` // daily / weekly / biweekly
	ContextIncludes  []string `yaml:"context_includes"`
	Tools            []string `yaml:"tools"`
	DefaultTask      string   `yaml:"default_task"`
	Dispatchable     *bool    `yaml:"dispatchable"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
// 相对路径以配置文件所在目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Logger.Audit.Enabled && c.Logger.Audit.Path == "" {
		c.Logger.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.RetryAttempts <= 0 {
		c.LLM.RetryAttempts = 3
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}

	if c.Memory.Driver == "" {
		c.Memory.Driver = "file"
	}
	if c.Memory.Dir == "" {
		c.Memory.Dir = filepath.Join(baseDir, "memory")
	} else if !filepath.IsAbs(c.Memory.Dir) {
		c.Memory.Dir = filepath.Join(baseDir, c.Memory.Dir)
	}

	if c.Budget.TokenLimit <= 0 {
		c.Budget.TokenLimit = 150_000
	}
	if c.Budget.DispatchLimit <= 0 {
		c.Budget.DispatchLimit = 8
	}

	if c.Briefing.CronSpec == "" {
		c.Briefing.CronSpec = "0 7 * * *"
	}

	if c.Docs.Dir == "" {
		c.Docs.Dir = filepath.Join(baseDir, "docs")
	} else if !filepath.IsAbs(c.Docs.Dir) {
		c.Docs.Dir = filepath.Join(baseDir, c.Docs.Dir)
	}

	if c.Integrations.DocStore.Enabled && c.Integrations.DocStore.Dir == "" {
		c.Integrations.DocStore.Dir = filepath.Join(baseDir, "docstore")
	}

	if c.Models.Opus == "" {
		c.Models.Opus = "claude-opus-4-1-20250805"
	}
	if c.Models.Sonnet == "" {
		c.Models.Sonnet = "claude-sonnet-4-5-20250514"
	}
	if c.Models.Haiku == "" {
		c.Models.Haiku = "claude-haiku-4-5-20251001"
	}
	if c.LLM.DefaultModel == "" {
		c.LLM.DefaultModel = c.Models.Sonnet
	}

	for i := range c.Workers {
		w := &c.Workers[i]
		if w.Model == "" {
			w.Model = "sonnet"
		}
		if w.InstructionsFile != "" && !filepath.IsAbs(w.InstructionsFile) {
			w.InstructionsFile = filepath.Join(baseDir, w.InstructionsFile)
		}
	}
}

// validate 检查明显的配置矛盾，提前失败。
func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Workers))
	for _, w := range c.Workers {
		if w.ID == "" {
			return errors.New("worker 缺少 id")
		}
		if _, ok := seen[w.ID]; ok {
			return fmt.Errorf("worker id 重复: %s", w.ID)
		}
		seen[w.ID] = struct{}{}
		if w.Instructions == "" && w.InstructionsFile == "" {
			return fmt.Errorf("worker %s 既没有内联指令也没有指令文件", w.ID)
		}
		switch w.Model {
		case "opus", "sonnet", "haiku":
		default:
			return fmt.Errorf("worker %s 的模型档位非法: %s", w.ID, w.Model)
		}
		switch w.Schedule {
		case "", "daily", "weekly", "biweekly":
		default:
			return fmt.Errorf("worker %s 的调度周期非法: %s", w.ID, w.Schedule)
		}
	}
	if c.Bus.Enabled && c.Bus.URL == "" {
		return errors.New("启用消息总线时必须提供 url")
	}
	return nil
}

// APIKey 解析补全服务的密钥。
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}
