// Package config loads and validates the assistant configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/audit"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/auth"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/background"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/orchestrator"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/ratelimit"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/tools"
)

// Config is the main configuration structure for the assistant service.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Database     DatabaseConfig      `yaml:"database"`
	Cache        CacheConfig         `yaml:"cache"`
	LLM          LLMConfig           `yaml:"llm"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Tools        ToolsConfig         `yaml:"tools"`
	Autonomy     AutonomyConfig      `yaml:"autonomy"`
	Auth         auth.Config         `yaml:"auth"`
	RateLimit    ratelimit.Config    `yaml:"rate_limit"`
	Audit        audit.Config        `yaml:"audit"`
	Background   background.Config   `yaml:"background"`
	Logging      LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig selects the conversation store. Backend "postgres" uses the
// DSN; "memory" keeps conversations in-process and loses them on restart.
type DatabaseConfig struct {
	Backend         string        `yaml:"backend"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig selects the response cache KV. Backend "sqlite" persists to
// Path; "memory" is an in-process LRU; "off" disables caching.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	Path    string        `yaml:"path"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type ToolsConfig struct {
	Executor tools.ExecutorConfig `yaml:"executor"`
	Website  tools.WebsiteConfig  `yaml:"website"`
}

// AutonomyConfig points at the external policy service scoring tool calls.
// An empty URL means no policy service: every tool call is held for
// confirmation.
type AutonomyConfig struct {
	PolicyURL string        `yaml:"policy_url"`
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in the
// file body are expanded before parsing so secrets stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Database.Backend != "memory" && c.Database.Backend != "postgres" {
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database backend postgres requires a dsn")
	}
	switch c.Cache.Backend {
	case "memory", "off":
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache backend sqlite requires a path")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("default llm provider %q is not configured", c.LLM.DefaultProvider)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Streaming responses hold the connection open for the whole turn.
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	if cfg.Database.Backend == "" {
		cfg.Database.Backend = "memory"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 1000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "openai"
	}
	if len(cfg.LLM.Providers) == 0 {
		// Zero-config development path: credentials come from the
		// environment.
		cfg.LLM.Providers = map[string]LLMProviderConfig{
			cfg.LLM.DefaultProvider: {APIKey: os.Getenv("OPENAI_API_KEY")},
		}
	}

	applyOrchestratorDefaults(&cfg.Orchestrator)

	if cfg.Tools.Executor.MaxConcurrency == 0 {
		cfg.Tools.Executor.MaxConcurrency = 5
	}
	if cfg.Tools.Executor.CallTimeout == 0 {
		cfg.Tools.Executor.CallTimeout = 30 * time.Second
	}
	if cfg.Tools.Website.MaxChars == 0 {
		cfg.Tools.Website.MaxChars = 10000
	}
	if cfg.Tools.Website.Timeout == 0 {
		cfg.Tools.Website.Timeout = 15 * time.Second
	}

	if cfg.Autonomy.Threshold == 0 {
		cfg.Autonomy.Threshold = 0.85
	}
	if cfg.Autonomy.Timeout == 0 {
		cfg.Autonomy.Timeout = 5 * time.Second
	}

	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}

	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 20
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}

	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1000
	}

	if cfg.Background.Workers == 0 {
		cfg.Background.Workers = 4
	}
	if cfg.Background.QueueSize == 0 {
		cfg.Background.QueueSize = 256
	}
	if cfg.Background.DrainTimeout == 0 {
		cfg.Background.DrainTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyOrchestratorDefaults(cfg *orchestrator.Config) {
	defaults := orchestrator.DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaults.MaxRounds
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaults.Temperature
	}
	if cfg.ReasoningMaxTokens == 0 {
		cfg.ReasoningMaxTokens = defaults.ReasoningMaxTokens
	}
	if cfg.ReasoningTemperature == 0 {
		cfg.ReasoningTemperature = defaults.ReasoningTemperature
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}
	if cfg.ReplayDelay == 0 {
		cfg.ReplayDelay = defaults.ReplayDelay
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaults.SystemPrompt
	}
}
