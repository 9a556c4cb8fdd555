// Package config loads, validates and serves the runtime configuration.
// Config files are JSON with comments allowed; secrets come from an
// encrypted secrets file or the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/jsonc"

	"proxie/pkg/logx"
)

// Defaults.
const (
	DefaultConfigFile     = "proxie.json"
	DefaultPrimaryModel   = "google/gemini-2.0-flash"
	DefaultFallbackModel  = "anthropic/claude-sonnet-4-5"
	DefaultMaxToolRounds  = 5
	DefaultServerAddr     = ":8080"
	DefaultDatabasePath   = "proxie.db"
	DefaultSessionsFile   = "sessions.json"
	DefaultRateLimit      = 30
	DefaultAsyncWorkers   = 4
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultMCPAddr        = "127.0.0.1:8090"
)

// Session store backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendFile   = "file"
	SessionBackendMemory = "memory"
)

// Env var names.
const (
	EnvChatAPIKey = "CHAT_API_KEY"
	EnvMCPAPIKey  = "MCP_API_KEY"
	EnvMockLLM    = "PROXIE_MOCK_LLM"
)

// Duration marshals as a Go duration string ("30s", "5m").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String()) //nolint:wrapcheck // stdlib passthrough
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Second)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("duration: unsupported value %v", raw)
	}
	return nil
}

// Std returns the value as time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Price is a per-million-token price pair in USD.
type Price struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// RetryConfig mirrors the retry middleware settings.
type RetryConfig struct {
	MaxAttempts   int      `json:"max_attempts"`
	InitialDelay  Duration `json:"initial_delay"`
	MaxDelay      Duration `json:"max_delay"`
	BackoffFactor float64  `json:"backoff_factor"`
	Jitter        bool     `json:"jitter"`
}

// CircuitBreakerConfig mirrors the circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold"`
	Timeout          Duration `json:"timeout"`
}

// RateLimitConfig caps the request rate of one provider. Zero values
// disable the corresponding limit.
type RateLimitConfig struct {
	TokensPerMinute int      `json:"tokens_per_minute"`
	MaxConcurrency  int      `json:"max_concurrency"`
	MaxWait         Duration `json:"max_wait"`
}

// ResilienceConfig groups per-provider resilience settings.
type ResilienceConfig struct {
	Retry          RetryConfig                `json:"retry"`
	CircuitBreaker CircuitBreakerConfig       `json:"circuit_breaker"`
	RateLimit      map[string]RateLimitConfig `json:"rate_limit,omitempty"`
}

// LLMConfig configures the gateway.
type LLMConfig struct {
	Primary         string           `json:"primary"`
	Fallback        string           `json:"fallback"`
	Mock            bool             `json:"mock"`
	CacheEnabled    bool             `json:"cache_enabled"`
	CacheBackend    string           `json:"cache_backend"` // memory | sqlite
	CacheTTL        Duration         `json:"cache_ttl"`
	CallTimeout     Duration         `json:"call_timeout"`
	Temperature     float64          `json:"temperature"`
	MaxTokens       int              `json:"max_tokens"`
	SessionLimitUSD float64          `json:"session_limit_usd"`
	DailyLimitUSD   float64          `json:"daily_limit_usd"`
	Pricing         map[string]Price `json:"pricing,omitempty"`
	Resilience      ResilienceConfig `json:"resilience"`
	MetricsEnabled  bool             `json:"metrics_enabled"`
}

// SessionsConfig selects and configures the session store.
type SessionsConfig struct {
	Backend string   `json:"backend"`
	Path    string   `json:"path"`
	TTL     Duration `json:"ttl"`
}

// DatabaseConfig points at the shared SQLite database.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// OrchestratorConfig bounds a single turn.
type OrchestratorConfig struct {
	MaxToolRounds int      `json:"max_tool_rounds"`
	TurnTimeout   Duration `json:"turn_timeout"`
}

// ServerConfig configures the chat adapter.
type ServerConfig struct {
	Addr         string `json:"addr"`
	ChatAPIKey   string `json:"chat_api_key,omitempty"`
	RateLimit    int    `json:"rate_limit_per_minute"`
	AsyncWorkers int    `json:"async_workers"`
	DemoData     bool   `json:"demo_data"`
}

// MCPConfig configures the MCP tool server. Tools defaults to the consumer
// tool set.
type MCPConfig struct {
	Addr   string   `json:"addr"`
	APIKey string   `json:"api_key,omitempty"`
	Tools  []string `json:"tools,omitempty"`
}

// MemoryConfig configures the long-lived memory service.
type MemoryConfig struct {
	Embeddings     bool   `json:"embeddings"`
	EmbeddingModel string `json:"embedding_model"`
}

// Config is the root configuration document.
type Config struct {
	LLM          LLMConfig          `json:"llm"`
	Sessions     SessionsConfig     `json:"sessions"`
	Database     DatabaseConfig     `json:"database"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Server       ServerConfig       `json:"server"`
	MCP          MCPConfig          `json:"mcp"`
	Memory       MemoryConfig       `json:"memory"`
}

//nolint:gochecknoglobals // process-wide configuration, guarded by mu
var (
	current *Config
	mu      sync.RWMutex
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		LLM: LLMConfig{
			Primary:         DefaultPrimaryModel,
			Fallback:        DefaultFallbackModel,
			CacheEnabled:    true,
			CacheBackend:    "sqlite",
			CacheTTL:        Duration(time.Hour),
			CallTimeout:     Duration(60 * time.Second),
			Temperature:     0.7,
			MaxTokens:       1500,
			SessionLimitUSD: 1.0,
			DailyLimitUSD:   5.0,
			Resilience: ResilienceConfig{
				Retry: RetryConfig{
					MaxAttempts:   3,
					InitialDelay:  Duration(100 * time.Millisecond),
					MaxDelay:      Duration(10 * time.Second),
					BackoffFactor: 2.0,
					Jitter:        true,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					SuccessThreshold: 3,
					Timeout:          Duration(30 * time.Second),
				},
				RateLimit: map[string]RateLimitConfig{
					ProviderAnthropic: {TokensPerMinute: 40000, MaxConcurrency: 4, MaxWait: Duration(30 * time.Second)},
					ProviderOpenAI:    {TokensPerMinute: 60000, MaxConcurrency: 4, MaxWait: Duration(30 * time.Second)},
					ProviderGoogle:    {TokensPerMinute: 60000, MaxConcurrency: 4, MaxWait: Duration(30 * time.Second)},
				},
			},
			MetricsEnabled: true,
		},
		Sessions: SessionsConfig{
			Backend: SessionBackendSQLite,
			TTL:     Duration(24 * time.Hour),
		},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Orchestrator: OrchestratorConfig{
			MaxToolRounds: DefaultMaxToolRounds,
			TurnTimeout:   Duration(90 * time.Second),
		},
		Server: ServerConfig{
			Addr:         DefaultServerAddr,
			RateLimit:    DefaultRateLimit,
			AsyncWorkers: DefaultAsyncWorkers,
		},
		MCP: MCPConfig{Addr: DefaultMCPAddr},
		Memory: MemoryConfig{
			Embeddings:     true,
			EmbeddingModel: DefaultEmbeddingModel,
		},
	}
	return cfg
}

// Parse decodes a JSON-with-comments document over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path, creating it with defaults when it does not exist.
// The loaded config becomes the process config returned by Get.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	logger := logx.NewLogger("config")

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg := Default()
		applyEnv(cfg)
		if saveErr := Save(cfg, path); saveErr != nil {
			logger.Warn("could not write default config to %s: %v", path, saveErr)
		} else {
			logger.Info("📝 Created default config at %s", path)
		}
		Set(cfg)
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	applyEnv(cfg)
	Set(cfg)
	logger.Info("📦 Loaded config from %s (primary=%s fallback=%s sessions=%s)",
		path, cfg.LLM.Primary, cfg.LLM.Fallback, cfg.Sessions.Backend)
	return cfg, nil
}

// Save writes cfg as indented JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the process config, or defaults when none was loaded.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return *Default()
	}
	return *current
}

// Set replaces the process config. Tests use it directly.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.LLM.Primary == "" {
		cfg.LLM.Primary = def.LLM.Primary
	}
	if cfg.LLM.CacheBackend == "" {
		cfg.LLM.CacheBackend = def.LLM.CacheBackend
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.MCP.Addr == "" {
		cfg.MCP.Addr = DefaultMCPAddr
	}
	if cfg.Orchestrator.MaxToolRounds <= 0 {
		cfg.Orchestrator.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = SessionBackendSQLite
	}
	if cfg.Sessions.Backend == SessionBackendFile && cfg.Sessions.Path == "" {
		cfg.Sessions.Path = DefaultSessionsFile
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.AsyncWorkers <= 0 {
		cfg.Server.AsyncWorkers = DefaultAsyncWorkers
	}
	if cfg.Memory.EmbeddingModel == "" {
		cfg.Memory.EmbeddingModel = DefaultEmbeddingModel
	}
}

func applyEnv(cfg *Config) {
	if key := os.Getenv(EnvChatAPIKey); key != "" {
		cfg.Server.ChatAPIKey = key
	}
	if key := os.Getenv(EnvMCPAPIKey); key != "" {
		cfg.MCP.APIKey = key
	}
	if v := os.Getenv(EnvMockLLM); v == "1" || strings.EqualFold(v, "true") {
		cfg.LLM.Mock = true
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	for _, id := range []string{c.LLM.Primary, c.LLM.Fallback} {
		if id == "" {
			continue
		}
		if _, _, err := ParseModelID(id); err != nil {
			return err
		}
	}
	switch c.Sessions.Backend {
	case SessionBackendSQLite, SessionBackendFile, SessionBackendMemory:
	default:
		return fmt.Errorf("unknown session backend %q", c.Sessions.Backend)
	}
	switch c.LLM.CacheBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown cache backend %q", c.LLM.CacheBackend)
	}
	if c.LLM.SessionLimitUSD < 0 || c.LLM.DailyLimitUSD < 0 {
		return fmt.Errorf("budget limits must not be negative")
	}
	for provider, rl := range c.LLM.Resilience.RateLimit {
		if rl.TokensPerMinute < 0 || rl.MaxConcurrency < 0 || rl.MaxWait < 0 {
			return fmt.Errorf("rate limit for %s must not be negative", provider)
		}
	}
	for id, p := range c.LLM.Pricing {
		if p.Input < 0 || p.Output < 0 {
			return fmt.Errorf("pricing for %s must not be negative", id)
		}
	}
	return nil
}
