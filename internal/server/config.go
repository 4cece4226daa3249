package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/digestchat/internal/history"
	"github.com/Tyrowin/digestchat/internal/identity"
	"github.com/Tyrowin/digestchat/internal/retrieval"
	"github.com/Tyrowin/digestchat/internal/summarizer"
)

// ConfigEnvVar names the environment variable holding the config file path.
const ConfigEnvVar = "DIGESTCHAT_CONFIG"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// HistoryConfig selects and addresses the history backend.
type HistoryConfig struct {
	// Backend is one of memory, mongo, postgres or redis.
	Backend     string `yaml:"backend"`
	DSN         string `yaml:"dsn"`
	Database    string `yaml:"database"`
	Index       string `yaml:"index"`
	ReplayLimit int    `yaml:"replay_limit"`
}

// SummarizerConfig selects the summarization backend.
type SummarizerConfig struct {
	// Backend is http or openai.
	Backend string        `yaml:"backend"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
}

// RetrievalConfig controls related-document lookup for summaries.
type RetrievalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	TopK       int    `yaml:"top_k"`
}

// IdentityConfig configures the identity cookie.
type IdentityConfig struct {
	Cookie string `yaml:"cookie"`
	Secret string `yaml:"secret"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings.
type Config struct {
	Port            string          `yaml:"port"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	SendBufferSize  int             `yaml:"send_buffer_size"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	DefaultRoom     string          `yaml:"default_room"`
	ReplayMode      ReplayMode      `yaml:"replay_mode"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`

	Trigger    TriggerPolicy    `yaml:"trigger"`
	Notices    Notices          `yaml:"notices"`
	History    HistoryConfig    `yaml:"history"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Identity   IdentityConfig   `yaml:"identity"`
	Log        LogConfig        `yaml:"log"`
}

// defaultSummarizerURL is the summarization service address used by the http
// backend when none is configured. The openai backend treats URL as an API
// base URL, so the default is applied in Sanitize rather than up front.
const defaultSummarizerURL = "http://localhost:8502"

func defaultConfig() Config {
	return Config{
		Port: ":30001",
		AllowedOrigins: []string{
			"http://localhost:30001",
		},
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		DefaultRoom:     noticeLocation,
		ReplayMode:      ReplayBroadcast,
		ShutdownTimeout: 30 * time.Second,
		Trigger:         DefaultTriggerPolicy(),
		Notices:         DefaultNotices(),
		History: HistoryConfig{
			Backend:     "memory",
			Database:    "digestchat",
			Index:       history.DefaultIndex,
			ReplayLimit: history.DefaultReplayLimit,
		},
		Summarizer: SummarizerConfig{
			Backend: "http",
			Timeout: summarizer.DefaultTimeout,
		},
		Retrieval: RetrievalConfig{
			Collection: retrieval.DefaultCollection,
			TopK:       retrieval.DefaultTopK,
		},
		Identity: IdentityConfig{
			Cookie: identity.DefaultCookieName,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Sanitize returns a copy of cfg with every invalid or missing value replaced
// by its default.
func (cfg Config) Sanitize() Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = def.DefaultRoom
	}
	if cfg.ReplayMode != ReplayBroadcast && cfg.ReplayMode != ReplayDirect {
		cfg.ReplayMode = def.ReplayMode
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	if cfg.Trigger.HardLimit <= 0 {
		cfg.Trigger.HardLimit = def.Trigger.HardLimit
	}
	if cfg.Trigger.SoftLimit <= 0 || cfg.Trigger.SoftLimit > cfg.Trigger.HardLimit {
		cfg.Trigger.SoftLimit = min(def.Trigger.SoftLimit, cfg.Trigger.HardLimit)
	}
	if cfg.Trigger.Window <= 0 {
		cfg.Trigger.Window = def.Trigger.Window
	}
	if cfg.Notices.Join == "" {
		cfg.Notices.Join = def.Notices.Join
	}
	if cfg.Notices.Leave == "" {
		cfg.Notices.Leave = def.Notices.Leave
	}

	switch cfg.History.Backend {
	case "memory", "mongo", "postgres", "redis":
	default:
		cfg.History.Backend = def.History.Backend
	}
	if cfg.History.Database == "" {
		cfg.History.Database = def.History.Database
	}
	if cfg.History.Index == "" {
		cfg.History.Index = def.History.Index
	}
	if cfg.History.ReplayLimit <= 0 {
		cfg.History.ReplayLimit = def.History.ReplayLimit
	}

	if cfg.Summarizer.Backend != "http" && cfg.Summarizer.Backend != "openai" {
		cfg.Summarizer.Backend = def.Summarizer.Backend
	}
	if cfg.Summarizer.URL == "" && cfg.Summarizer.Backend == "http" {
		cfg.Summarizer.URL = defaultSummarizerURL
	}
	if cfg.Summarizer.Timeout <= 0 {
		cfg.Summarizer.Timeout = def.Summarizer.Timeout
	}

	if cfg.Retrieval.Collection == "" {
		cfg.Retrieval.Collection = def.Retrieval.Collection
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Identity.Cookie == "" {
		cfg.Identity.Cookie = def.Identity.Cookie
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		cfg.Log.Format = def.Log.Format
	}
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads a YAML file over the defaults. Keys absent from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	ApplyEnv(&cfg)
	return &cfg
}

// ApplyEnv overrides cfg with any recognised environment variables.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}
	if backend := os.Getenv("HISTORY_BACKEND"); backend != "" {
		cfg.History.Backend = backend
	}
	if dsn := os.Getenv("HISTORY_DSN"); dsn != "" {
		cfg.History.DSN = dsn
	}
	if backend := os.Getenv("SUMMARIZER_BACKEND"); backend != "" {
		cfg.Summarizer.Backend = backend
	}
	if url := os.Getenv("SUMMARIZER_URL"); url != "" {
		cfg.Summarizer.URL = url
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Summarizer.APIKey = key
	}
	if secret := os.Getenv("IDENTITY_SECRET"); secret != "" {
		cfg.Identity.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts a duration ("500ms") or a whole number of seconds.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
