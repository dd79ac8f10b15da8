package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the report service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug bool `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	MaxTopicLength  int           `mapstructure:"max_topic_length"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
}

// Normalize applies defaults for unset server values.
func (s ServerConfig) Normalize() ServerConfig {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address == "" {
		s.Address = ":8000"
	}
	if isPort(s.Address) {
		s.Address = ":" + s.Address
	}
	if s.MaxTopicLength <= 0 {
		s.MaxTopicLength = 2000
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 5 * time.Second
	}
	if len(s.AllowOrigins) == 0 {
		s.AllowOrigins = []string{"*"}
	}
	return s
}

// LLM provider types.
const (
	LLMProviderGemini = "gemini"
	LLMProviderOpenAI = "openai"
)

// LLMConfig describes the single chat model shared by all pipeline agents.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // gemini, openai
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Normalize fills provider specific defaults and picks credentials up from
// the conventional environment variables when the config leaves them empty.
func (l LLMConfig) Normalize() LLMConfig {
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" {
		l.Provider = LLMProviderGemini
	}
	if strings.TrimSpace(l.Model) == "" {
		switch l.Provider {
		case LLMProviderOpenAI:
			l.Model = "gpt-4o-mini"
		default:
			l.Model = "gemini-2.5-flash"
		}
	}
	if l.APIKey == "" {
		switch l.Provider {
		case LLMProviderOpenAI:
			l.APIKey = os.Getenv("OPENAI_API_KEY")
		case LLMProviderGemini:
			l.APIKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
		}
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	if l.MaxRetries < 0 {
		l.MaxRetries = 0
	}
	return l
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case LLMProviderGemini, LLMProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider %q unsupported (gemini|openai)", l.Provider)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	if l.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens cannot be negative")
	}
	return nil
}

// Search provider types.
const (
	SearchProviderTavily = "tavily"
	SearchProviderSerper = "serper"
	SearchProviderBrave  = "brave"
)

// Page fetcher types used for enrichment.
const (
	FetcherHTTP     = "http"
	FetcherChromedp = "chromedp"
)

// SearchConfig contains web search tool settings
type SearchConfig struct {
	Provider          string        `mapstructure:"provider"` // tavily, serper, brave
	APIKey            string        `mapstructure:"api_key"`
	MaxResults        int           `mapstructure:"max_results"`
	Depth             string        `mapstructure:"depth"`
	IncludeAnswer     bool          `mapstructure:"include_answer"`
	IncludeRawContent bool          `mapstructure:"include_raw_content"`
	MaxContentChars   int           `mapstructure:"max_content_chars"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Enrich            bool          `mapstructure:"enrich"`
	Fetcher           string        `mapstructure:"fetcher"` // http, chromedp
}

// Normalize applies defaults for unset search values.
func (s SearchConfig) Normalize() SearchConfig {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = SearchProviderTavily
	}
	if s.APIKey == "" {
		switch s.Provider {
		case SearchProviderTavily:
			s.APIKey = os.Getenv("TAVILY_API_KEY")
		case SearchProviderSerper:
			s.APIKey = os.Getenv("SERPER_API_KEY")
		case SearchProviderBrave:
			s.APIKey = os.Getenv("BRAVE_API_KEY")
		}
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 5
	}
	if strings.TrimSpace(s.Depth) == "" {
		s.Depth = "advanced"
	}
	if s.MaxContentChars <= 0 {
		s.MaxContentChars = 4000
	}
	if s.Timeout <= 0 {
		s.Timeout = 20 * time.Second
	}
	s.Fetcher = strings.ToLower(strings.TrimSpace(s.Fetcher))
	if s.Fetcher == "" {
		s.Fetcher = FetcherHTTP
	}
	return s
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case SearchProviderTavily, SearchProviderSerper, SearchProviderBrave:
	default:
		return fmt.Errorf("search.provider %q unsupported (tavily|serper|brave)", s.Provider)
	}
	switch s.Depth {
	case "basic", "advanced":
	default:
		return fmt.Errorf("search.depth must be basic or advanced")
	}
	switch s.Fetcher {
	case FetcherHTTP, FetcherChromedp:
	default:
		return fmt.Errorf("search.fetcher %q unsupported (http|chromedp)", s.Fetcher)
	}
	if s.MaxResults > 20 {
		return fmt.Errorf("search.max_results must be <= 20")
	}
	return nil
}

// PipelineConfig bounds the researcher/analyst/strategist graph.
type PipelineConfig struct {
	MaxSteps int           `mapstructure:"max_steps"`
	Timeout  time.Duration `mapstructure:"timeout"` // 0 disables the wall clock bound
}

func (p PipelineConfig) Normalize() PipelineConfig {
	if p.MaxSteps <= 0 {
		p.MaxSteps = 20
	}
	if p.Timeout < 0 {
		p.Timeout = 0
	}
	return p
}

// Storage backends for the task store.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      string        `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	if r.TTL < 0 {
		return fmt.Errorf("storage.redis.ttl cannot be negative")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL         string        `mapstructure:"url"`
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	DBName      string        `mapstructure:"dbname"`
	SSLMode     string        `mapstructure:"sslmode"`
	Timeout     time.Duration `mapstructure:"timeout"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string, preferring the explicit url.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// Queue backends used to dispatch submitted tasks.
const (
	QueueLocal = "local"
	QueueRedis = "redis"
)

// QueueConfig controls the worker pool and, for the redis backend, the stream
// that carries submitted tasks between API and worker processes.
type QueueConfig struct {
	Backend        string        `mapstructure:"backend"`
	Workers        int           `mapstructure:"workers"`
	Size           int           `mapstructure:"size"`
	Stream         string        `mapstructure:"stream"`
	Group          string        `mapstructure:"group"`
	Consumer       string        `mapstructure:"consumer"`
	EmbeddedWorker bool          `mapstructure:"embedded_worker"`
	Block          time.Duration `mapstructure:"block"`
	MaxLen         int64         `mapstructure:"max_len"`
	// ReclaimIdle 0 derives a value above pipeline.timeout.
	ReclaimIdle     time.Duration `mapstructure:"reclaim_idle"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	// ShutdownGrace lets running pipelines finish before they are cancelled.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

func (q QueueConfig) Normalize() QueueConfig {
	q.Backend = strings.ToLower(strings.TrimSpace(q.Backend))
	if q.Backend == "" {
		q.Backend = QueueLocal
	}
	if q.Workers <= 0 {
		q.Workers = 4
	}
	if q.Size <= 0 {
		q.Size = 64
	}
	if q.Stream == "" {
		q.Stream = "autostrat.tasks"
	}
	if q.Group == "" {
		q.Group = "autostrat-workers"
	}
	if q.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		q.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if q.Block <= 0 {
		q.Block = 5 * time.Second
	}
	if q.ReclaimInterval <= 0 {
		q.ReclaimInterval = 30 * time.Second
	}
	if q.ShutdownGrace < 0 {
		q.ShutdownGrace = 0
	}
	return q
}

// reclaimIdleFor picks the pending idle threshold for a pipeline timeout so a
// live worker's entry is never taken over mid run.
func reclaimIdleFor(pipelineTimeout time.Duration) time.Duration {
	if pipelineTimeout > 0 {
		return pipelineTimeout + time.Minute
	}
	return 10 * time.Minute
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsPath    string `mapstructure:"metrics_path"`
}

func (t TelemetryConfig) Normalize() TelemetryConfig {
	if t.MetricsPath == "" {
		t.MetricsPath = "/metrics"
	}
	return t
}

// Validate checks cross-section constraints.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageRedis:
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	case StoragePostgres:
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.backend %q unsupported (memory|redis|postgres)", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case QueueLocal:
	case QueueRedis:
		if c.Storage.Backend == StorageMemory {
			return errors.New("queue.backend redis needs a shared storage.backend (redis|postgres)")
		}
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
		if c.Pipeline.Timeout > 0 && c.Queue.ReclaimIdle <= c.Pipeline.Timeout {
			return fmt.Errorf("queue.reclaim_idle (%s) must exceed pipeline.timeout (%s)", c.Queue.ReclaimIdle, c.Pipeline.Timeout)
		}
	default:
		return fmt.Errorf("queue.backend %q unsupported (local|redis)", c.Queue.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.max_topic_length", 2000)
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("llm.provider", LLMProviderGemini)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("search.provider", SearchProviderTavily)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.depth", "advanced")
	v.SetDefault("search.include_answer", true)
	v.SetDefault("search.include_raw_content", true)
	v.SetDefault("search.max_content_chars", 4000)
	v.SetDefault("search.timeout", "20s")
	v.SetDefault("search.enrich", false)
	v.SetDefault("search.fetcher", FetcherHTTP)
	v.SetDefault("pipeline.max_steps", 20)
	v.SetDefault("pipeline.timeout", "0s")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.redis.key_prefix", "autostrat")
	v.SetDefault("storage.redis.ttl", "0s")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")
	v.SetDefault("storage.postgres.auto_migrate", true)
	v.SetDefault("queue.backend", QueueLocal)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.size", 64)
	v.SetDefault("queue.stream", "autostrat.tasks")
	v.SetDefault("queue.group", "autostrat-workers")
	v.SetDefault("queue.consumer", "")
	v.SetDefault("queue.embedded_worker", true)
	v.SetDefault("queue.block", "5s")
	v.SetDefault("queue.max_len", 10000)
	v.SetDefault("queue.reclaim_idle", "0s")
	v.SetDefault("queue.reclaim_interval", "30s")
	v.SetDefault("queue.shutdown_grace", "0s")
	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.metrics_path", "/metrics")
}

// LoadConfig loads config from file, .env and AUTOSTRAT_* environment
// variables. A missing config file is not an error.
func LoadConfig(path string) (*Config, error) {
	// .env never overrides variables that are already set
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("AUTOSTRAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Server = c.Server.Normalize()
	c.LLM = c.LLM.Normalize()
	c.Search = c.Search.Normalize()
	c.Pipeline = c.Pipeline.Normalize()
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "autostrat"
	}
	c.Queue = c.Queue.Normalize()
	if c.Queue.ReclaimIdle <= 0 {
		c.Queue.ReclaimIdle = reclaimIdleFor(c.Pipeline.Timeout)
	}
	c.Telemetry = c.Telemetry.Normalize()
}

// Default returns a normalized configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return &cfg
}

func isPort(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
