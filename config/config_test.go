package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":8000" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Server.MaxTopicLength != 2000 {
		t.Fatalf("unexpected max topic length %d", cfg.Server.MaxTopicLength)
	}
	if cfg.LLM.Provider != LLMProviderGemini || cfg.LLM.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected llm defaults %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", cfg.LLM.Temperature)
	}
	if cfg.Search.Provider != SearchProviderTavily || cfg.Search.MaxResults != 5 || cfg.Search.Depth != "advanced" {
		t.Fatalf("unexpected search defaults %+v", cfg.Search)
	}
	if !cfg.Search.IncludeAnswer || !cfg.Search.IncludeRawContent {
		t.Fatalf("expected answer and raw content enabled")
	}
	if cfg.Pipeline.MaxSteps != 20 {
		t.Fatalf("unexpected max steps %d", cfg.Pipeline.MaxSteps)
	}
	if cfg.Storage.Backend != StorageMemory || cfg.Queue.Backend != QueueLocal {
		t.Fatalf("unexpected backends %q/%q", cfg.Storage.Backend, cfg.Queue.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "server": {"address": "9090", "max_topic_length": 120},
  "llm": {"provider": "openai", "api_key": "sk-file"},
  "pipeline": {"max_steps": 8},
  "storage": {"backend": "postgres", "postgres": {"url": "postgres://u:p@db:5432/autostrat?sslmode=disable"}}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUTOSTRAT_PIPELINE_MAX_STEPS", "12")
	t.Setenv("AUTOSTRAT_SEARCH_PROVIDER", "serper")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.Server.Address)
	}
	if cfg.Server.MaxTopicLength != 120 {
		t.Fatalf("expected 120, got %d", cfg.Server.MaxTopicLength)
	}
	if cfg.LLM.Provider != LLMProviderOpenAI || cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.APIKey != "sk-file" {
		t.Fatalf("unexpected llm %+v", cfg.LLM)
	}
	if cfg.Pipeline.MaxSteps != 12 {
		t.Fatalf("env override not applied, got %d", cfg.Pipeline.MaxSteps)
	}
	if cfg.Search.Provider != SearchProviderSerper {
		t.Fatalf("env override not applied, got %q", cfg.Search.Provider)
	}
	if cfg.Storage.Postgres.DSN() != "postgres://u:p@db:5432/autostrat?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", cfg.Storage.Postgres.DSN())
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLLMKeyFallback(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")

	gem := LLMConfig{}.Normalize()
	if gem.APIKey != "g-key" {
		t.Fatalf("expected google key, got %q", gem.APIKey)
	}
	oa := LLMConfig{Provider: "OpenAI"}.Normalize()
	if oa.Provider != LLMProviderOpenAI || oa.APIKey != "o-key" {
		t.Fatalf("unexpected openai normalize %+v", oa)
	}
	explicit := LLMConfig{APIKey: "mine"}.Normalize()
	if explicit.APIKey != "mine" {
		t.Fatalf("explicit key overwritten: %q", explicit.APIKey)
	}
}

func TestSearchKeyFallback(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "tv")
	t.Setenv("BRAVE_API_KEY", "bv")
	if got := (SearchConfig{}).Normalize().APIKey; got != "tv" {
		t.Fatalf("expected tavily key, got %q", got)
	}
	if got := (SearchConfig{Provider: "brave"}).Normalize().APIKey; got != "bv" {
		t.Fatalf("expected brave key, got %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"llm provider", func(c *Config) { c.LLM.Provider = "claude" }, "llm.provider"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"search provider", func(c *Config) { c.Search.Provider = "bing" }, "search.provider"},
		{"depth", func(c *Config) { c.Search.Depth = "deep" }, "search.depth"},
		{"fetcher", func(c *Config) { c.Search.Fetcher = "curl" }, "search.fetcher"},
		{"storage", func(c *Config) { c.Storage.Backend = "sqlite" }, "storage.backend"},
		{"postgres", func(c *Config) { c.Storage.Backend = StoragePostgres }, "storage.postgres.host"},
		{"redis queue memory store", func(c *Config) { c.Queue.Backend = QueueRedis }, "shared storage"},
		{"queue", func(c *Config) { c.Queue.Backend = "kafka" }, "queue.backend"},
		{"reclaim idle under pipeline timeout", func(c *Config) {
			c.Storage.Backend = StorageRedis
			c.Queue.Backend = QueueRedis
			c.Pipeline.Timeout = 10 * time.Minute
			c.Queue.ReclaimIdle = 5 * time.Minute
		}, "queue.reclaim_idle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestRedisQueueWithRedisStore(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = StorageRedis
	cfg.Queue.Backend = QueueRedis
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Redis.Addr() != "localhost:6379" {
		t.Fatalf("unexpected addr %q", cfg.Storage.Redis.Addr())
	}
}

func TestPostgresDSNFromParts(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "tasks"}
	if got := p.DSN(); got != "postgres://u:p@db:5432/tasks?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestQueueNormalizeDefaults(t *testing.T) {
	q := QueueConfig{}.Normalize()
	if q.Workers != 4 || q.Size != 64 || q.Block != 5*time.Second {
		t.Fatalf("unexpected queue defaults %+v", q)
	}
	if q.Consumer == "" {
		t.Fatalf("expected consumer name")
	}
}

func TestQueueReclaimAndGraceDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Queue.ReclaimIdle != 10*time.Minute || cfg.Queue.ReclaimInterval != 30*time.Second {
		t.Fatalf("unexpected reclaim defaults %+v", cfg.Queue)
	}
	if cfg.Queue.ShutdownGrace != 0 {
		t.Fatalf("unexpected shutdown grace %s", cfg.Queue.ShutdownGrace)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"pipeline": {"timeout": "15m"}, "queue": {"shutdown_grace": "20s"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Queue.ReclaimIdle != 16*time.Minute {
		t.Fatalf("expected reclaim idle above pipeline timeout, got %s", cfg.Queue.ReclaimIdle)
	}
	if cfg.Queue.ShutdownGrace != 20*time.Second {
		t.Fatalf("unexpected shutdown grace %s", cfg.Queue.ShutdownGrace)
	}
}

func TestServerAddressNormalize(t *testing.T) {
	cases := map[string]string{
		"":               ":8000",
		"8080":           ":8080",
		":9000":          ":9000",
		"localhost":      "localhost",
		"localhost:8080": "localhost:8080",
		" 0.0.0.0:80 ":   "0.0.0.0:80",
	}
	for in, want := range cases {
		if got := (ServerConfig{Address: in}).Normalize().Address; got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
